package service

import (
	"context"
	"fmt"
	"time"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// MarkDeceasedResult summarizes one death cascade.
type MarkDeceasedResult struct {
	PersonID         id.EntityID          `json:"person_id"`
	EndedEdges       int                  `json:"ended_edges"`
	AffectedContexts []id.ReviewContextID `json:"affected_contexts"`
}

// MarkDeceased ends every open ownership/control edge the person holds,
// forces the affected verification records to unverified, clears the
// person's beneficial-owner flags, and writes one audit entry per
// affected review context. One transaction: a failure at any step leaves
// no partial cascade.
func (s *Service) MarkDeceased(ctx context.Context, personID id.EntityID, dateOfDeath time.Time, reason string) (result MarkDeceasedResult, err error) {
	ctx, span := s.startSpan(ctx, "ubo.MarkDeceased")
	defer span.End()
	defer func() { s.metrics.RecordOperation("mark_deceased", err) }()

	person, err := s.registry.Get(ctx, personID)
	if err != nil {
		return MarkDeceasedResult{}, dErrors.Wrap(err, dErrors.CodeNotFound, "person not found")
	}
	if !person.IsNaturalPerson() {
		return MarkDeceasedResult{}, dErrors.New(dErrors.CodeValidation,
			"mark-deceased requires a natural person")
	}

	result.PersonID = personID
	note := fmt.Sprintf("Owner deceased on %s: %s", dateOfDeath.Format("2006-01-02"), reason)
	now := requestcontext.Now(ctx)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		rels, err := s.store.ListOpenRelationshipsFrom(ctx, personID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list relationships")
		}

		contexts := make(map[id.ReviewContextID]int)
		for _, rel := range rels {
			if err := s.store.EndRelationship(ctx, rel.ID, dateOfDeath); err != nil {
				return err
			}
			recs, err := s.store.ListVerificationsByRelationship(ctx, rel.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verification records")
			}
			for _, rec := range recs {
				rec.Status = models.StatusUnverified
				rec.DiscrepancyNotes = note
				rec.UpdatedAt = now
				if err := s.store.UpdateVerification(ctx, rec); err != nil {
					return err
				}
				contexts[rec.ContextID]++
			}
		}

		if err := s.cases.ClearBeneficialOwner(ctx, personID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear beneficial-owner flags")
		}

		for ctxID, edges := range contexts {
			entry := models.AssertionLogEntry{
				ContextID: ctxID,
				Kind:      "owner_deceased",
				Expected:  "cascade",
				Actual:    "cascade",
				Passed:    true,
				Detail: map[string]any{
					"person_id":     personID.String(),
					"date_of_death": dateOfDeath.Format("2006-01-02"),
					"reason":        reason,
					"edges":         edges,
				},
				CheckedAt: now,
				CheckedBy: requestcontext.Actor(ctx),
			}
			if err := s.store.AppendAssertion(ctx, entry); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
			}
			result.AffectedContexts = append(result.AffectedContexts, ctxID)
		}
		result.EndedEdges = len(rels)
		return nil
	})
	if err != nil {
		return MarkDeceasedResult{}, err
	}

	s.metrics.RecordCascade("mark_deceased")
	s.logger.InfoContext(ctx, "owner marked deceased",
		"person_id", personID,
		"ended_edges", result.EndedEdges,
	)
	return result, nil
}

// SupersedeParams replaces an ownership edge with a successor owner.
type SupersedeParams struct {
	ContextID         id.ReviewContextID
	OldRelationshipID id.RelationshipID
	NewOwnerID        id.EntityID
	Percentage        *float64
	EffectiveDate     time.Time
	Reason            string
}

// Supersede ends the old relationship, waives its verification (it is no
// longer the live fact, so it must not count against convergence), and
// creates the successor edge with a fresh alleged verification record.
func (s *Service) Supersede(ctx context.Context, params SupersedeParams) (successor models.Relationship, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Supersede")
	defer span.End()
	defer func() { s.metrics.RecordOperation("supersede", err) }()

	oldRel, err := s.store.GetRelationship(ctx, params.OldRelationshipID)
	if err != nil {
		return models.Relationship{}, err
	}
	if _, err := s.registry.Get(ctx, params.NewOwnerID); err != nil {
		return models.Relationship{}, dErrors.Wrap(err, dErrors.CodeNotFound, "new owner not found")
	}

	pct := params.Percentage
	if pct == nil {
		pct = oldRel.Percentage
	}

	successor, err = s.replaceEdge(ctx, replaceEdgeParams{
		contextID:  params.ContextID,
		oldRel:     oldRel,
		newFrom:    params.NewOwnerID,
		percentage: pct,
		effective:  params.EffectiveDate,
		reason:     params.Reason,
		auditKind:  "ownership_superseded",
	})
	if err != nil {
		return models.Relationship{}, err
	}

	s.metrics.RecordCascade("supersede")
	return successor, nil
}

// TransferControlParams moves a control edge to a new controller.
type TransferControlParams struct {
	ContextID        id.ReviewContextID
	FromEntityID     id.EntityID
	ToEntityID       id.EntityID
	ControlledEntity id.EntityID
	ControlType      string
	EffectiveDate    time.Time
	Reason           string
}

// TransferControl is the control-edge analogue of Supersede: the open
// edge matching (from, controlled, control_type) ends and the new
// controller takes over with a fresh alleged record.
func (s *Service) TransferControl(ctx context.Context, params TransferControlParams) (successor models.Relationship, err error) {
	ctx, span := s.startSpan(ctx, "ubo.TransferControl")
	defer span.End()
	defer func() { s.metrics.RecordOperation("transfer_control", err) }()

	controlType := models.ControlType(params.ControlType)
	if !controlType.IsValid() {
		return models.Relationship{}, dErrors.New(dErrors.CodeValidation,
			"invalid control type: "+params.ControlType)
	}
	if _, err := s.registry.Get(ctx, params.ToEntityID); err != nil {
		return models.Relationship{}, dErrors.Wrap(err, dErrors.CodeNotFound, "new controller not found")
	}

	oldRel, err := s.store.FindOpenControlEdge(ctx, params.FromEntityID, params.ControlledEntity, controlType)
	if err != nil {
		return models.Relationship{}, err
	}

	successor, err = s.replaceEdge(ctx, replaceEdgeParams{
		contextID:  params.ContextID,
		oldRel:     oldRel,
		newFrom:    params.ToEntityID,
		percentage: oldRel.Percentage,
		effective:  params.EffectiveDate,
		reason:     params.Reason,
		auditKind:  "control_transferred",
	})
	if err != nil {
		return models.Relationship{}, err
	}

	s.metrics.RecordCascade("transfer_control")
	return successor, nil
}

type replaceEdgeParams struct {
	contextID  id.ReviewContextID
	oldRel     models.Relationship
	newFrom    id.EntityID
	percentage *float64
	effective  time.Time
	reason     string
	auditKind  string
}

// replaceEdge is the shared supersession mechanics: end old, waive old
// verification, create successor with an alleged record, audit. One
// transaction.
func (s *Service) replaceEdge(ctx context.Context, params replaceEdgeParams) (models.Relationship, error) {
	now := requestcontext.Now(ctx)
	successor := models.Relationship{
		ID:            id.NewRelationshipID(),
		FromEntityID:  params.newFrom,
		ToEntityID:    params.oldRel.ToEntityID,
		Kind:          params.oldRel.Kind,
		Percentage:    params.percentage,
		ControlType:   params.oldRel.ControlType,
		TrustRole:     params.oldRel.TrustRole,
		InterestType:  params.oldRel.InterestType,
		EffectiveFrom: params.effective,
		Source:        params.reason,
		CreatedAt:     now,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.EndRelationship(ctx, params.oldRel.ID, params.effective); err != nil {
			return err
		}

		rec, err := s.store.GetVerification(ctx, params.contextID, params.oldRel.ID)
		if err == nil {
			rec.Status = models.StatusWaived
			rec.DiscrepancyNotes = fmt.Sprintf("Superseded on %s: %s",
				params.effective.Format("2006-01-02"), params.reason)
			rec.UpdatedAt = now
			if err := s.store.UpdateVerification(ctx, rec); err != nil {
				return err
			}
		} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return err
		}

		if err := s.store.CreateRelationship(ctx, successor); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create successor relationship")
		}

		allegedAt := now
		if _, err := s.store.UpsertVerification(ctx, models.VerificationRecord{
			ContextID:         params.contextID,
			RelationshipID:    successor.ID,
			AllegedPercentage: params.percentage,
			AllegationSource:  params.reason,
			AllegedAt:         &allegedAt,
			Status:            models.StatusAlleged,
			CreatedAt:         now,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create successor verification")
		}

		entry := models.AssertionLogEntry{
			ContextID: params.contextID,
			Kind:      params.auditKind,
			Expected:  "cascade",
			Actual:    "cascade",
			Passed:    true,
			Detail: map[string]any{
				"old_relationship_id": params.oldRel.ID.String(),
				"new_relationship_id": successor.ID.String(),
				"new_from_entity_id":  params.newFrom.String(),
				"effective_date":      params.effective.Format("2006-01-02"),
				"reason":              params.reason,
			},
			CheckedAt: now,
			CheckedBy: requestcontext.Actor(ctx),
		}
		if err := s.store.AppendAssertion(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}
		return nil
	})
	if err != nil {
		return models.Relationship{}, err
	}
	return successor, nil
}

// WaiveParams bypasses documentary verification for one edge.
type WaiveParams struct {
	ContextID      id.ReviewContextID
	RelationshipID id.RelationshipID
	WaiverType     string
	Reason         string
	ApprovedBy     string
	Expires        *time.Time
}

// WaiveVerification sets the record to waived. The edge counts as
// converged; the typed expiry feeds the no_expired_waivers check, and
// the structured note keeps the full approval trail readable in audit
// exports.
func (s *Service) WaiveVerification(ctx context.Context, params WaiveParams) (rec models.VerificationRecord, err error) {
	ctx, span := s.startSpan(ctx, "ubo.WaiveVerification")
	defer span.End()
	defer func() { s.metrics.RecordOperation("waive_verification", err) }()

	waiverType, err := models.ParseWaiverType(params.WaiverType)
	if err != nil {
		return models.VerificationRecord{}, err
	}
	if params.ApprovedBy == "" {
		return models.VerificationRecord{}, dErrors.New(dErrors.CodeInvalidInput, "approver is required")
	}

	rec, err = s.store.GetVerification(ctx, params.ContextID, params.RelationshipID)
	if err != nil {
		return models.VerificationRecord{}, err
	}

	expiresText := "none"
	if params.Expires != nil {
		expiresText = params.Expires.Format("2006-01-02")
	}
	now := requestcontext.Now(ctx)
	resolvedAt := now

	rec.Status = models.StatusWaived
	rec.WaivedUntil = params.Expires
	rec.ResolvedAt = &resolvedAt
	rec.ResolvedBy = params.ApprovedBy
	rec.DiscrepancyNotes = fmt.Sprintf("WAIVER [%s]: %s | Approved by: %s | Expires: %s",
		waiverType, params.Reason, params.ApprovedBy, expiresText)
	rec.UpdatedAt = now

	if err := s.store.UpdateVerification(ctx, rec); err != nil {
		return models.VerificationRecord{}, err
	}
	rec.Version++

	s.metrics.RecordCascade("waive_verification")
	s.logger.InfoContext(ctx, "verification waived",
		"context_id", params.ContextID,
		"relationship_id", params.RelationshipID,
		"waiver_type", waiverType,
	)
	return rec, nil
}
