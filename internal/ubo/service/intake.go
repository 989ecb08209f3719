package service

import (
	"context"
	"time"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// AllegeParams carries one client-asserted relationship fact.
type AllegeParams struct {
	ContextID    id.ReviewContextID
	FromEntityID id.EntityID
	ToEntityID   id.EntityID
	Kind         string
	Percentage   *float64
	ControlType  *string
	TrustRole    *string
	InterestType *string
	Source       string
	AllegedBy    string
}

// AllegeResult is the stored edge plus resolved display names.
type AllegeResult struct {
	Relationship models.Relationship       `json:"relationship"`
	Verification models.VerificationRecord `json:"verification"`
	FromName     string                    `json:"from_name"`
	ToName       string                    `json:"to_name"`
}

// Allege upserts the structural relationship and its verification record
// in one transaction. Re-alleging the same edge refreshes the allegation
// snapshot instead of duplicating rows; a proven record regresses to
// alleged only when the new claim contradicts the observed value.
func (s *Service) Allege(ctx context.Context, params AllegeParams) (result AllegeResult, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Allege")
	defer span.End()
	defer func() { s.metrics.RecordOperation("allege", err) }()

	kind, err := models.ParseRelationshipKind(params.Kind)
	if err != nil {
		return AllegeResult{}, err
	}
	var controlType *models.ControlType
	if params.ControlType != nil {
		ct := models.ControlType(*params.ControlType)
		if !ct.IsValid() {
			return AllegeResult{}, dErrors.New(dErrors.CodeValidation, "invalid control type: "+*params.ControlType)
		}
		controlType = &ct
	}

	from, err := s.registry.Get(ctx, params.FromEntityID)
	if err != nil {
		return AllegeResult{}, dErrors.Wrap(err, dErrors.CodeNotFound, "from entity not found")
	}
	to, err := s.registry.Get(ctx, params.ToEntityID)
	if err != nil {
		return AllegeResult{}, dErrors.Wrap(err, dErrors.CodeNotFound, "to entity not found")
	}

	now := requestcontext.Now(ctx)
	rel := models.Relationship{
		ID:            id.NewRelationshipID(),
		FromEntityID:  params.FromEntityID,
		ToEntityID:    params.ToEntityID,
		Kind:          kind,
		Percentage:    params.Percentage,
		ControlType:   controlType,
		TrustRole:     params.TrustRole,
		InterestType:  params.InterestType,
		EffectiveFrom: now,
		Source:        params.Source,
		CreatedAt:     now,
	}
	if err := rel.Validate(); err != nil {
		return AllegeResult{}, err
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		stored, err := s.store.UpsertRelationship(ctx, rel)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store relationship")
		}

		allegedAt := now
		rec, err := s.store.UpsertVerification(ctx, models.VerificationRecord{
			ContextID:         params.ContextID,
			RelationshipID:    stored.ID,
			AllegedPercentage: params.Percentage,
			AllegedBy:         params.AllegedBy,
			AllegationSource:  params.Source,
			AllegedAt:         &allegedAt,
			Status:            models.StatusAlleged,
			CreatedAt:         now,
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification record")
		}

		result = AllegeResult{
			Relationship: stored,
			Verification: rec,
			FromName:     from.Name,
			ToName:       to.Name,
		}
		return nil
	})
	if err != nil {
		return AllegeResult{}, err
	}

	s.logger.InfoContext(ctx, "relationship alleged",
		"context_id", params.ContextID,
		"relationship_id", result.Relationship.ID,
		"kind", kind,
	)
	return result, nil
}

// LinkProofParams attaches a document to an alleged edge.
type LinkProofParams struct {
	ContextID      id.ReviewContextID
	RelationshipID id.RelationshipID
	DocumentID     id.DocumentID
	ProofType      string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
}

// LinkProof records a proof and moves the verification record to
// pending. The transition is unconditional: fresh evidence sends a
// disputed or previously proven edge back through verification. An
// allegation for the edge has to exist, and the document must still be
// within its validity window.
func (s *Service) LinkProof(ctx context.Context, params LinkProofParams) (proof models.Proof, err error) {
	ctx, span := s.startSpan(ctx, "ubo.LinkProof")
	defer span.End()
	defer func() { s.metrics.RecordOperation("link_proof", err) }()

	now := requestcontext.Now(ctx)
	if params.ValidUntil != nil && params.ValidUntil.Before(now) {
		return models.Proof{}, dErrors.New(dErrors.CodeInvariantViolation,
			"proof has expired: valid_until is in the past")
	}
	if params.ProofType == "" {
		return models.Proof{}, dErrors.New(dErrors.CodeInvalidInput, "proof type is required")
	}

	rec, err := s.store.GetVerification(ctx, params.ContextID, params.RelationshipID)
	if err != nil {
		return models.Proof{}, dErrors.Wrap(err, dErrors.CodeNotFound,
			"no allegation exists for this relationship in this context")
	}

	proof = models.Proof{
		ID:             id.NewProofID(),
		ContextID:      params.ContextID,
		RelationshipID: params.RelationshipID,
		DocumentID:     params.DocumentID,
		ProofType:      params.ProofType,
		ValidFrom:      params.ValidFrom,
		ValidUntil:     params.ValidUntil,
		Status:         models.ProofPending,
		CreatedAt:      now,
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateProof(ctx, proof); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proof")
		}

		docID := params.DocumentID
		rec.ProofDocumentID = &docID
		rec.Status = models.StatusPending
		rec.UpdatedAt = now
		if err := s.store.UpdateVerification(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification record")
		}
		return nil
	})
	if err != nil {
		return models.Proof{}, err
	}

	s.logger.InfoContext(ctx, "proof linked",
		"context_id", params.ContextID,
		"relationship_id", params.RelationshipID,
		"proof_type", params.ProofType,
	)
	return proof, nil
}

// UpdateAllegation revises the alleged percentage. The structural fact is
// kept consistent, and a previously resolved record (proven with a now
// contradicted value, or disputed) drops back to pending for re-check.
func (s *Service) UpdateAllegation(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID, percentage *float64) (rec models.VerificationRecord, err error) {
	ctx, span := s.startSpan(ctx, "ubo.UpdateAllegation")
	defer span.End()
	defer func() { s.metrics.RecordOperation("update_allegation", err) }()

	if percentage != nil && (*percentage < 0 || *percentage > 100) {
		return models.VerificationRecord{}, dErrors.New(dErrors.CodeValidation,
			"percentage must be between 0 and 100")
	}

	rec, err = s.store.GetVerification(ctx, ctxID, relID)
	if err != nil {
		return models.VerificationRecord{}, err
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if percentage != nil {
			rec.AllegedPercentage = percentage
			allegedAt := now
			rec.AllegedAt = &allegedAt

			switch rec.Status {
			case models.StatusProven:
				if rec.ObservedPercentage == nil || *rec.ObservedPercentage != *percentage {
					rec.Status = models.StatusPending
				}
			case models.StatusDisputed:
				rec.Status = models.StatusPending
			}
		}
		rec.UpdatedAt = now
		if err := s.store.UpdateVerification(ctx, rec); err != nil {
			return err
		}
		rec.Version++

		if percentage != nil {
			if err := s.store.SetRelationshipPercentage(ctx, relID, *percentage, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update relationship percentage")
			}
		}
		return nil
	})
	if err != nil {
		return models.VerificationRecord{}, err
	}
	return rec, nil
}

// RemoveEdge deletes the verification records and then the relationship,
// and appends an edge_removed audit entry capturing the removed shape.
// Raw correction path; lifecycle cascades end edges instead of deleting.
func (s *Service) RemoveEdge(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID, reason string) (err error) {
	ctx, span := s.startSpan(ctx, "ubo.RemoveEdge")
	defer span.End()
	defer func() { s.metrics.RecordOperation("remove_edge", err) }()

	rel, err := s.store.GetRelationship(ctx, relID)
	if err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	detail := map[string]any{
		"relationship_id": rel.ID.String(),
		"from_entity_id":  rel.FromEntityID.String(),
		"to_entity_id":    rel.ToEntityID.String(),
		"kind":            rel.Kind.String(),
		"reason":          reason,
	}
	if rel.Percentage != nil {
		detail["percentage"] = *rel.Percentage
	}

	return s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteVerificationsByRelationship(ctx, relID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete verification records")
		}
		if err := s.store.DeleteRelationship(ctx, relID); err != nil {
			return err
		}
		entry := models.AssertionLogEntry{
			ContextID: ctxID,
			Kind:      "edge_removed",
			Expected:  "removed",
			Actual:    "removed",
			Passed:    true,
			Detail:    detail,
			CheckedAt: now,
			CheckedBy: requestcontext.Actor(ctx),
		}
		if err := s.store.AppendAssertion(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}
		return nil
	})
}
