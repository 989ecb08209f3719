package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// VerifyParams compares an edge's allegation against observed evidence.
type VerifyParams struct {
	ContextID      id.ReviewContextID
	RelationshipID id.RelationshipID
	// ObservedPercentage overrides the relationship's structural
	// percentage as the comparison value.
	ObservedPercentage *float64
	ResolvedBy         string
}

// Discrepancy describes one attribute where allegation and observation
// disagree beyond tolerance.
type Discrepancy struct {
	Attribute  string  `json:"attribute"`
	Alleged    float64 `json:"alleged"`
	Observed   float64 `json:"observed"`
	Difference float64 `json:"difference"`
}

// VerifyResult reports the resolution of one verify call.
type VerifyResult struct {
	Status        models.VerificationStatus `json:"status"`
	Matched       []string                  `json:"matched,omitempty"`
	Discrepancies []Discrepancy             `json:"discrepancies,omitempty"`
	Observed      *float64                  `json:"observed,omitempty"`
	UBOFlagged    *bool                     `json:"ubo_flagged,omitempty"`
}

// Verify reconciles the alleged value against the observed one. Within
// tolerance the record becomes proven and the observed value is mirrored
// into the structural fact; beyond tolerance it becomes disputed with
// per-attribute discrepancy notes. A proven ownership edge from a natural
// person triggers beneficial-owner synchronization.
func (s *Service) Verify(ctx context.Context, params VerifyParams) (result VerifyResult, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Verify")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.RecordOperation("verify", err)
		s.metrics.ObserveVerify(time.Since(start))
	}()

	rel, err := s.store.GetRelationship(ctx, params.RelationshipID)
	if err != nil {
		return VerifyResult{}, err
	}
	rec, err := s.store.GetVerification(ctx, params.ContextID, params.RelationshipID)
	if err != nil {
		return VerifyResult{}, err
	}
	if rec.ProofDocumentID == nil {
		return VerifyResult{}, dErrors.New(dErrors.CodeInvariantViolation,
			"no proof linked: link a proof before verifying")
	}

	observed := params.ObservedPercentage
	if observed == nil {
		observed = rel.Percentage
	}
	if observed == nil {
		return VerifyResult{}, dErrors.New(dErrors.CodeInvalidInput,
			"no observed value available for comparison")
	}

	now := requestcontext.Now(ctx)
	resolvedAt := now
	rec.ObservedPercentage = observed
	rec.ResolvedAt = &resolvedAt
	rec.ResolvedBy = params.ResolvedBy
	rec.UpdatedAt = now

	var discrepancies []Discrepancy
	if rec.AllegedPercentage != nil {
		diff := math.Abs(*rec.AllegedPercentage - *observed)
		if diff > s.policy.PercentTolerance {
			discrepancies = append(discrepancies, Discrepancy{
				Attribute:  "percentage",
				Alleged:    *rec.AllegedPercentage,
				Observed:   *observed,
				Difference: diff,
			})
		}
	}
	// No allegation to compare means an unopposed observation: a match.

	if len(discrepancies) > 0 {
		notes, err := json.Marshal(discrepancies)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("marshal discrepancy notes: %w", err)
		}
		rec.Status = models.StatusDisputed
		rec.DiscrepancyNotes = string(notes)

		if err := s.store.UpdateVerification(ctx, rec); err != nil {
			return VerifyResult{}, err
		}
		s.logger.InfoContext(ctx, "verification disputed",
			"context_id", params.ContextID,
			"relationship_id", params.RelationshipID,
			"discrepancies", len(discrepancies),
		)
		return VerifyResult{
			Status:        models.StatusDisputed,
			Discrepancies: discrepancies,
			Observed:      observed,
		}, nil
	}

	rec.Status = models.StatusProven
	rec.DiscrepancyNotes = ""

	var uboFlagged *bool
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateVerification(ctx, rec); err != nil {
			return err
		}
		if err := s.store.SetRelationshipPercentage(ctx, params.RelationshipID, *observed, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mirror observed percentage")
		}

		flagged, synced, err := s.syncBeneficialOwner(ctx, params.ContextID, rel)
		if err != nil {
			return err
		}
		if synced {
			uboFlagged = &flagged
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}

	s.logger.InfoContext(ctx, "verification proven",
		"context_id", params.ContextID,
		"relationship_id", params.RelationshipID,
		"observed", *observed,
	)
	return VerifyResult{
		Status:     models.StatusProven,
		Matched:    []string{"percentage"},
		Observed:   observed,
		UBOFlagged: uboFlagged,
	}, nil
}

// syncBeneficialOwner recomputes the from-entity's total satisfied
// ownership and updates the flag on the active case. Always a full
// recompute: a disputed or removed edge can retract a prior UBO
// determination, so incremental patching would drift. Returns whether the
// person is now flagged and whether a sync ran at all.
func (s *Service) syncBeneficialOwner(ctx context.Context, ctxID id.ReviewContextID, rel models.Relationship) (flagged, synced bool, err error) {
	if rel.Kind != models.KindOwnership {
		return false, false, nil
	}
	entity, err := s.registry.Get(ctx, rel.FromEntityID)
	if err != nil {
		return false, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve owning entity")
	}
	if !entity.IsNaturalPerson() {
		return false, false, nil
	}

	total, err := s.store.SumSatisfiedOwnership(ctx, ctxID, rel.FromEntityID)
	if err != nil {
		return false, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to total proven ownership")
	}

	caseID, err := s.cases.ActiveCase(ctx, ctxID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "no active case; beneficial-owner flag not synchronized",
				"context_id", ctxID,
				"entity_id", rel.FromEntityID,
			)
			return false, false, nil
		}
		return false, false, err
	}

	flagged = total >= s.policy.UBOThresholdPct
	if err := s.cases.SetBeneficialOwner(ctx, caseID, rel.FromEntityID, flagged, total); err != nil {
		return false, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update beneficial-owner flag")
	}
	s.metrics.RecordUBOFlag(flagged)

	s.logger.InfoContext(ctx, "beneficial-owner flag synchronized",
		"context_id", ctxID,
		"entity_id", rel.FromEntityID,
		"total_ownership", total,
		"flagged", flagged,
	)
	return flagged, true, nil
}
