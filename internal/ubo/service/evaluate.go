package service

import (
	"context"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// Evaluate combines convergence gaps with the case's red-flag counts into
// a weighted score and a recommended action, and writes an immutable
// snapshot. caseID may be nil, in which case the context's active case is
// resolved; no active case is an error.
func (s *Service) Evaluate(ctx context.Context, ctxID id.ReviewContextID, caseID *id.CaseID) (snap models.EvaluationSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Evaluate")
	defer span.End()
	defer func() { s.metrics.RecordOperation("evaluate", err) }()

	resolvedCase := id.CaseID{}
	if caseID != nil {
		resolvedCase = *caseID
	} else {
		resolvedCase, err = s.cases.ActiveCase(ctx, ctxID)
		if err != nil {
			return models.EvaluationSnapshot{}, err
		}
	}

	status, err := s.Status(ctx, ctxID)
	if err != nil {
		return models.EvaluationSnapshot{}, err
	}
	expired, err := s.countExpiredProofs(ctx, ctxID)
	if err != nil {
		return models.EvaluationSnapshot{}, err
	}
	missing, err := s.countMissingProofs(ctx, ctxID)
	if err != nil {
		return models.EvaluationSnapshot{}, err
	}
	flags, err := s.cases.RedFlags(ctx, resolvedCase)
	if err != nil {
		return models.EvaluationSnapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read red flags")
	}

	inputs := models.RiskInputs{
		SoftFlags:     flags.Soft,
		EscalateFlags: flags.Escalate,
		HardStopFlags: flags.HardStop,
		ExpiredProofs: expired,
		MissingProofs: missing,
		DisputedEdges: status.Disputed,
		IsConverged:   status.IsConverged,
	}
	score := s.policy.Score(inputs)
	action := s.policy.Recommend(inputs, score)

	snap = models.EvaluationSnapshot{
		ID:            id.NewSnapshotID(),
		ContextID:     ctxID,
		CaseID:        resolvedCase,
		SoftFlags:     inputs.SoftFlags,
		EscalateFlags: inputs.EscalateFlags,
		HardStopFlags: inputs.HardStopFlags,
		ExpiredProofs: inputs.ExpiredProofs,
		MissingProofs: inputs.MissingProofs,
		DisputedEdges: inputs.DisputedEdges,
		IsConverged:   inputs.IsConverged,
		Score:         score,
		Action:        action,
		EvaluatedAt:   requestcontext.Now(ctx),
		EvaluatedBy:   requestcontext.Actor(ctx),
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return models.EvaluationSnapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store evaluation snapshot")
	}

	s.logger.InfoContext(ctx, "context evaluated",
		"context_id", ctxID,
		"case_id", resolvedCase,
		"score", score,
		"action", action,
	)
	return snap, nil
}
