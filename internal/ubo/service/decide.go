package service

import (
	"context"
	"strings"
	"time"

	"converge/internal/ubo/models"
	"converge/internal/workstream"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// DecideParams records a formal review decision on a context.
type DecideParams struct {
	ContextID  id.ReviewContextID
	Decision   string
	Rationale  string
	Conditions string
	NextReview *time.Time
}

// Decide validates and persists the decision, moves the case and the
// context to the matching status, and records a case event. Validation
// happens before any write; the writes run as one transaction.
func (s *Service) Decide(ctx context.Context, params DecideParams) (rec models.DecisionRecord, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Decide")
	defer span.End()
	defer func() { s.metrics.RecordOperation("decide", err) }()

	decision, err := models.ParseDecision(params.Decision)
	if err != nil {
		return models.DecisionRecord{}, err
	}
	if params.Rationale == "" {
		return models.DecisionRecord{}, dErrors.New(dErrors.CodeInvalidInput, "rationale is required")
	}

	caseID, err := s.cases.ActiveCase(ctx, params.ContextID)
	if err != nil {
		return models.DecisionRecord{}, err
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)
	rec = models.DecisionRecord{
		ID:         id.NewDecisionID(),
		ContextID:  params.ContextID,
		CaseID:     caseID,
		Decision:   decision,
		DecidedBy:  actor,
		Rationale:  params.Rationale,
		Conditions: params.Conditions,
		NextReview: params.NextReview,
		DecidedAt:  now,
	}

	status := strings.ToLower(decision.String())
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateDecision(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store decision")
		}
		if err := s.cases.SetCaseStatus(ctx, caseID, status); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update case status")
		}
		if err := s.cases.SetContextStatus(ctx, params.ContextID, status); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update context status")
		}
		event := workstream.CaseEvent{
			CaseID:    caseID,
			EventType: "decision_recorded",
			Detail: map[string]any{
				"decision_id": rec.ID.String(),
				"decision":    decision.String(),
				"context_id":  params.ContextID.String(),
			},
			CreatedAt: now,
			CreatedBy: actor,
		}
		if err := s.cases.AppendCaseEvent(ctx, event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append case event")
		}
		return nil
	})
	if err != nil {
		return models.DecisionRecord{}, err
	}

	s.logger.InfoContext(ctx, "decision recorded",
		"context_id", params.ContextID,
		"case_id", caseID,
		"decision", decision,
	)
	return rec, nil
}
