package service

import (
	"context"
	"time"

	"converge/internal/ubo/models"
	"converge/internal/workstream"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// ScheduleReviewParams books a periodic re-review of a context.
type ScheduleReviewParams struct {
	ContextID  id.ReviewContextID
	ReviewDate time.Time
	Reason     string
}

// ScheduleReviewResult reports what was scheduled. DecisionID is nil when
// the context has no recorded decision yet; the schedule still lands in
// the audit log.
type ScheduleReviewResult struct {
	ContextID  id.ReviewContextID `json:"context_id"`
	ReviewDate time.Time          `json:"review_date"`
	Reason     string             `json:"reason"`
	DecisionID *id.DecisionID     `json:"decision_id,omitempty"`
}

// ScheduleReview stamps the next review date onto the context's latest
// decision and records the schedule in the audit log. A context with no
// decision yet is still schedulable: only the audit entry is written. The
// active case, when one exists, gets a review_scheduled event.
func (s *Service) ScheduleReview(ctx context.Context, params ScheduleReviewParams) (result ScheduleReviewResult, err error) {
	ctx, span := s.startSpan(ctx, "ubo.ScheduleReview")
	defer span.End()
	defer func() { s.metrics.RecordOperation("schedule_review", err) }()

	if params.ReviewDate.IsZero() {
		return ScheduleReviewResult{}, dErrors.New(dErrors.CodeInvalidInput, "review date is required")
	}
	reason := params.Reason
	if reason == "" {
		reason = "Scheduled periodic review"
	}

	var decisionID *id.DecisionID
	latest, err := s.store.LatestDecision(ctx, params.ContextID)
	switch {
	case err == nil:
		decID := latest.ID
		decisionID = &decID
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// No decision to stamp; the schedule is still recorded below.
	default:
		return ScheduleReviewResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest decision")
	}

	caseID, caseErr := s.cases.ActiveCase(ctx, params.ContextID)
	hasCase := caseErr == nil
	if caseErr != nil && !dErrors.HasCode(caseErr, dErrors.CodeNotFound) {
		return ScheduleReviewResult{}, caseErr
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)
	detail := map[string]any{
		"review_date": params.ReviewDate.Format("2006-01-02"),
		"reason":      reason,
	}
	if decisionID != nil {
		detail["decision_id"] = decisionID.String()
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if decisionID != nil {
			conditions := latest.Conditions + " [Review scheduled: " + reason + "]"
			if err := s.store.SetDecisionReview(ctx, latest.ID, params.ReviewDate, conditions); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to stamp review date on decision")
			}
		}
		entry := models.AssertionLogEntry{
			ContextID: params.ContextID,
			Kind:      "review_scheduled",
			Expected:  "scheduled",
			Actual:    "scheduled",
			Passed:    true,
			Detail:    detail,
			CheckedAt: now,
			CheckedBy: actor,
		}
		if err := s.store.AppendAssertion(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}
		if hasCase {
			event := workstream.CaseEvent{
				CaseID:    caseID,
				EventType: "review_scheduled",
				Detail:    detail,
				CreatedAt: now,
				CreatedBy: actor,
			}
			if err := s.cases.AppendCaseEvent(ctx, event); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append case event")
			}
		}
		return nil
	})
	if err != nil {
		return ScheduleReviewResult{}, err
	}
	if !hasCase {
		s.logger.WarnContext(ctx, "no active case; review scheduled on context only",
			"context_id", params.ContextID,
		)
	}

	s.logger.InfoContext(ctx, "review scheduled",
		"context_id", params.ContextID,
		"review_date", params.ReviewDate.Format("2006-01-02"),
	)
	result = ScheduleReviewResult{
		ContextID:  params.ContextID,
		ReviewDate: params.ReviewDate,
		Reason:     reason,
		DecisionID: decisionID,
	}
	return result, nil
}
