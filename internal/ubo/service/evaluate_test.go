package service

import (
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	"converge/internal/workstream"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// Evaluate Tests
// =============================================================================

func (s *ServiceSuite) TestEvaluate() {
	s.Run("requires an active case when none given", func() {
		_, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("scores gaps and flags with policy weights", func() {
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)
		s.cases.SetRedFlags(caseID, workstream.RedFlagCounts{Soft: 2, Escalate: 1})

		owner := s.newPerson("Felix Braun")
		company := s.newCompany("Braun Logistik GmbH")
		result := s.allege(owner, company, 30)
		s.linkProof(result.Relationship.ID)
		observed := 55.0
		_, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)

		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)

		// 2 soft * 5 + 1 escalate * 25 + 1 disputed * 20.
		s.Equal(55, snap.Score)
		s.Equal(models.ActionRemediate, snap.Action)
		s.Equal(caseID, snap.CaseID)
		s.Equal(1, snap.DisputedEdges)
		s.False(snap.IsConverged)
		s.Equal("analyst@bank.example", snap.EvaluatedBy)
		s.Equal(s.now, snap.EvaluatedAt)
	})

	s.Run("hard stop outranks everything", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)
		s.cases.SetRedFlags(caseID, workstream.RedFlagCounts{HardStop: 1, Escalate: 5})

		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)
		s.Equal(models.ActionReject, snap.Action)
	})

	s.Run("escalate count limit forces escalation", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)
		s.cases.SetRedFlags(caseID, workstream.RedFlagCounts{Escalate: 3})

		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)
		s.Equal(75, snap.Score)
		s.Equal(models.ActionEscalate, snap.Action)
	})

	s.Run("score above limit forces escalation", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)
		s.cases.SetRedFlags(caseID, workstream.RedFlagCounts{Escalate: 2, Soft: 11})

		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)
		s.Equal(105, snap.Score)
		s.Equal(models.ActionEscalate, snap.Action)
	})

	s.Run("clean converged context approves", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)
		s.Equal(0, snap.Score)
		s.Equal(models.ActionApprove, snap.Action)
	})

	s.Run("explicit case id skips active-case resolution", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		snap, err := s.svc.Evaluate(s.ctx, s.ctxID, &caseID)
		s.Require().NoError(err)
		s.Equal(caseID, snap.CaseID)
	})

	s.Run("snapshots are listed newest first available via history", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		first, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)
		second, err := s.svc.Evaluate(s.ctx, s.ctxID, nil)
		s.Require().NoError(err)

		snaps, err := s.svc.Evaluations(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(snaps, 2)
		ids := []id.SnapshotID{snaps[0].ID, snaps[1].ID}
		s.Contains(ids, first.ID)
		s.Contains(ids, second.ID)
	})
}

// =============================================================================
// Decide Tests
// =============================================================================

func (s *ServiceSuite) TestDecide() {
	s.Run("invalid decision writes nothing", func() {
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		_, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID: s.ctxID,
			Decision:  "MAYBE",
			Rationale: "unsure",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		s.Empty(s.store.Decisions())
		s.Equal("open", s.cases.CaseStatus(caseID))
	})

	s.Run("missing rationale writes nothing", func() {
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		_, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID: s.ctxID,
			Decision:  "APPROVED",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Empty(s.store.Decisions())
	})

	s.Run("requires an active case", func() {
		_, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID: id.ReviewContextID(uuid.New()),
			Decision:  "APPROVED",
			Rationale: "structure fully evidenced",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("records decision and moves case and context", func() {
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		rec, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID:  s.ctxID,
			Decision:   "APPROVED",
			Rationale:  "structure fully evidenced",
			Conditions: "re-verify within 12 months",
		})
		s.Require().NoError(err)
		s.Equal(models.DecisionApproved, rec.Decision)
		s.Equal("analyst@bank.example", rec.DecidedBy)
		s.Equal(caseID, rec.CaseID)

		s.Equal("approved", s.cases.CaseStatus(caseID))
		s.Equal("approved", s.cases.ContextStatus(s.ctxID))

		decisions := s.store.Decisions()
		s.Require().Len(decisions, 1)
		s.Equal(rec.ID, decisions[0].ID)

		events := s.cases.Events()
		s.Require().Len(events, 1)
		s.Equal("decision_recorded", events[0].EventType)
		s.Equal(rec.ID.String(), events[0].Detail["decision_id"])
	})
}

// =============================================================================
// ScheduleReview Tests
// =============================================================================

func (s *ServiceSuite) TestScheduleReview() {
	reviewDate := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	s.Run("requires a review date", func() {
		_, err := s.svc.ScheduleReview(s.ctx, ScheduleReviewParams{ContextID: s.ctxID})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("schedulable without a decision or an active case", func() {
		s.freshContext()
		result, err := s.svc.ScheduleReview(s.ctx, ScheduleReviewParams{
			ContextID:  s.ctxID,
			ReviewDate: reviewDate,
		})
		s.Require().NoError(err)
		s.Nil(result.DecisionID)
		s.Equal("Scheduled periodic review", result.Reason)

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("review_scheduled", entries[0].Kind)
		s.Equal("2026-06-01", entries[0].Detail["review_date"])
		s.Equal("analyst@bank.example", entries[0].CheckedBy)
		s.Empty(s.cases.Events())
	})

	s.Run("stamps the latest decision and appends a case event", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		rec, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID:  s.ctxID,
			Decision:   "APPROVED",
			Rationale:  "structure fully evidenced",
			Conditions: "re-verify within 12 months",
		})
		s.Require().NoError(err)

		result, err := s.svc.ScheduleReview(s.ctx, ScheduleReviewParams{
			ContextID:  s.ctxID,
			ReviewDate: reviewDate,
			Reason:     "annual refresh",
		})
		s.Require().NoError(err)
		s.Require().NotNil(result.DecisionID)
		s.Equal(rec.ID, *result.DecisionID)

		decisions := s.store.Decisions()
		var stamped *models.DecisionRecord
		for i := range decisions {
			if decisions[i].ID == rec.ID {
				stamped = &decisions[i]
			}
		}
		s.Require().NotNil(stamped)
		s.Require().NotNil(stamped.NextReview)
		s.Equal(reviewDate, *stamped.NextReview)
		s.Equal("re-verify within 12 months [Review scheduled: annual refresh]", stamped.Conditions)

		events := s.cases.Events()
		s.Require().NotEmpty(events)
		last := events[len(events)-1]
		s.Equal("review_scheduled", last.EventType)
		s.Equal("2026-06-01", last.Detail["review_date"])
		s.Equal("annual refresh", last.Detail["reason"])
		s.Equal(rec.ID.String(), last.Detail["decision_id"])
	})

	s.Run("picks the newest of several decisions", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		older := models.DecisionRecord{
			ID:        id.NewDecisionID(),
			ContextID: s.ctxID,
			CaseID:    caseID,
			Decision:  models.DecisionApproved,
			DecidedBy: "analyst@bank.example",
			Rationale: "initial approval",
			DecidedAt: s.now.Add(-48 * time.Hour),
		}
		newer := models.DecisionRecord{
			ID:        id.NewDecisionID(),
			ContextID: s.ctxID,
			CaseID:    caseID,
			Decision:  models.DecisionApproved,
			DecidedBy: "analyst@bank.example",
			Rationale: "approval after remediation",
			DecidedAt: s.now.Add(-time.Hour),
		}
		s.Require().NoError(s.store.CreateDecision(s.ctx, older))
		s.Require().NoError(s.store.CreateDecision(s.ctx, newer))

		result, err := s.svc.ScheduleReview(s.ctx, ScheduleReviewParams{
			ContextID:  s.ctxID,
			ReviewDate: reviewDate,
			Reason:     "periodic cycle",
		})
		s.Require().NoError(err)
		s.Require().NotNil(result.DecisionID)
		s.Equal(newer.ID, *result.DecisionID)
	})

	s.Run("audit failure rolls back the decision stamp", func() {
		s.freshContext()
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		rec, err := s.svc.Decide(s.ctx, DecideParams{
			ContextID: s.ctxID,
			Decision:  "APPROVED",
			Rationale: "structure fully evidenced",
		})
		s.Require().NoError(err)

		s.store.FailNext("AppendAssertion", dErrors.New(dErrors.CodeInternal, "audit log unavailable"))
		_, err = s.svc.ScheduleReview(s.ctx, ScheduleReviewParams{
			ContextID:  s.ctxID,
			ReviewDate: reviewDate,
		})
		s.Error(err)

		for _, decision := range s.store.Decisions() {
			if decision.ID == rec.ID {
				s.Nil(decision.NextReview)
			}
		}
	})
}
