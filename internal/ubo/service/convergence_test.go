package service

import (
	"time"

	"converge/internal/ubo/models"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// Convergence Status Tests
// =============================================================================

func (s *ServiceSuite) TestStatus() {
	s.Run("empty context is vacuously converged", func() {
		status, err := s.svc.Status(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.True(status.IsConverged)
		s.Equal(100.0, status.ConvergencePercentage)
		s.Zero(status.Total)
		s.Empty(status.Blocking)
	})

	s.Run("rollup counts every status and lists blockers", func() {
		owner := s.newPerson("Dana Petrov")
		partner := s.newPerson("Felix Braun")
		company := s.newCompany("Acme Holdings BV")
		subsidiary := s.newCompany("Acme Services BV")

		proven := s.allege(owner, company, 40)
		s.linkProof(proven.Relationship.ID)
		s.prove(proven.Relationship.ID, 40)

		disputed := s.allege(partner, company, 30)
		s.linkProof(disputed.Relationship.ID)
		observed := 55.0
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     disputed.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Require().Equal(models.StatusDisputed, verify.Status)

		s.allege(owner, subsidiary, 10) // stays alleged

		status, err := s.svc.Status(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Equal(3, status.Total)
		s.Equal(1, status.Proven)
		s.Equal(1, status.Disputed)
		s.Equal(1, status.Alleged)
		s.False(status.IsConverged)
		s.InDelta(33.33, status.ConvergencePercentage, 0.01)

		s.Require().Len(status.Blocking, 2)
		names := map[string]models.VerificationStatus{}
		for _, blocker := range status.Blocking {
			names[blocker.FromName] = blocker.Status
		}
		s.Equal(models.StatusDisputed, names["Felix Braun"])
		s.Equal(models.StatusAlleged, names["Dana Petrov"])
	})

	s.Run("waived edge counts as satisfied", func() {
		s.freshContext()
		owner := s.newPerson("Mira Osei")
		company := s.newCompany("Osei Trading Ltd")
		result := s.allege(owner, company, 50)

		_, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: result.Relationship.ID,
			WaiverType:     "low_risk",
			Reason:         "listed entity exemption",
			ApprovedBy:     "compliance.head@bank.example",
		})
		s.Require().NoError(err)

		status, err := s.svc.Status(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.True(status.IsConverged)
		s.Equal(1, status.Waived)
		s.Empty(status.Blocking)
	})
}

// =============================================================================
// Assertion Gate Tests
// =============================================================================

func (s *ServiceSuite) TestAssert() {
	s.Run("requires at least one check", func() {
		_, err := s.svc.Assert(s.ctx, s.ctxID, Checks{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("passing checks return results and audit rows", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		assertion, err := s.svc.Assert(s.ctx, s.ctxID, Checks{
			Converged:       true,
			NoExpiredProofs: true,
			NoDisputedEdges: true,
		})
		s.Require().NoError(err)
		s.Len(assertion.Results, 3)
		for _, check := range assertion.Results {
			s.True(check.Passed, check.Kind)
		}

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Len(entries, 3)
	})

	s.Run("failure logs every evaluated check", func() {
		s.freshContext()
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

		assertion, err := s.svc.Assert(s.ctx, s.ctxID, Checks{
			Converged:       true,
			NoExpiredProofs: true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), "converged")
		s.NotContains(err.Error(), "no_expired_proofs")

		// Both checks evaluated and both audited.
		s.Require().Len(assertion.Results, 2)
		s.False(assertion.Results[0].Passed)
		s.Contains(assertion.Results[0].Detail, "1 of 1 relationships outstanding")
		s.True(assertion.Results[1].Passed)

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("converged", entries[0].Kind)
		s.False(entries[0].Passed)
		s.Equal("no_expired_proofs", entries[1].Kind)
		s.True(entries[1].Passed)
	})

	s.Run("missing proof fails the evidence check", func() {
		s.freshContext()
		owner := s.newPerson("Iris Kovac")
		company := s.newCompany("Borealis Capital AS")
		s.allege(owner, company, 20)

		assertion, err := s.svc.Assert(s.ctx, s.ctxID, Checks{NoMissingProofs: true})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Require().Len(assertion.Results, 1)
		s.Contains(assertion.Results[0].Detail, "1 relationships without proof")
	})

	s.Run("expired waiver fails its check while convergence holds", func() {
		s.freshContext()
		owner := s.newPerson("Noor Haddad")
		company := s.newCompany("Levant Trading SAL")
		result := s.allege(owner, company, 50)

		expires := s.now.Add(-time.Hour)
		_, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: result.Relationship.ID,
			WaiverType:     "other",
			Reason:         "registry extract requested",
			ApprovedBy:     "compliance.head@bank.example",
			Expires:        &expires,
		})
		s.Require().NoError(err)

		assertion, err := s.svc.Assert(s.ctx, s.ctxID, Checks{
			Converged:        true,
			NoExpiredWaivers: true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), "no_expired_waivers")

		results := map[string]bool{}
		for _, check := range assertion.Results {
			results[check.Kind] = check.Passed
		}
		s.True(results["converged"])
		s.False(results["no_expired_waivers"])
	})

	s.Run("dirty proof fails freshness while convergence holds", func() {
		s.freshContext()
		owner := s.newPerson("Greta Vilkas")
		company := s.newCompany("Baltic Freight UAB")
		result := s.allege(owner, company, 60)
		proof := s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 60)

		_, err := s.svc.MarkProofDirty(s.ctx, proof.ID, "document reported forged")
		s.Require().NoError(err)

		assertion, err := s.svc.Assert(s.ctx, s.ctxID, Checks{
			Converged:       true,
			NoExpiredProofs: true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		results := map[string]bool{}
		for _, check := range assertion.Results {
			results[check.Kind] = check.Passed
		}
		s.True(results["converged"])
		s.False(results["no_expired_proofs"])
	})
}
