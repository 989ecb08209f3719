package service

import (
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// Allege Tests
// =============================================================================

func (s *ServiceSuite) TestAllege() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("creates relationship and alleged record", func() {
		result := s.allege(owner, company, 40)

		s.Equal(models.KindOwnership, result.Relationship.Kind)
		s.Equal(models.StatusAlleged, result.Verification.Status)
		s.Equal(int64(1), result.Verification.Version)
		s.Equal("Dana Petrov", result.FromName)
		s.Equal("Acme Holdings BV", result.ToName)
		s.Require().NotNil(result.Verification.AllegedPercentage)
		s.Equal(40.0, *result.Verification.AllegedPercentage)
	})

	s.Run("re-alleging the same edge is idempotent", func() {
		first := s.allege(owner, company, 40)
		second := s.allege(owner, company, 45)

		s.Equal(first.Relationship.ID, second.Relationship.ID)
		s.Equal(models.StatusAlleged, second.Verification.Status)
		s.Greater(second.Verification.Version, first.Verification.Version)

		status, err := s.svc.Status(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Equal(1, status.Total)
	})

	s.Run("rejects unknown relationship kind", func() {
		_, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: owner,
			ToEntityID:   company,
			Kind:         "franchise",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects control type outside the whitelist", func() {
		ct := "shadow_director"
		_, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: owner,
			ToEntityID:   company,
			Kind:         "control",
			ControlType:  &ct,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "invalid control type")
	})

	s.Run("rejects percentage out of range", func() {
		pct := 140.0
		_, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: owner,
			ToEntityID:   company,
			Kind:         "ownership",
			Percentage:   &pct,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects unknown entities", func() {
		_, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: id.EntityID(uuid.New()),
			ToEntityID:   company,
			Kind:         "ownership",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("proven record regresses only on a contradicting re-allegation", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		// Same value as observed: proven stands.
		same := s.allege(owner, company, 40)
		s.Equal(models.StatusProven, same.Verification.Status)

		// Contradicting value: back to alleged.
		contradicting := s.allege(owner, company, 55)
		s.Equal(models.StatusAlleged, contradicting.Verification.Status)
	})
}

// =============================================================================
// LinkProof Tests
// =============================================================================

func (s *ServiceSuite) TestLinkProof() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("advances alleged record to pending", func() {
		result := s.allege(owner, company, 40)
		proof := s.linkProof(result.Relationship.ID)

		s.Equal(models.ProofPending, proof.Status)
		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
		s.NotNil(rec.ProofDocumentID)
	})

	s.Run("fresh evidence resets a disputed record to pending", func() {
		s.freshContext()
		result := s.allege(owner, company, 70)
		s.linkProof(result.Relationship.ID)
		observed := 80.0
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Require().Equal(models.StatusDisputed, verify.Status)

		s.linkProof(result.Relationship.ID)
		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
	})

	s.Run("rejects expired document before any write", func() {
		s.freshContext()
		result := s.allege(owner, company, 40)
		expired := s.now.Add(-24 * time.Hour)
		_, err := s.svc.LinkProof(s.ctx, LinkProofParams{
			ContextID:      s.ctxID,
			RelationshipID: result.Relationship.ID,
			DocumentID:     id.DocumentID(uuid.New()),
			ProofType:      "shareholder_register",
			ValidUntil:     &expired,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), "expired")

		proofs, err := s.store.ListProofsByRelationship(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Empty(proofs)
	})

	s.Run("requires an existing allegation", func() {
		_, err := s.svc.LinkProof(s.ctx, LinkProofParams{
			ContextID:      s.ctxID,
			RelationshipID: id.NewRelationshipID(),
			DocumentID:     id.DocumentID(uuid.New()),
			ProofType:      "shareholder_register",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// UpdateAllegation Tests
// =============================================================================

func (s *ServiceSuite) TestUpdateAllegation() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("rejects out-of-range percentage", func() {
		result := s.allege(owner, company, 40)
		pct := -1.0
		_, err := s.svc.UpdateAllegation(s.ctx, s.ctxID, result.Relationship.ID, &pct)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("contradicted proven record drops to pending", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		pct := 55.0
		rec, err := s.svc.UpdateAllegation(s.ctx, s.ctxID, result.Relationship.ID, &pct)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)

		// The structural fact tracks the new allegation.
		rel, err := s.store.GetRelationship(s.ctx, result.Relationship.ID)
		s.Require().NoError(err)
		s.Require().NotNil(rel.Percentage)
		s.Equal(55.0, *rel.Percentage)
	})

	s.Run("matching proven record keeps its status", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		pct := 40.0
		rec, err := s.svc.UpdateAllegation(s.ctx, s.ctxID, result.Relationship.ID, &pct)
		s.Require().NoError(err)
		s.Equal(models.StatusProven, rec.Status)
	})

	s.Run("disputed record drops to pending for re-check", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		observed := 70.0
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Require().Equal(models.StatusDisputed, verify.Status)

		pct := 70.0
		rec, err := s.svc.UpdateAllegation(s.ctx, s.ctxID, result.Relationship.ID, &pct)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
	})

	s.Run("unknown edge returns not found", func() {
		pct := 10.0
		_, err := s.svc.UpdateAllegation(s.ctx, s.ctxID, id.NewRelationshipID(), &pct)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// RemoveEdge Tests
// =============================================================================

func (s *ServiceSuite) TestRemoveEdge() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("deletes edge and records audit entry", func() {
		result := s.allege(owner, company, 40)

		err := s.svc.RemoveEdge(s.ctx, s.ctxID, result.Relationship.ID, "duplicate intake")
		s.Require().NoError(err)

		_, err = s.store.GetRelationship(s.ctx, result.Relationship.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("edge_removed", entries[0].Kind)
		s.Equal("duplicate intake", entries[0].Detail["reason"])
	})

	s.Run("unknown edge returns not found", func() {
		err := s.svc.RemoveEdge(s.ctx, s.ctxID, id.NewRelationshipID(), "cleanup")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
