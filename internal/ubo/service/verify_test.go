package service

import (
	"encoding/json"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// Verify Tests
// =============================================================================

func (s *ServiceSuite) TestVerify() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("requires a linked proof", func() {
		result := s.allege(owner, company, 40)
		observed := 40.0
		_, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), "no proof linked")
	})

	s.Run("difference at the tolerance boundary is proven", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)

		verify := s.prove(result.Relationship.ID, 41) // |40-41| == 1.0
		s.Equal(models.StatusProven, verify.Status)
		s.Equal([]string{"percentage"}, verify.Matched)

		// Observed value is mirrored into the structural fact.
		rel, err := s.store.GetRelationship(s.ctx, result.Relationship.ID)
		s.Require().NoError(err)
		s.Require().NotNil(rel.Percentage)
		s.Equal(41.0, *rel.Percentage)
	})

	s.Run("difference beyond tolerance is disputed with notes", func() {
		result := s.allege(owner, company, 40)
		observed := 41.01
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusDisputed, verify.Status)
		s.Require().Len(verify.Discrepancies, 1)
		s.Equal("percentage", verify.Discrepancies[0].Attribute)

		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		var notes []Discrepancy
		s.Require().NoError(json.Unmarshal([]byte(rec.DiscrepancyNotes), &notes))
		s.Require().Len(notes, 1)
		s.Equal(40.0, notes[0].Alleged)
		s.Equal(41.01, notes[0].Observed)
	})

	s.Run("unopposed observation is a match", func() {
		trustee := s.newPerson("Mira Osei")
		trust := s.newCompany("Osei Family Trust")
		result, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: trustee,
			ToEntityID:   trust,
			Kind:         "ownership",
			Source:       "trust deed",
		})
		s.Require().NoError(err)
		s.linkProof(result.Relationship.ID)

		verify := s.prove(result.Relationship.ID, 12)
		s.Equal(models.StatusProven, verify.Status)
	})

	s.Run("unknown relationship returns not found", func() {
		observed := 10.0
		_, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     id.NewRelationshipID(),
			ObservedPercentage: &observed,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Beneficial-Owner Synchronization Tests
// =============================================================================

func (s *ServiceSuite) TestBeneficialOwnerSync() {
	s.Run("total at the threshold flags the owner", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		result := s.allege(owner, company, 25)
		s.linkProof(result.Relationship.ID)
		verify := s.prove(result.Relationship.ID, 25)

		s.Require().NotNil(verify.UBOFlagged)
		s.True(*verify.UBOFlagged)

		flag, ok := s.cases.BeneficialOwner(caseID, owner)
		s.Require().True(ok)
		s.True(flag.IsUBO)
		s.Equal(25.0, flag.OwnershipPct)
	})

	s.Run("total just below the threshold does not flag", func() {
		owner := s.newPerson("Iris Kovac")
		company := s.newCompany("Borealis Capital AS")
		caseID := id.CaseID(uuid.New())
		ctxID := id.ReviewContextID(uuid.New())
		s.cases.OpenCase(ctxID, caseID)

		pct := 25.0
		result, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    ctxID,
			FromEntityID: owner,
			ToEntityID:   company,
			Kind:         "ownership",
			Percentage:   &pct,
		})
		s.Require().NoError(err)
		validUntil := s.now.AddDate(1, 0, 0)
		_, err = s.svc.LinkProof(s.ctx, LinkProofParams{
			ContextID:      ctxID,
			RelationshipID: result.Relationship.ID,
			DocumentID:     id.DocumentID(uuid.New()),
			ProofType:      "shareholder_register",
			ValidUntil:     &validUntil,
		})
		s.Require().NoError(err)

		observed := 24.999
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusProven, verify.Status)
		s.Require().NotNil(verify.UBOFlagged)
		s.False(*verify.UBOFlagged)

		flag, ok := s.cases.BeneficialOwner(caseID, owner)
		s.Require().True(ok)
		s.False(flag.IsUBO)
	})

	s.Run("totals accumulate across edges from the same person", func() {
		owner := s.newPerson("Tomas Lindqvist")
		first := s.newCompany("Lindqvist Holding AB")
		second := s.newCompany("Nordic Ventures AB")
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		a := s.allege(owner, first, 15)
		s.linkProof(a.Relationship.ID)
		s.prove(a.Relationship.ID, 15)

		b := s.allege(owner, second, 12)
		s.linkProof(b.Relationship.ID)
		s.prove(b.Relationship.ID, 12)

		flag, ok := s.cases.BeneficialOwner(caseID, owner)
		s.Require().True(ok)
		s.True(flag.IsUBO)
		s.Equal(27.0, flag.OwnershipPct)
	})

	s.Run("corporate owner never syncs", func() {
		parent := s.newCompany("Parent Holdco Ltd")
		subsidiary := s.newCompany("Subsidiary GmbH")
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		result := s.allege(parent, subsidiary, 100)
		s.linkProof(result.Relationship.ID)
		verify := s.prove(result.Relationship.ID, 100)

		s.Nil(verify.UBOFlagged)
		_, ok := s.cases.BeneficialOwner(caseID, parent)
		s.False(ok)
	})

	s.Run("no active case skips the sync without failing", func() {
		owner := s.newPerson("Noor Haddad")
		company := s.newCompany("Levant Trading SAL")
		ctxID := id.ReviewContextID(uuid.New())

		pct := 60.0
		result, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    ctxID,
			FromEntityID: owner,
			ToEntityID:   company,
			Kind:         "ownership",
			Percentage:   &pct,
		})
		s.Require().NoError(err)
		validUntil := s.now.AddDate(1, 0, 0)
		_, err = s.svc.LinkProof(s.ctx, LinkProofParams{
			ContextID:      ctxID,
			RelationshipID: result.Relationship.ID,
			DocumentID:     id.DocumentID(uuid.New()),
			ProofType:      "shareholder_register",
			ValidUntil:     &validUntil,
		})
		s.Require().NoError(err)

		observed := 60.0
		verify, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusProven, verify.Status)
		s.Nil(verify.UBOFlagged)
	})

	s.Run("sync failure rolls back the proven write", func() {
		owner := s.newPerson("Greta Vilkas")
		company := s.newCompany("Baltic Freight UAB")
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		result := s.allege(owner, company, 30)
		s.linkProof(result.Relationship.ID)
		s.cases.FailNext("SetBeneficialOwner", dErrors.New(dErrors.CodeInternal, "case subsystem down"))

		observed := 30.0
		_, err := s.svc.Verify(s.ctx, VerifyParams{
			ContextID:          s.ctxID,
			RelationshipID:     result.Relationship.ID,
			ObservedPercentage: &observed,
		})
		s.Error(err)

		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
	})
}

// =============================================================================
// Optimistic Concurrency Tests
// =============================================================================

func (s *ServiceSuite) TestVersionConflict() {
	owner := s.newPerson("Dana Petrov")
	company := s.newCompany("Acme Holdings BV")

	s.Run("stale version write surfaces conflict", func() {
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)

		stale, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)

		// A concurrent resolution bumps the version underneath.
		s.prove(result.Relationship.ID, 40)

		stale.Status = models.StatusDisputed
		err = s.store.UpdateVerification(s.ctx, stale)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "modified concurrently")
	})
}
