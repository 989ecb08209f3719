package service

import (
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// MarkDeceased Tests
// =============================================================================

func (s *ServiceSuite) TestMarkDeceased() {
	dateOfDeath := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	s.Run("rejects a legal entity", func() {
		company := s.newCompany("Acme Holdings BV")
		_, err := s.svc.MarkDeceased(s.ctx, company, dateOfDeath, "bad input")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "natural person")
	})

	s.Run("unknown person returns not found", func() {
		_, err := s.svc.MarkDeceased(s.ctx, id.EntityID(uuid.New()), dateOfDeath, "estate notice")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("cascade ends edges and clears the flag", func() {
		owner := s.newPerson("Dana Petrov")
		first := s.newCompany("Acme Holdings BV")
		second := s.newCompany("Acme Services BV")
		caseID := id.CaseID(uuid.New())
		s.cases.OpenCase(s.ctxID, caseID)

		a := s.allege(owner, first, 40)
		s.linkProof(a.Relationship.ID)
		s.prove(a.Relationship.ID, 40)

		b := s.allege(owner, second, 30)
		s.linkProof(b.Relationship.ID)
		s.prove(b.Relationship.ID, 30)

		flag, ok := s.cases.BeneficialOwner(caseID, owner)
		s.Require().True(ok)
		s.Require().True(flag.IsUBO)

		result, err := s.svc.MarkDeceased(s.ctx, owner, dateOfDeath, "death certificate received")
		s.Require().NoError(err)
		s.Equal(2, result.EndedEdges)
		s.Equal([]id.ReviewContextID{s.ctxID}, result.AffectedContexts)

		for _, relID := range []id.RelationshipID{a.Relationship.ID, b.Relationship.ID} {
			rel, err := s.store.GetRelationship(s.ctx, relID)
			s.Require().NoError(err)
			s.Require().NotNil(rel.EffectiveTo)
			s.Equal(dateOfDeath, *rel.EffectiveTo)

			rec, err := s.store.GetVerification(s.ctx, s.ctxID, relID)
			s.Require().NoError(err)
			s.Equal(models.StatusUnverified, rec.Status)
			s.Equal("Owner deceased on 2025-05-20: death certificate received", rec.DiscrepancyNotes)
		}

		flag, ok = s.cases.BeneficialOwner(caseID, owner)
		s.Require().True(ok)
		s.False(flag.IsUBO)

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("owner_deceased", entries[0].Kind)
		s.Equal(2, entries[0].Detail["edges"])
		s.Equal(owner.String(), entries[0].Detail["person_id"])
	})

	s.Run("audit failure rolls back the whole cascade", func() {
		owner := s.newPerson("Felix Braun")
		company := s.newCompany("Braun Logistik GmbH")
		result := s.allege(owner, company, 60)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 60)

		s.store.FailNext("AppendAssertion", dErrors.New(dErrors.CodeInternal, "audit log unavailable"))
		_, err := s.svc.MarkDeceased(s.ctx, owner, dateOfDeath, "death certificate received")
		s.Error(err)

		rel, err := s.store.GetRelationship(s.ctx, result.Relationship.ID)
		s.Require().NoError(err)
		s.Nil(rel.EffectiveTo)

		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProven, rec.Status)
	})
}

// =============================================================================
// Supersede Tests
// =============================================================================

func (s *ServiceSuite) TestSupersede() {
	effective := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)

	s.Run("unknown relationship returns not found", func() {
		_, err := s.svc.Supersede(s.ctx, SupersedeParams{
			ContextID:         s.ctxID,
			OldRelationshipID: id.NewRelationshipID(),
			NewOwnerID:        s.newPerson("Mira Osei"),
			EffectiveDate:     effective,
			Reason:            "share sale",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown new owner returns not found", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)

		_, err := s.svc.Supersede(s.ctx, SupersedeParams{
			ContextID:         s.ctxID,
			OldRelationshipID: result.Relationship.ID,
			NewOwnerID:        id.EntityID(uuid.New()),
			EffectiveDate:     effective,
			Reason:            "share sale",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Contains(err.Error(), "new owner not found")
	})

	s.Run("successor inherits percentage and old edge is waived", func() {
		s.freshContext()
		seller := s.newPerson("Dana Petrov")
		buyer := s.newPerson("Mira Osei")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(seller, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		successor, err := s.svc.Supersede(s.ctx, SupersedeParams{
			ContextID:         s.ctxID,
			OldRelationshipID: result.Relationship.ID,
			NewOwnerID:        buyer,
			EffectiveDate:     effective,
			Reason:            "share purchase agreement",
		})
		s.Require().NoError(err)
		s.Equal(buyer, successor.FromEntityID)
		s.Equal(company, successor.ToEntityID)
		s.Require().NotNil(successor.Percentage)
		s.Equal(40.0, *successor.Percentage)

		old, err := s.store.GetRelationship(s.ctx, result.Relationship.ID)
		s.Require().NoError(err)
		s.NotNil(old.EffectiveTo)

		oldRec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusWaived, oldRec.Status)
		s.Contains(oldRec.DiscrepancyNotes, "Superseded on 2025-05-15: share purchase agreement")

		newRec, err := s.store.GetVerification(s.ctx, s.ctxID, successor.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAlleged, newRec.Status)

		// The old edge no longer blocks: waived plus a fresh allegation.
		status, err := s.svc.Status(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Equal(1, status.Waived)
		s.Equal(1, status.Alleged)

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("ownership_superseded", entries[0].Kind)
		s.Equal(result.Relationship.ID.String(), entries[0].Detail["old_relationship_id"])
		s.Equal(successor.ID.String(), entries[0].Detail["new_relationship_id"])
	})

	s.Run("explicit percentage overrides the inherited one", func() {
		s.freshContext()
		seller := s.newPerson("Tomas Lindqvist")
		buyer := s.newPerson("Iris Kovac")
		company := s.newCompany("Nordic Ventures AB")
		result := s.allege(seller, company, 30)

		pct := 25.0
		successor, err := s.svc.Supersede(s.ctx, SupersedeParams{
			ContextID:         s.ctxID,
			OldRelationshipID: result.Relationship.ID,
			NewOwnerID:        buyer,
			Percentage:        &pct,
			EffectiveDate:     effective,
			Reason:            "partial share sale",
		})
		s.Require().NoError(err)
		s.Require().NotNil(successor.Percentage)
		s.Equal(25.0, *successor.Percentage)
	})
}

// =============================================================================
// TransferControl Tests
// =============================================================================

func (s *ServiceSuite) TestTransferControl() {
	effective := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)

	s.Run("rejects unknown control type", func() {
		_, err := s.svc.TransferControl(s.ctx, TransferControlParams{
			ContextID:        s.ctxID,
			FromEntityID:     s.newPerson("Dana Petrov"),
			ToEntityID:       s.newPerson("Mira Osei"),
			ControlledEntity: s.newCompany("Acme Holdings BV"),
			ControlType:      "shadow_director",
			EffectiveDate:    effective,
			Reason:           "board resolution",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "invalid control type")
	})

	s.Run("requires a matching open control edge", func() {
		_, err := s.svc.TransferControl(s.ctx, TransferControlParams{
			ContextID:        s.ctxID,
			FromEntityID:     s.newPerson("Dana Petrov"),
			ToEntityID:       s.newPerson("Mira Osei"),
			ControlledEntity: s.newCompany("Acme Holdings BV"),
			ControlType:      "voting_rights",
			EffectiveDate:    effective,
			Reason:           "board resolution",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("moves the edge to the new controller", func() {
		outgoing := s.newPerson("Dana Petrov")
		incoming := s.newPerson("Mira Osei")
		company := s.newCompany("Acme Holdings BV")

		controlType := "voting_rights"
		original, err := s.svc.Allege(s.ctx, AllegeParams{
			ContextID:    s.ctxID,
			FromEntityID: outgoing,
			ToEntityID:   company,
			Kind:         "control",
			ControlType:  &controlType,
			Source:       "articles of association",
		})
		s.Require().NoError(err)

		successor, err := s.svc.TransferControl(s.ctx, TransferControlParams{
			ContextID:        s.ctxID,
			FromEntityID:     outgoing,
			ToEntityID:       incoming,
			ControlledEntity: company,
			ControlType:      controlType,
			EffectiveDate:    effective,
			Reason:           "extraordinary general meeting",
		})
		s.Require().NoError(err)
		s.Equal(incoming, successor.FromEntityID)
		s.Equal(models.KindControl, successor.Kind)
		s.Require().NotNil(successor.ControlType)
		s.Equal(models.ControlVotingRights, *successor.ControlType)

		old, err := s.store.GetRelationship(s.ctx, original.Relationship.ID)
		s.Require().NoError(err)
		s.NotNil(old.EffectiveTo)

		entries, err := s.store.ListAssertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("control_transferred", entries[0].Kind)
	})
}

// =============================================================================
// WaiveVerification Tests
// =============================================================================

func (s *ServiceSuite) TestWaiveVerification() {
	s.Run("rejects unknown waiver type", func() {
		_, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: id.NewRelationshipID(),
			WaiverType:     "because",
			Reason:         "n/a",
			ApprovedBy:     "compliance.head@bank.example",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires an approver", func() {
		_, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: id.NewRelationshipID(),
			WaiverType:     "listed_company",
			Reason:         "listed on regulated market",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Contains(err.Error(), "approver is required")
	})

	s.Run("unknown record returns not found", func() {
		_, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: id.NewRelationshipID(),
			WaiverType:     "listed_company",
			Reason:         "listed on regulated market",
			ApprovedBy:     "compliance.head@bank.example",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("waives with structured note and expiry", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)

		expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
		rec, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: result.Relationship.ID,
			WaiverType:     "listed_company",
			Reason:         "listed on regulated market",
			ApprovedBy:     "compliance.head@bank.example",
			Expires:        &expires,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusWaived, rec.Status)
		s.Require().NotNil(rec.WaivedUntil)
		s.Equal(expires, *rec.WaivedUntil)
		s.Equal("WAIVER [listed_company]: listed on regulated market | Approved by: compliance.head@bank.example | Expires: 2026-06-01",
			rec.DiscrepancyNotes)

		stored, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(rec.Version, stored.Version)
		s.Equal(models.StatusWaived, stored.Status)
	})

	s.Run("no expiry renders as none", func() {
		owner := s.newPerson("Mira Osei")
		company := s.newCompany("Osei Trading Ltd")
		result := s.allege(owner, company, 15)

		rec, err := s.svc.WaiveVerification(s.ctx, WaiveParams{
			ContextID:      s.ctxID,
			RelationshipID: result.Relationship.ID,
			WaiverType:     "low_risk",
			Reason:         "immaterial holding",
			ApprovedBy:     "compliance.head@bank.example",
		})
		s.Require().NoError(err)
		s.Contains(rec.DiscrepancyNotes, "Expires: none")
		s.Nil(rec.WaivedUntil)
	})
}
