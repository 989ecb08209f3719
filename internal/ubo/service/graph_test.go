package service

import (
	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// =============================================================================
// Traverse Tests
// =============================================================================

func (s *ServiceSuite) TestTraverse() {
	s.Run("empty context yields an empty graph", func() {
		graph, err := s.svc.Traverse(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Equal(s.ctxID, graph.ContextID)
		s.Empty(graph.Nodes)
		s.Empty(graph.Edges)
	})

	s.Run("nodes deduplicate across edges", func() {
		owner := s.newPerson("Dana Petrov")
		first := s.newCompany("Acme Holdings BV")
		second := s.newCompany("Acme Services BV")

		a := s.allege(owner, first, 40)
		s.linkProof(a.Relationship.ID)
		s.allege(owner, second, 30)

		graph, err := s.svc.Traverse(s.ctx, s.ctxID)
		s.Require().NoError(err)

		// Three distinct entities despite the shared owner.
		s.Len(graph.Nodes, 3)
		s.Require().Len(graph.Edges, 2)

		byRel := map[id.RelationshipID]models.GraphEdge{}
		for _, edge := range graph.Edges {
			byRel[edge.RelationshipID] = edge
		}
		s.True(byRel[a.Relationship.ID].HasProof)
		s.Equal("Dana Petrov", byRel[a.Relationship.ID].FromName)
		s.Equal(models.StatusPending, byRel[a.Relationship.ID].Status)
	})

	s.Run("unresolvable names degrade to identifiers", func() {
		ghost := s.newPerson("Temp Entity")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(ghost, company, 10)
		s.registry.Remove(ghost)

		graph, err := s.svc.Traverse(s.ctx, s.ctxID)
		s.Require().NoError(err)

		var found bool
		for _, edge := range graph.Edges {
			if edge.RelationshipID == result.Relationship.ID {
				found = true
				s.Equal(ghost.String(), edge.FromName)
			}
		}
		s.True(found)
	})
}

// =============================================================================
// MarkProofDirty Tests
// =============================================================================

func (s *ServiceSuite) TestMarkProofDirty() {
	s.Run("unknown proof returns not found", func() {
		_, err := s.svc.MarkProofDirty(s.ctx, id.ProofID(uuid.New()), "registry updated")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("marks the proof and reports affected records", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)
		proof := s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		dirty, err := s.svc.MarkProofDirty(s.ctx, proof.ID, "superseded registry filing")
		s.Require().NoError(err)
		s.Equal(proof.ID, dirty.ProofID)
		s.Equal(result.Relationship.ID, dirty.RelationshipID)
		s.Equal(1, dirty.AffectedEdges)

		stored, err := s.store.GetProof(s.ctx, proof.ID)
		s.Require().NoError(err)
		s.Equal(models.ProofDirty, stored.Status)
		s.Equal("superseded registry filing", stored.DirtyReason)

		// The supported edge stays proven; staleness is a gate concern.
		rec, err := s.store.GetVerification(s.ctx, s.ctxID, result.Relationship.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProven, rec.Status)
	})

	s.Run("marking twice is rejected", func() {
		owner := s.newPerson("Mira Osei")
		company := s.newCompany("Osei Trading Ltd")
		result := s.allege(owner, company, 20)
		proof := s.linkProof(result.Relationship.ID)

		_, err := s.svc.MarkProofDirty(s.ctx, proof.ID, "first invalidation")
		s.Require().NoError(err)

		_, err = s.svc.MarkProofDirty(s.ctx, proof.ID, "second invalidation")
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), "already marked dirty")
	})
}

// =============================================================================
// History Tests
// =============================================================================

func (s *ServiceSuite) TestAssertionHistory() {
	s.Run("lists the audit trail for a context", func() {
		owner := s.newPerson("Dana Petrov")
		company := s.newCompany("Acme Holdings BV")
		result := s.allege(owner, company, 40)
		s.linkProof(result.Relationship.ID)
		s.prove(result.Relationship.ID, 40)

		_, err := s.svc.Assert(s.ctx, s.ctxID, Checks{Converged: true, NoDisputedEdges: true})
		s.Require().NoError(err)

		entries, err := s.svc.Assertions(s.ctx, s.ctxID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("converged", entries[0].Kind)
		s.Equal("analyst@bank.example", entries[0].CheckedBy)
	})

	s.Run("other contexts do not leak in", func() {
		entries, err := s.svc.Assertions(s.ctx, id.ReviewContextID(uuid.New()))
		s.Require().NoError(err)
		s.Empty(entries)
	})
}
