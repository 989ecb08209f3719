package service

import (
	"context"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/requestcontext"
)

// Graph is the annotated ownership/control picture of one review context.
type Graph struct {
	ContextID id.ReviewContextID `json:"context_id"`
	Nodes     []models.GraphNode `json:"nodes"`
	Edges     []models.GraphEdge `json:"edges"`
}

// Traverse renders the context's edges as a deduplicated node set plus
// annotated edges. Read-only; names degrade to raw identifiers when the
// registry cannot serve a lookup.
func (s *Service) Traverse(ctx context.Context, ctxID id.ReviewContextID) (graph Graph, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Traverse")
	defer span.End()
	defer func() { s.metrics.RecordOperation("traverse", err) }()

	edges, err := s.store.ListContextEdges(ctx, ctxID)
	if err != nil {
		return Graph{}, err
	}

	graph.ContextID = ctxID
	seen := make(map[id.EntityID]bool)
	addNode := func(entityID id.EntityID) string {
		name := s.entityName(ctx, entityID)
		if !seen[entityID] {
			seen[entityID] = true
			graph.Nodes = append(graph.Nodes, models.GraphNode{EntityID: entityID, Name: name})
		}
		return name
	}

	for _, edge := range edges {
		fromName := addNode(edge.Relationship.FromEntityID)
		toName := addNode(edge.Relationship.ToEntityID)
		graph.Edges = append(graph.Edges, models.GraphEdge{
			RelationshipID: edge.Relationship.ID,
			FromEntityID:   edge.Relationship.FromEntityID,
			ToEntityID:     edge.Relationship.ToEntityID,
			FromName:       fromName,
			ToName:         toName,
			Kind:           edge.Relationship.Kind,
			Percentage:     edge.Relationship.Percentage,
			Status:         edge.Verification.Status,
			HasProof:       edge.Verification.ProofDocumentID != nil,
		})
	}
	return graph, nil
}

// MarkDirtyResult reports a proof invalidation and its blast radius.
type MarkDirtyResult struct {
	ProofID        id.ProofID        `json:"proof_id"`
	RelationshipID id.RelationshipID `json:"relationship_id"`
	AffectedEdges  int               `json:"affected_edges"`
}

// MarkProofDirty invalidates a proof without touching the verification
// status of the edges it supports. The staleness surfaces through the
// no_expired_proofs gate check instead; the affected-edge count tells the
// caller how many review records now rest on bad evidence.
func (s *Service) MarkProofDirty(ctx context.Context, proofID id.ProofID, reason string) (result MarkDirtyResult, err error) {
	ctx, span := s.startSpan(ctx, "ubo.MarkProofDirty")
	defer span.End()
	defer func() { s.metrics.RecordOperation("mark_proof_dirty", err) }()

	proof, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return MarkDirtyResult{}, err
	}
	if proof.Status == models.ProofDirty {
		return MarkDirtyResult{}, dErrors.New(dErrors.CodeInvariantViolation,
			"proof is already marked dirty")
	}

	now := requestcontext.Now(ctx)
	if err := s.store.MarkProofDirty(ctx, proofID, reason, now); err != nil {
		return MarkDirtyResult{}, err
	}

	recs, err := s.store.ListVerificationsByRelationship(ctx, proof.RelationshipID)
	if err != nil {
		return MarkDirtyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count affected records")
	}

	s.logger.InfoContext(ctx, "proof marked dirty",
		"proof_id", proofID,
		"relationship_id", proof.RelationshipID,
		"reason", reason,
		"affected_edges", len(recs),
	)
	return MarkDirtyResult{
		ProofID:        proofID,
		AffectedEdges:  len(recs),
		RelationshipID: proof.RelationshipID,
	}, nil
}
