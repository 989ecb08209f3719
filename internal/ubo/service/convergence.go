package service

import (
	"context"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
)

// Status computes the per-context convergence rollup and the blocking
// list the reviewer works through.
//
// Reads are not snapshot-isolated across calls: a status followed by an
// assert may observe different state if a concurrent verify interleaves.
// Acceptable for a human-paced review workflow.
func (s *Service) Status(ctx context.Context, ctxID id.ReviewContextID) (status models.ConvergenceStatus, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Status")
	defer span.End()
	defer func() { s.metrics.RecordOperation("status", err) }()

	edges, err := s.store.ListContextEdges(ctx, ctxID)
	if err != nil {
		return models.ConvergenceStatus{}, err
	}

	status = models.ConvergenceStatus{ContextID: ctxID, Total: len(edges)}
	satisfied := 0
	for _, edge := range edges {
		switch edge.Verification.Status {
		case models.StatusProven:
			status.Proven++
		case models.StatusAlleged:
			status.Alleged++
		case models.StatusPending:
			status.Pending++
		case models.StatusDisputed:
			status.Disputed++
		case models.StatusUnverified:
			status.Unverified++
		case models.StatusWaived:
			status.Waived++
		}
		if edge.Verification.Status.Satisfied() {
			satisfied++
			continue
		}
		status.Blocking = append(status.Blocking, models.BlockingEdge{
			RelationshipID: edge.Relationship.ID,
			FromEntityID:   edge.Relationship.FromEntityID,
			ToEntityID:     edge.Relationship.ToEntityID,
			FromName:       s.entityName(ctx, edge.Relationship.FromEntityID),
			ToName:         s.entityName(ctx, edge.Relationship.ToEntityID),
			Kind:           edge.Relationship.Kind,
			Status:         edge.Verification.Status,
		})
	}

	// Vacuously converged with zero relationships.
	status.IsConverged = satisfied == len(edges)
	if len(edges) == 0 {
		status.ConvergencePercentage = 100
	} else {
		status.ConvergencePercentage = float64(satisfied) / float64(len(edges)) * 100
	}
	return status, nil
}
