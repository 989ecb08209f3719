package service

import (
	"context"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
)

// Assertions returns the context's gate audit trail, oldest first.
func (s *Service) Assertions(ctx context.Context, ctxID id.ReviewContextID) (entries []models.AssertionLogEntry, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Assertions")
	defer span.End()
	defer func() { s.metrics.RecordOperation("list_assertions", err) }()

	return s.store.ListAssertions(ctx, ctxID)
}

// Evaluations returns the context's evaluation snapshots, newest first.
func (s *Service) Evaluations(ctx context.Context, ctxID id.ReviewContextID) (snaps []models.EvaluationSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "ubo.Evaluations")
	defer span.End()
	defer func() { s.metrics.RecordOperation("list_evaluations", err) }()

	return s.store.ListSnapshots(ctx, ctxID)
}
