// Package service implements the convergence verification engine: intake,
// reconciliation, aggregation, gating, evaluation, and the lifecycle
// cascades. All multi-write operations run inside one store transaction.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"converge/internal/registry"
	"converge/internal/ubo/metrics"
	"converge/internal/ubo/models"
	"converge/internal/ubo/store"
	"converge/internal/workstream"
	id "converge/pkg/domain"
)

// Service wires the stores and collaborator ports together.
type Service struct {
	store    store.Store
	registry registry.Resolver
	cases    workstream.Port
	policy   models.RiskPolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPolicy(policy models.RiskPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(st store.Store, reg registry.Resolver, cases workstream.Port, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if cases == nil {
		return nil, fmt.Errorf("workstream port is required")
	}

	svc := &Service{
		store:    st,
		registry: reg,
		cases:    cases,
		policy:   models.DefaultRiskPolicy(),
		logger:   slog.Default(),
		metrics:  metrics.NewNop(),
		tracer:   otel.Tracer("converge/ubo"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

// entityName resolves an entity's display name, degrading to the raw
// identifier when the registry cannot serve the lookup. Annotation only;
// never blocks an operation.
func (s *Service) entityName(ctx context.Context, entityID id.EntityID) string {
	entity, err := s.registry.Get(ctx, entityID)
	if err != nil {
		s.logger.WarnContext(ctx, "entity name lookup failed",
			"entity_id", entityID,
			"error", err,
		)
		return entityID.String()
	}
	return entity.Name
}
