// Package store defines persistence for the relationship graph and the
// verification ledger. Two implementations exist: postgres for production
// and memory for unit tests. Both honor the transaction-in-context
// contract: inside a Store.RunInTx callback, every call joins the same
// transaction, so cascades commit or roll back as one.
package store

import (
	"context"
	"time"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
)

// ContextEdge is a verification record joined with its relationship, the
// unit the aggregator and the lifecycle cascades operate on.
type ContextEdge struct {
	Relationship models.Relationship
	Verification models.VerificationRecord
}

// Store is the full persistence surface of the engine.
type Store interface {
	RelationshipStore
	VerificationStore
	ProofStore
	AssertionLogStore
	SnapshotStore
	DecisionStore

	// RunInTx runs fn atomically. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RelationshipStore persists structural edges.
type RelationshipStore interface {
	// UpsertRelationship inserts the edge or, when a currently-open edge
	// for the same (from, to, kind, sub-type) exists, updates its mutable
	// attributes in place. Returns the stored row.
	UpsertRelationship(ctx context.Context, rel models.Relationship) (models.Relationship, error)

	GetRelationship(ctx context.Context, relID id.RelationshipID) (models.Relationship, error)

	// CreateRelationship inserts a successor edge without upsert matching.
	CreateRelationship(ctx context.Context, rel models.Relationship) error

	// ListOpenRelationshipsFrom returns currently-open ownership and
	// control edges whose from endpoint is the given entity.
	ListOpenRelationshipsFrom(ctx context.Context, entityID id.EntityID) ([]models.Relationship, error)

	// FindOpenControlEdge locates the open control edge matching
	// (from, controlled, controlType).
	FindOpenControlEdge(ctx context.Context, from, controlled id.EntityID, controlType models.ControlType) (models.Relationship, error)

	// EndRelationship sets effective_to, keeping the row for history.
	EndRelationship(ctx context.Context, relID id.RelationshipID, at time.Time) error

	// SetRelationshipPercentage mirrors a verified or re-alleged value
	// into the structural fact.
	SetRelationshipPercentage(ctx context.Context, relID id.RelationshipID, pct float64, at time.Time) error

	// DeleteRelationship removes the row entirely (remove-edge only).
	DeleteRelationship(ctx context.Context, relID id.RelationshipID) error
}

// VerificationStore persists per-context verification records.
type VerificationStore interface {
	// UpsertVerification inserts or refreshes the record for
	// (context, relationship). Used by allege; the version token is
	// incremented on update.
	UpsertVerification(ctx context.Context, rec models.VerificationRecord) (models.VerificationRecord, error)

	GetVerification(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) (models.VerificationRecord, error)

	// UpdateVerification writes the record if and only if the stored
	// version equals rec.Version; on success the stored version becomes
	// rec.Version+1. A mismatch returns CodeConflict.
	UpdateVerification(ctx context.Context, rec models.VerificationRecord) error

	// ListVerificationsByRelationship returns the record of every review
	// context tracking the given edge.
	ListVerificationsByRelationship(ctx context.Context, relID id.RelationshipID) ([]models.VerificationRecord, error)

	// ListContextEdges returns every verification record in the context
	// joined with its relationship.
	ListContextEdges(ctx context.Context, ctxID id.ReviewContextID) ([]ContextEdge, error)

	// SumSatisfiedOwnership totals the alleged-or-observed percentage of
	// proven and waived ownership edges from the given entity within the
	// context. Input to the beneficial-owner threshold rule.
	SumSatisfiedOwnership(ctx context.Context, ctxID id.ReviewContextID, fromEntity id.EntityID) (float64, error)

	// DeleteVerificationsByRelationship removes all records for the edge
	// (remove-edge only).
	DeleteVerificationsByRelationship(ctx context.Context, relID id.RelationshipID) error
}

// ProofStore persists the append-only proof log.
type ProofStore interface {
	CreateProof(ctx context.Context, proof models.Proof) error

	GetProof(ctx context.Context, proofID id.ProofID) (models.Proof, error)

	// MarkProofDirty flags the proof invalidated without touching the
	// edges it supports.
	MarkProofDirty(ctx context.Context, proofID id.ProofID, reason string, at time.Time) error

	// ListProofsByContext returns every proof linked within the context.
	ListProofsByContext(ctx context.Context, ctxID id.ReviewContextID) ([]models.Proof, error)

	// ListProofsByRelationship returns the proofs linked to one edge in
	// one context.
	ListProofsByRelationship(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) ([]models.Proof, error)
}

// AssertionLogStore persists the append-only gate audit.
type AssertionLogStore interface {
	AppendAssertion(ctx context.Context, entry models.AssertionLogEntry) error
	ListAssertions(ctx context.Context, ctxID id.ReviewContextID) ([]models.AssertionLogEntry, error)
}

// SnapshotStore persists immutable evaluation snapshots.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap models.EvaluationSnapshot) error
	ListSnapshots(ctx context.Context, ctxID id.ReviewContextID) ([]models.EvaluationSnapshot, error)
}

// DecisionStore persists review decisions.
type DecisionStore interface {
	CreateDecision(ctx context.Context, rec models.DecisionRecord) error

	// LatestDecision returns the most recent decision recorded for the
	// context, or CodeNotFound when none exists.
	LatestDecision(ctx context.Context, ctxID id.ReviewContextID) (models.DecisionRecord, error)

	// SetDecisionReview stamps a next review date onto an existing
	// decision and replaces its conditions text.
	SetDecisionReview(ctx context.Context, decisionID id.DecisionID, nextReview time.Time, conditions string) error
}
