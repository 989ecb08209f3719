package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// CreateSnapshot writes one immutable evaluation snapshot. There is no
// update path; re-evaluation inserts a new row.
func (s *Store) CreateSnapshot(ctx context.Context, snap models.EvaluationSnapshot) error {
	query := `
		INSERT INTO evaluation_snapshots (
			id, context_id, case_id,
			soft_flags, escalate_flags, hard_stop_flags,
			expired_proofs, missing_proofs, disputed_edges, is_converged,
			score, action, evaluated_at, evaluated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(snap.ID),
		uuid.UUID(snap.ContextID),
		uuid.UUID(snap.CaseID),
		snap.SoftFlags,
		snap.EscalateFlags,
		snap.HardStopFlags,
		snap.ExpiredProofs,
		snap.MissingProofs,
		snap.DisputedEdges,
		snap.IsConverged,
		snap.Score,
		string(snap.Action),
		snap.EvaluatedAt,
		snap.EvaluatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a context's evaluation history, newest first.
func (s *Store) ListSnapshots(ctx context.Context, ctxID id.ReviewContextID) ([]models.EvaluationSnapshot, error) {
	query := `
		SELECT id, context_id, case_id,
			soft_flags, escalate_flags, hard_stop_flags,
			expired_proofs, missing_proofs, disputed_edges, is_converged,
			score, action, evaluated_at, evaluated_by
		FROM evaluation_snapshots
		WHERE context_id = $1
		ORDER BY evaluated_at DESC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(ctxID))
	if err != nil {
		return nil, fmt.Errorf("query evaluation snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.EvaluationSnapshot
	for rows.Next() {
		var (
			snap    models.EvaluationSnapshot
			snapID  uuid.UUID
			ctxUID  uuid.UUID
			caseUID uuid.UUID
			action  string
		)
		err := rows.Scan(
			&snapID, &ctxUID, &caseUID,
			&snap.SoftFlags, &snap.EscalateFlags, &snap.HardStopFlags,
			&snap.ExpiredProofs, &snap.MissingProofs, &snap.DisputedEdges, &snap.IsConverged,
			&snap.Score, &action, &snap.EvaluatedAt, &snap.EvaluatedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation snapshot: %w", err)
		}
		snap.ID = id.SnapshotID(snapID)
		snap.ContextID = id.ReviewContextID(ctxUID)
		snap.CaseID = id.CaseID(caseUID)
		snap.Action = models.RecommendedAction(action)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation snapshots: %w", err)
	}
	return snaps, nil
}

// CreateDecision writes one review decision.
func (s *Store) CreateDecision(ctx context.Context, rec models.DecisionRecord) error {
	query := `
		INSERT INTO review_decisions (
			id, context_id, case_id, decision, decided_by,
			rationale, conditions, next_review, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.ContextID),
		uuid.UUID(rec.CaseID),
		string(rec.Decision),
		rec.DecidedBy,
		rec.Rationale,
		rec.Conditions,
		rec.NextReview,
		rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review decision: %w", err)
	}
	return nil
}

// LatestDecision returns the most recent decision for the context.
func (s *Store) LatestDecision(ctx context.Context, ctxID id.ReviewContextID) (models.DecisionRecord, error) {
	query := `
		SELECT id, context_id, case_id, decision, decided_by,
			rationale, conditions, next_review, decided_at
		FROM review_decisions
		WHERE context_id = $1
		ORDER BY decided_at DESC
		LIMIT 1`
	var (
		rec      models.DecisionRecord
		recID    uuid.UUID
		ctxUID   uuid.UUID
		caseUID  uuid.UUID
		decision string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(ctxID)).Scan(
		&recID, &ctxUID, &caseUID, &decision, &rec.DecidedBy,
		&rec.Rationale, &rec.Conditions, &rec.NextReview, &rec.DecidedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DecisionRecord{}, dErrors.New(dErrors.CodeNotFound, "no decision recorded for review context")
	}
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("query latest decision: %w", err)
	}
	rec.ID = id.DecisionID(recID)
	rec.ContextID = id.ReviewContextID(ctxUID)
	rec.CaseID = id.CaseID(caseUID)
	rec.Decision = models.Decision(decision)
	return rec, nil
}

// SetDecisionReview stamps a next review date onto an existing decision.
func (s *Store) SetDecisionReview(ctx context.Context, decisionID id.DecisionID, nextReview time.Time, conditions string) error {
	query := `UPDATE review_decisions SET next_review = $2, conditions = $3 WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(decisionID), nextReview, conditions)
	if err != nil {
		return fmt.Errorf("update decision review date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update decision review date: %w", err)
	}
	if n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "decision not found")
	}
	return nil
}
