package workstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	txcontext "converge/pkg/platform/tx"
)

// PostgresPort implements Port against the case subsystem's tables. All
// writes go through execer so they join the engine's transactions: a
// decision and its case-status change land atomically or not at all.
type PostgresPort struct {
	db *sql.DB
}

func NewPostgresPort(db *sql.DB) *PostgresPort {
	return &PostgresPort{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresPort) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

func (p *PostgresPort) ActiveCase(ctx context.Context, ctxID id.ReviewContextID) (id.CaseID, error) {
	var caseUID uuid.UUID
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT id FROM review_cases
		 WHERE context_id = $1 AND status NOT IN ('closed', 'cancelled')
		 ORDER BY opened_at DESC
		 LIMIT 1`,
		uuid.UUID(ctxID),
	).Scan(&caseUID)
	if errors.Is(err, sql.ErrNoRows) {
		return id.CaseID{}, dErrors.New(dErrors.CodeNotFound, "no active case for review context")
	}
	if err != nil {
		return id.CaseID{}, fmt.Errorf("query active case: %w", err)
	}
	return id.CaseID(caseUID), nil
}

func (p *PostgresPort) RedFlags(ctx context.Context, caseID id.CaseID) (RedFlagCounts, error) {
	var counts RedFlagCounts
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE severity = 'soft'),
			COUNT(*) FILTER (WHERE severity = 'escalate'),
			COUNT(*) FILTER (WHERE severity = 'hard_stop')
		 FROM case_red_flags
		 WHERE case_id = $1 AND resolved_at IS NULL`,
		uuid.UUID(caseID),
	).Scan(&counts.Soft, &counts.Escalate, &counts.HardStop)
	if err != nil {
		return RedFlagCounts{}, fmt.Errorf("query red flags: %w", err)
	}
	return counts, nil
}

func (p *PostgresPort) SetBeneficialOwner(ctx context.Context, caseID id.CaseID, person id.EntityID, isUBO bool, ownershipPct float64) error {
	query := `
		INSERT INTO case_beneficial_owners (case_id, entity_id, is_ubo, ownership_pct, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (case_id, entity_id)
		DO UPDATE SET is_ubo = EXCLUDED.is_ubo,
		              ownership_pct = EXCLUDED.ownership_pct,
		              updated_at = EXCLUDED.updated_at`
	_, err := p.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(caseID), uuid.UUID(person), isUBO, ownershipPct, time.Now())
	if err != nil {
		return fmt.Errorf("set beneficial owner: %w", err)
	}
	return nil
}

func (p *PostgresPort) ClearBeneficialOwner(ctx context.Context, person id.EntityID) error {
	_, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE case_beneficial_owners
		 SET is_ubo = FALSE, updated_at = $2
		 WHERE entity_id = $1`,
		uuid.UUID(person), time.Now())
	if err != nil {
		return fmt.Errorf("clear beneficial owner: %w", err)
	}
	return nil
}

func (p *PostgresPort) SetCaseStatus(ctx context.Context, caseID id.CaseID, status string) error {
	res, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE review_cases SET status = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(caseID), status, time.Now())
	if err != nil {
		return fmt.Errorf("set case status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return nil
}

func (p *PostgresPort) SetContextStatus(ctx context.Context, ctxID id.ReviewContextID, status string) error {
	res, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE review_contexts SET status = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(ctxID), status, time.Now())
	if err != nil {
		return fmt.Errorf("set context status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "review context not found")
	}
	return nil
}

func (p *PostgresPort) AppendCaseEvent(ctx context.Context, event CaseEvent) error {
	var detail []byte
	if event.Detail != nil {
		var err error
		detail, err = json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshal case event detail: %w", err)
		}
	}
	_, err := p.execer(ctx).ExecContext(ctx,
		`INSERT INTO case_events (id, case_id, event_type, detail, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), uuid.UUID(event.CaseID), event.EventType, detail,
		event.CreatedAt, event.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert case event: %w", err)
	}
	return nil
}
