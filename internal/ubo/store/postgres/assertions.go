package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	id "converge/pkg/domain"
)

// AppendAssertion writes one gate-check audit row and enqueues the same
// payload to the outbox for Kafka publishing. Both inserts ride whatever
// transaction the context carries, so a rolled-back gate call leaves no
// audit residue and no stray outbox message.
func (s *Store) AppendAssertion(ctx context.Context, entry models.AssertionLogEntry) error {
	var detail []byte
	if entry.Detail != nil {
		var err error
		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshal assertion detail: %w", err)
		}
	}

	query := `
		INSERT INTO assertion_log (
			context_id, kind, expected, actual, passed, detail, checked_at, checked_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ContextID),
		entry.Kind,
		entry.Expected,
		entry.Actual,
		entry.Passed,
		detail,
		entry.CheckedAt,
		entry.CheckedBy,
	)
	if err != nil {
		return fmt.Errorf("insert assertion log entry: %w", err)
	}

	payload, err := json.Marshal(outboxAssertion{
		ContextID: entry.ContextID.String(),
		Kind:      entry.Kind,
		Expected:  entry.Expected,
		Actual:    entry.Actual,
		Passed:    entry.Passed,
		CheckedAt: entry.CheckedAt.Format(time.RFC3339Nano),
		CheckedBy: entry.CheckedBy,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.execer(ctx).ExecContext(ctx, outboxQuery,
		uuid.New(),
		"review_context",
		entry.ContextID.String(),
		"assertion."+entry.Kind,
		payload,
		entry.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// outboxAssertion is the JSON structure published to Kafka.
type outboxAssertion struct {
	ContextID string `json:"context_id"`
	Kind      string `json:"kind"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Passed    bool   `json:"passed"`
	CheckedAt string `json:"checked_at"`
	CheckedBy string `json:"checked_by,omitempty"`
}

// ListAssertions returns the audit trail for a context, oldest first.
func (s *Store) ListAssertions(ctx context.Context, ctxID id.ReviewContextID) ([]models.AssertionLogEntry, error) {
	query := `
		SELECT id, context_id, kind, expected, actual, passed, detail, checked_at, checked_by
		FROM assertion_log
		WHERE context_id = $1
		ORDER BY id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(ctxID))
	if err != nil {
		return nil, fmt.Errorf("query assertion log: %w", err)
	}
	defer rows.Close()

	var entries []models.AssertionLogEntry
	for rows.Next() {
		var (
			entry  models.AssertionLogEntry
			ctxUID uuid.UUID
			detail []byte
		)
		err := rows.Scan(
			&entry.ID, &ctxUID, &entry.Kind, &entry.Expected, &entry.Actual,
			&entry.Passed, &detail, &entry.CheckedAt, &entry.CheckedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan assertion log entry: %w", err)
		}
		entry.ContextID = id.ReviewContextID(ctxUID)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal assertion detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assertion log: %w", err)
	}
	return entries, nil
}
