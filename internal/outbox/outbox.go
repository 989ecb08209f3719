// Package outbox drains the transactional outbox to Kafka. Audit rows and
// their outbox messages commit together in the store; this relay gives
// at-least-once delivery to downstream consumers without dual writes.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Message is one undelivered outbox row.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Publisher delivers one message to the event stream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close()
}

// Worker polls the outbox table and relays unpublished rows in order.
type Worker struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		w.batchSize = n
	}
}

func NewWorker(db *sql.DB, publisher Publisher, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		db:        db,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  interval,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is canceled. Delivery failures are logged
// and retried on the next tick; rows are only marked published after the
// broker acknowledges.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// drain relays one batch. SKIP LOCKED lets multiple replicas poll the
// same table without double-delivering within a cycle.
func (w *Worker) drain(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, w.batchSize)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	var batch []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID,
			&msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	rows.Close()

	if len(batch) == 0 {
		return nil
	}

	published := 0
	for _, msg := range batch {
		if err := w.publisher.Publish(ctx, msg); err != nil {
			// Stop at the first failure to preserve per-aggregate ordering.
			w.logger.WarnContext(ctx, "outbox publish failed; will retry",
				"outbox_id", msg.ID,
				"event_type", msg.EventType,
				"error", err,
			)
			break
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = $1`, msg.ID); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox tx: %w", err)
	}
	if published > 0 {
		w.logger.DebugContext(ctx, "outbox batch relayed", "published", published)
	}
	return nil
}
