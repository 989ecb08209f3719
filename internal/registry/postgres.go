package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// PostgresResolver reads the entities table maintained by the registry
// subsystem. Read-only from this engine's side.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Get(ctx context.Context, entityID id.EntityID) (Entity, error) {
	var (
		entity Entity
		uid    uuid.UUID
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, entity_type FROM entities WHERE id = $1`,
		uuid.UUID(entityID),
	).Scan(&uid, &entity.Name, &entity.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, dErrors.New(dErrors.CodeNotFound, "entity not found")
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get entity: %w", err)
	}
	entity.ID = id.EntityID(uid)
	return entity, nil
}
