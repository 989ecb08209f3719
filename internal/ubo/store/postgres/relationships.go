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

const relationshipColumns = `
	id, from_entity_id, to_entity_id, kind,
	percentage, control_type, trust_role, interest_type,
	effective_from, effective_to, source, notes,
	created_at, updated_at`

// UpsertRelationship inserts the edge or refreshes the currently-open edge
// for the same (from, to, kind, sub-type). The conflict target matches the
// partial unique index on open edges, so ended edges never collide with a
// re-allegation.
func (s *Store) UpsertRelationship(ctx context.Context, rel models.Relationship) (models.Relationship, error) {
	query := `
		INSERT INTO entity_relationships (
			id, from_entity_id, to_entity_id, kind,
			percentage, control_type, trust_role, interest_type,
			effective_from, source, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (from_entity_id, to_entity_id, kind,
			COALESCE(control_type, ''), COALESCE(trust_role, ''), COALESCE(interest_type, ''))
		WHERE effective_to IS NULL
		DO UPDATE SET
			percentage = EXCLUDED.percentage,
			source     = EXCLUDED.source,
			notes      = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + relationshipColumns

	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(rel.ID),
		uuid.UUID(rel.FromEntityID),
		uuid.UUID(rel.ToEntityID),
		string(rel.Kind),
		rel.Percentage,
		controlTypeArg(rel.ControlType),
		rel.TrustRole,
		rel.InterestType,
		rel.EffectiveFrom,
		rel.Source,
		rel.Notes,
		rel.CreatedAt,
	)
	stored, err := scanRelationship(row)
	if err != nil {
		return models.Relationship{}, fmt.Errorf("upsert relationship: %w", err)
	}
	return stored, nil
}

// GetRelationship loads one edge by id.
func (s *Store) GetRelationship(ctx context.Context, relID id.RelationshipID) (models.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM entity_relationships WHERE id = $1`
	rel, err := scanRelationship(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(relID)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Relationship{}, dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	if err != nil {
		return models.Relationship{}, fmt.Errorf("get relationship: %w", err)
	}
	return rel, nil
}

// CreateRelationship inserts a successor edge created by a cascade.
func (s *Store) CreateRelationship(ctx context.Context, rel models.Relationship) error {
	query := `
		INSERT INTO entity_relationships (
			id, from_entity_id, to_entity_id, kind,
			percentage, control_type, trust_role, interest_type,
			effective_from, source, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(rel.ID),
		uuid.UUID(rel.FromEntityID),
		uuid.UUID(rel.ToEntityID),
		string(rel.Kind),
		rel.Percentage,
		controlTypeArg(rel.ControlType),
		rel.TrustRole,
		rel.InterestType,
		rel.EffectiveFrom,
		rel.Source,
		rel.Notes,
		rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// ListOpenRelationshipsFrom returns currently-open ownership and control
// edges originating at the entity. Input to the mark-deceased cascade.
func (s *Store) ListOpenRelationshipsFrom(ctx context.Context, entityID id.EntityID) ([]models.Relationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM entity_relationships
		WHERE from_entity_id = $1
		  AND kind IN ('ownership', 'control')
		  AND effective_to IS NULL
		ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("query open relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// FindOpenControlEdge locates the open control edge matching
// (from, controlled, controlType).
func (s *Store) FindOpenControlEdge(ctx context.Context, from, controlled id.EntityID, controlType models.ControlType) (models.Relationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM entity_relationships
		WHERE from_entity_id = $1
		  AND to_entity_id = $2
		  AND kind = 'control'
		  AND control_type = $3
		  AND effective_to IS NULL`
	rel, err := scanRelationship(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(from), uuid.UUID(controlled), string(controlType)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Relationship{}, dErrors.New(dErrors.CodeNotFound, "no open control relationship matches")
	}
	if err != nil {
		return models.Relationship{}, fmt.Errorf("find control edge: %w", err)
	}
	return rel, nil
}

// EndRelationship closes the edge at the given date, keeping the row.
func (s *Store) EndRelationship(ctx context.Context, relID id.RelationshipID, at time.Time) error {
	query := `
		UPDATE entity_relationships
		SET effective_to = $2, updated_at = $3
		WHERE id = $1 AND effective_to IS NULL`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(relID), at, time.Now())
	if err != nil {
		return fmt.Errorf("end relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "no open relationship to end")
	}
	return nil
}

// SetRelationshipPercentage mirrors a verified or re-alleged value into
// the structural fact.
func (s *Store) SetRelationshipPercentage(ctx context.Context, relID id.RelationshipID, pct float64, at time.Time) error {
	query := `UPDATE entity_relationships SET percentage = $2, updated_at = $3 WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(relID), pct, at)
	if err != nil {
		return fmt.Errorf("set relationship percentage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	return nil
}

// DeleteRelationship removes the row entirely. Only the remove-edge
// correction path calls this; lifecycle cascades end edges instead.
func (s *Store) DeleteRelationship(ctx context.Context, relID id.RelationshipID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM entity_relationships WHERE id = $1`, uuid.UUID(relID))
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	return nil
}

func controlTypeArg(ct *models.ControlType) *string {
	if ct == nil {
		return nil
	}
	s := string(*ct)
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row rowScanner) (models.Relationship, error) {
	var (
		rel         models.Relationship
		relID       uuid.UUID
		fromID      uuid.UUID
		toID        uuid.UUID
		kind        string
		controlType *string
	)
	err := row.Scan(
		&relID, &fromID, &toID, &kind,
		&rel.Percentage, &controlType, &rel.TrustRole, &rel.InterestType,
		&rel.EffectiveFrom, &rel.EffectiveTo, &rel.Source, &rel.Notes,
		&rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		return models.Relationship{}, err
	}
	rel.ID = id.RelationshipID(relID)
	rel.FromEntityID = id.EntityID(fromID)
	rel.ToEntityID = id.EntityID(toID)
	rel.Kind = models.RelationshipKind(kind)
	if controlType != nil {
		ct := models.ControlType(*controlType)
		rel.ControlType = &ct
	}
	return rel, nil
}

func scanRelationships(rows *sql.Rows) ([]models.Relationship, error) {
	var rels []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}
