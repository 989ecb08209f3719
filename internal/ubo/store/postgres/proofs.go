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

const proofColumns = `
	id, context_id, relationship_id, document_id, proof_type,
	valid_from, valid_until, status, dirty_reason, dirty_at, created_at`

// CreateProof appends a proof row. Proof currency is validated by the
// service before this is reached.
func (s *Store) CreateProof(ctx context.Context, proof models.Proof) error {
	query := `
		INSERT INTO verification_proofs (
			id, context_id, relationship_id, document_id, proof_type,
			valid_from, valid_until, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(proof.ID),
		uuid.UUID(proof.ContextID),
		uuid.UUID(proof.RelationshipID),
		uuid.UUID(proof.DocumentID),
		proof.ProofType,
		proof.ValidFrom,
		proof.ValidUntil,
		string(proof.Status),
		proof.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

// GetProof loads one proof by id.
func (s *Store) GetProof(ctx context.Context, proofID id.ProofID) (models.Proof, error) {
	query := `SELECT ` + proofColumns + ` FROM verification_proofs WHERE id = $1`
	proof, err := scanProof(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(proofID)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Proof{}, dErrors.New(dErrors.CodeNotFound, "proof not found")
	}
	if err != nil {
		return models.Proof{}, fmt.Errorf("get proof: %w", err)
	}
	return proof, nil
}

// MarkProofDirty flags the proof invalidated. The edges it supports are
// untouched; freshness checks pick the dirty proof up on the next assert.
func (s *Store) MarkProofDirty(ctx context.Context, proofID id.ProofID, reason string, at time.Time) error {
	query := `
		UPDATE verification_proofs
		SET status = 'dirty', dirty_reason = $2, dirty_at = $3
		WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(proofID), reason, at)
	if err != nil {
		return fmt.Errorf("mark proof dirty: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "proof not found")
	}
	return nil
}

// ListProofsByContext returns every proof linked within the context.
func (s *Store) ListProofsByContext(ctx context.Context, ctxID id.ReviewContextID) ([]models.Proof, error) {
	query := `SELECT ` + proofColumns + `
		FROM verification_proofs WHERE context_id = $1 ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(ctxID))
	if err != nil {
		return nil, fmt.Errorf("query proofs: %w", err)
	}
	defer rows.Close()
	return scanProofs(rows)
}

// ListProofsByRelationship returns the proofs linked to one edge in one context.
func (s *Store) ListProofsByRelationship(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) ([]models.Proof, error) {
	query := `SELECT ` + proofColumns + `
		FROM verification_proofs
		WHERE context_id = $1 AND relationship_id = $2
		ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(ctxID), uuid.UUID(relID))
	if err != nil {
		return nil, fmt.Errorf("query proofs: %w", err)
	}
	defer rows.Close()
	return scanProofs(rows)
}

func scanProof(row rowScanner) (models.Proof, error) {
	var (
		proof   models.Proof
		proofID uuid.UUID
		ctxID   uuid.UUID
		relID   uuid.UUID
		docID   uuid.UUID
		status  string
	)
	err := row.Scan(
		&proofID, &ctxID, &relID, &docID, &proof.ProofType,
		&proof.ValidFrom, &proof.ValidUntil, &status,
		&proof.DirtyReason, &proof.DirtyAt, &proof.CreatedAt,
	)
	if err != nil {
		return models.Proof{}, err
	}
	proof.ID = id.ProofID(proofID)
	proof.ContextID = id.ReviewContextID(ctxID)
	proof.RelationshipID = id.RelationshipID(relID)
	proof.DocumentID = id.DocumentID(docID)
	proof.Status = models.ProofStatus(status)
	return proof, nil
}

func scanProofs(rows *sql.Rows) ([]models.Proof, error) {
	var proofs []models.Proof
	for rows.Next() {
		proof, err := scanProof(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		proofs = append(proofs, proof)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proofs: %w", err)
	}
	return proofs, nil
}
