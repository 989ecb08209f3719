package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"converge/internal/ubo/models"
	"converge/internal/ubo/store"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

const verificationColumns = `
	context_id, relationship_id,
	alleged_percentage, alleged_by, allegation_source, alleged_at,
	observed_percentage, proof_document_id, discrepancy_notes,
	status, resolved_at, resolved_by, waived_until,
	version, created_at, updated_at`

// UpsertVerification records a fresh allegation. On conflict the
// allegation snapshot is replaced and the status regresses to alleged
// only when the record was proven and the new allegation contradicts the
// previously observed value; otherwise the current status stands.
func (s *Store) UpsertVerification(ctx context.Context, rec models.VerificationRecord) (models.VerificationRecord, error) {
	query := `
		INSERT INTO verification_records (
			context_id, relationship_id,
			alleged_percentage, alleged_by, allegation_source, alleged_at,
			status, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		ON CONFLICT (context_id, relationship_id)
		DO UPDATE SET
			alleged_percentage = EXCLUDED.alleged_percentage,
			alleged_by         = EXCLUDED.alleged_by,
			allegation_source  = EXCLUDED.allegation_source,
			alleged_at         = EXCLUDED.alleged_at,
			status = CASE
				WHEN verification_records.status = 'proven'
				 AND verification_records.observed_percentage IS DISTINCT FROM EXCLUDED.alleged_percentage
				THEN 'alleged'
				ELSE verification_records.status
			END,
			version    = verification_records.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + verificationColumns

	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(rec.ContextID),
		uuid.UUID(rec.RelationshipID),
		rec.AllegedPercentage,
		rec.AllegedBy,
		rec.AllegationSource,
		rec.AllegedAt,
		string(rec.Status),
		rec.CreatedAt,
	)
	stored, err := scanVerification(row)
	if err != nil {
		return models.VerificationRecord{}, fmt.Errorf("upsert verification: %w", err)
	}
	return stored, nil
}

// GetVerification loads the record for (context, relationship).
func (s *Store) GetVerification(ctx context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) (models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verification_records WHERE context_id = $1 AND relationship_id = $2`
	rec, err := scanVerification(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(ctxID), uuid.UUID(relID)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.VerificationRecord{}, dErrors.New(dErrors.CodeNotFound, "verification record not found")
	}
	if err != nil {
		return models.VerificationRecord{}, fmt.Errorf("get verification: %w", err)
	}
	return rec, nil
}

// UpdateVerification writes the record guarded by its version token. A
// concurrent mutation since the caller's read surfaces as CodeConflict.
func (s *Store) UpdateVerification(ctx context.Context, rec models.VerificationRecord) error {
	query := `
		UPDATE verification_records
		SET alleged_percentage  = $3,
		    alleged_by          = $4,
		    allegation_source   = $5,
		    alleged_at          = $6,
		    observed_percentage = $7,
		    proof_document_id   = $8,
		    discrepancy_notes   = $9,
		    status              = $10,
		    resolved_at         = $11,
		    resolved_by         = $12,
		    waived_until        = $13,
		    version             = version + 1,
		    updated_at          = $14
		WHERE context_id = $1 AND relationship_id = $2 AND version = $15`

	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ContextID),
		uuid.UUID(rec.RelationshipID),
		rec.AllegedPercentage,
		rec.AllegedBy,
		rec.AllegationSource,
		rec.AllegedAt,
		rec.ObservedPercentage,
		documentIDArg(rec.ProofDocumentID),
		rec.DiscrepancyNotes,
		string(rec.Status),
		rec.ResolvedAt,
		rec.ResolvedBy,
		rec.WaivedUntil,
		rec.UpdatedAt,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification rows: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetVerification(ctx, rec.ContextID, rec.RelationshipID); getErr != nil {
			return getErr
		}
		return dErrors.New(dErrors.CodeConflict, "verification modified concurrently")
	}
	return nil
}

// ListVerificationsByRelationship returns every context's record for the edge.
func (s *Store) ListVerificationsByRelationship(ctx context.Context, relID id.RelationshipID) ([]models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verification_records WHERE relationship_id = $1 ORDER BY context_id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(relID))
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var recs []models.VerificationRecord
	for rows.Next() {
		rec, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return recs, nil
}

// ListContextEdges joins every verification record in the context with
// its relationship.
func (s *Store) ListContextEdges(ctx context.Context, ctxID id.ReviewContextID) ([]store.ContextEdge, error) {
	query := `
		SELECT
			r.id, r.from_entity_id, r.to_entity_id, r.kind,
			r.percentage, r.control_type, r.trust_role, r.interest_type,
			r.effective_from, r.effective_to, r.source, r.notes,
			r.created_at, r.updated_at,
			v.context_id, v.relationship_id,
			v.alleged_percentage, v.alleged_by, v.allegation_source, v.alleged_at,
			v.observed_percentage, v.proof_document_id, v.discrepancy_notes,
			v.status, v.resolved_at, v.resolved_by, v.waived_until,
			v.version, v.created_at, v.updated_at
		FROM verification_records v
		JOIN entity_relationships r ON r.id = v.relationship_id
		WHERE v.context_id = $1
		ORDER BY v.created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(ctxID))
	if err != nil {
		return nil, fmt.Errorf("query context edges: %w", err)
	}
	defer rows.Close()

	var edges []store.ContextEdge
	for rows.Next() {
		var (
			rel         models.Relationship
			rec         models.VerificationRecord
			relID       uuid.UUID
			fromID      uuid.UUID
			toID        uuid.UUID
			kind        string
			controlType *string
			vCtxID      uuid.UUID
			vRelID      uuid.UUID
			docID       *uuid.UUID
			status      string
		)
		err := rows.Scan(
			&relID, &fromID, &toID, &kind,
			&rel.Percentage, &controlType, &rel.TrustRole, &rel.InterestType,
			&rel.EffectiveFrom, &rel.EffectiveTo, &rel.Source, &rel.Notes,
			&rel.CreatedAt, &rel.UpdatedAt,
			&vCtxID, &vRelID,
			&rec.AllegedPercentage, &rec.AllegedBy, &rec.AllegationSource, &rec.AllegedAt,
			&rec.ObservedPercentage, &docID, &rec.DiscrepancyNotes,
			&status, &rec.ResolvedAt, &rec.ResolvedBy, &rec.WaivedUntil,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan context edge: %w", err)
		}
		rel.ID = id.RelationshipID(relID)
		rel.FromEntityID = id.EntityID(fromID)
		rel.ToEntityID = id.EntityID(toID)
		rel.Kind = models.RelationshipKind(kind)
		if controlType != nil {
			ct := models.ControlType(*controlType)
			rel.ControlType = &ct
		}
		rec.ContextID = id.ReviewContextID(vCtxID)
		rec.RelationshipID = id.RelationshipID(vRelID)
		rec.Status = models.VerificationStatus(status)
		if docID != nil {
			d := id.DocumentID(*docID)
			rec.ProofDocumentID = &d
		}
		edges = append(edges, store.ContextEdge{Relationship: rel, Verification: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context edges: %w", err)
	}
	return edges, nil
}

// SumSatisfiedOwnership totals proven/waived ownership from the entity
// within the context. Recomputed from authoritative rows on every proof
// event; never incrementally patched.
func (s *Store) SumSatisfiedOwnership(ctx context.Context, ctxID id.ReviewContextID, fromEntity id.EntityID) (float64, error) {
	query := `
		SELECT COALESCE(SUM(COALESCE(v.observed_percentage, v.alleged_percentage, r.percentage, 0)), 0)
		FROM verification_records v
		JOIN entity_relationships r ON r.id = v.relationship_id
		WHERE v.context_id = $1
		  AND r.from_entity_id = $2
		  AND r.kind = 'ownership'
		  AND r.effective_to IS NULL
		  AND v.status IN ('proven', 'waived')`
	var total float64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(ctxID), uuid.UUID(fromEntity)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum satisfied ownership: %w", err)
	}
	return total, nil
}

// DeleteVerificationsByRelationship removes all records for the edge.
func (s *Store) DeleteVerificationsByRelationship(ctx context.Context, relID id.RelationshipID) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM verification_records WHERE relationship_id = $1`, uuid.UUID(relID))
	if err != nil {
		return fmt.Errorf("delete verifications: %w", err)
	}
	return nil
}

func documentIDArg(d *id.DocumentID) *uuid.UUID {
	if d == nil {
		return nil
	}
	u := uuid.UUID(*d)
	return &u
}

func scanVerification(row rowScanner) (models.VerificationRecord, error) {
	var (
		rec    models.VerificationRecord
		ctxID  uuid.UUID
		relID  uuid.UUID
		docID  *uuid.UUID
		status string
	)
	err := row.Scan(
		&ctxID, &relID,
		&rec.AllegedPercentage, &rec.AllegedBy, &rec.AllegationSource, &rec.AllegedAt,
		&rec.ObservedPercentage, &docID, &rec.DiscrepancyNotes,
		&status, &rec.ResolvedAt, &rec.ResolvedBy, &rec.WaivedUntil,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return models.VerificationRecord{}, err
	}
	rec.ContextID = id.ReviewContextID(ctxID)
	rec.RelationshipID = id.RelationshipID(relID)
	rec.Status = models.VerificationStatus(status)
	if docID != nil {
		d := id.DocumentID(*docID)
		rec.ProofDocumentID = &d
	}
	return rec, nil
}
