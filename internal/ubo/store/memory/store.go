// Package memory implements store.Store with in-process maps. It backs
// the unit tests: RunInTx snapshots the whole state and restores it when
// the callback fails, giving the same all-or-nothing behavior the
// postgres store gets from real transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"converge/internal/ubo/models"
	"converge/internal/ubo/store"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

type verificationKey struct {
	ctxID id.ReviewContextID
	relID id.RelationshipID
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex
	// txMu serializes transactions so a snapshot/restore pair never
	// interleaves with another transaction.
	txMu sync.Mutex

	relationships map[id.RelationshipID]models.Relationship
	verifications map[verificationKey]models.VerificationRecord
	proofs        map[id.ProofID]models.Proof
	proofOrder    []id.ProofID
	assertions    []models.AssertionLogEntry
	snapshots     []models.EvaluationSnapshot
	decisions     []models.DecisionRecord
	nextAssertion int64

	failures map[string]error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		relationships: make(map[id.RelationshipID]models.Relationship),
		verifications: make(map[verificationKey]models.VerificationRecord),
		proofs:        make(map[id.ProofID]models.Proof),
		failures:      make(map[string]error),
		nextAssertion: 1,
	}
}

// FailNext arranges for the next call of the named operation to return
// err. Used by tests to drive mid-cascade failures.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) takeFailure(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// RunInTx snapshots all state, runs fn, and restores the snapshot when fn
// fails. Nested calls join the outer "transaction".
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.copyState()
	if err := fn(withMemTx(ctx)); err != nil {
		s.restoreState(snapshot)
		return err
	}
	return nil
}

type memTxKey struct{}

func withMemTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, memTxKey{}, true)
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

type state struct {
	relationships map[id.RelationshipID]models.Relationship
	verifications map[verificationKey]models.VerificationRecord
	proofs        map[id.ProofID]models.Proof
	proofOrder    []id.ProofID
	assertions    []models.AssertionLogEntry
	snapshots     []models.EvaluationSnapshot
	decisions     []models.DecisionRecord
	nextAssertion int64
}

func (s *Store) copyState() state {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := state{
		relationships: make(map[id.RelationshipID]models.Relationship, len(s.relationships)),
		verifications: make(map[verificationKey]models.VerificationRecord, len(s.verifications)),
		proofs:        make(map[id.ProofID]models.Proof, len(s.proofs)),
		proofOrder:    append([]id.ProofID(nil), s.proofOrder...),
		assertions:    append([]models.AssertionLogEntry(nil), s.assertions...),
		snapshots:     append([]models.EvaluationSnapshot(nil), s.snapshots...),
		decisions:     append([]models.DecisionRecord(nil), s.decisions...),
		nextAssertion: s.nextAssertion,
	}
	for k, v := range s.relationships {
		st.relationships[k] = v
	}
	for k, v := range s.verifications {
		st.verifications[k] = v
	}
	for k, v := range s.proofs {
		st.proofs[k] = v
	}
	return st
}

func (s *Store) restoreState(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = st.relationships
	s.verifications = st.verifications
	s.proofs = st.proofs
	s.proofOrder = st.proofOrder
	s.assertions = st.assertions
	s.snapshots = st.snapshots
	s.decisions = st.decisions
	s.nextAssertion = st.nextAssertion
}

// -----------------------------------------------------------------------------
// Relationships
// -----------------------------------------------------------------------------

func subTypeKey(rel models.Relationship) string {
	var ct, tr, it string
	if rel.ControlType != nil {
		ct = string(*rel.ControlType)
	}
	if rel.TrustRole != nil {
		tr = *rel.TrustRole
	}
	if rel.InterestType != nil {
		it = *rel.InterestType
	}
	return strings.Join([]string{ct, tr, it}, "|")
}

func (s *Store) UpsertRelationship(_ context.Context, rel models.Relationship) (models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpsertRelationship"); err != nil {
		return models.Relationship{}, err
	}

	for _, existing := range s.relationships {
		if existing.FromEntityID == rel.FromEntityID &&
			existing.ToEntityID == rel.ToEntityID &&
			existing.Kind == rel.Kind &&
			existing.EffectiveTo == nil &&
			subTypeKey(existing) == subTypeKey(rel) {
			existing.Percentage = rel.Percentage
			existing.Source = rel.Source
			existing.Notes = rel.Notes
			existing.UpdatedAt = rel.CreatedAt
			s.relationships[existing.ID] = existing
			return existing, nil
		}
	}

	rel.UpdatedAt = rel.CreatedAt
	s.relationships[rel.ID] = rel
	return rel, nil
}

func (s *Store) GetRelationship(_ context.Context, relID id.RelationshipID) (models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relationships[relID]
	if !ok {
		return models.Relationship{}, dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	return rel, nil
}

func (s *Store) CreateRelationship(_ context.Context, rel models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateRelationship"); err != nil {
		return err
	}
	rel.UpdatedAt = rel.CreatedAt
	s.relationships[rel.ID] = rel
	return nil
}

func (s *Store) ListOpenRelationshipsFrom(_ context.Context, entityID id.EntityID) ([]models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rels []models.Relationship
	for _, rel := range s.relationships {
		if rel.FromEntityID == entityID && rel.EffectiveTo == nil &&
			(rel.Kind == models.KindOwnership || rel.Kind == models.KindControl) {
			rels = append(rels, rel)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].CreatedAt.Before(rels[j].CreatedAt) })
	return rels, nil
}

func (s *Store) FindOpenControlEdge(_ context.Context, from, controlled id.EntityID, controlType models.ControlType) (models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rel := range s.relationships {
		if rel.FromEntityID == from && rel.ToEntityID == controlled &&
			rel.Kind == models.KindControl && rel.EffectiveTo == nil &&
			rel.ControlType != nil && *rel.ControlType == controlType {
			return rel, nil
		}
	}
	return models.Relationship{}, dErrors.New(dErrors.CodeNotFound, "no open control relationship matches")
}

func (s *Store) EndRelationship(_ context.Context, relID id.RelationshipID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("EndRelationship"); err != nil {
		return err
	}
	rel, ok := s.relationships[relID]
	if !ok || rel.EffectiveTo != nil {
		return dErrors.New(dErrors.CodeNotFound, "no open relationship to end")
	}
	ended := at
	rel.EffectiveTo = &ended
	rel.UpdatedAt = time.Now()
	s.relationships[relID] = rel
	return nil
}

func (s *Store) SetRelationshipPercentage(_ context.Context, relID id.RelationshipID, pct float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relationships[relID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	rel.Percentage = &pct
	rel.UpdatedAt = at
	s.relationships[relID] = rel
	return nil
}

func (s *Store) DeleteRelationship(_ context.Context, relID id.RelationshipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[relID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "relationship not found")
	}
	delete(s.relationships, relID)
	return nil
}

// -----------------------------------------------------------------------------
// Verification records
// -----------------------------------------------------------------------------

func (s *Store) UpsertVerification(_ context.Context, rec models.VerificationRecord) (models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpsertVerification"); err != nil {
		return models.VerificationRecord{}, err
	}

	key := verificationKey{rec.ContextID, rec.RelationshipID}
	if existing, ok := s.verifications[key]; ok {
		existing.AllegedPercentage = rec.AllegedPercentage
		existing.AllegedBy = rec.AllegedBy
		existing.AllegationSource = rec.AllegationSource
		existing.AllegedAt = rec.AllegedAt
		if existing.Status == models.StatusProven &&
			!floatPtrEqual(existing.ObservedPercentage, rec.AllegedPercentage) {
			existing.Status = models.StatusAlleged
		}
		existing.Version++
		existing.UpdatedAt = rec.CreatedAt
		s.verifications[key] = existing
		return existing, nil
	}

	rec.Version = 1
	rec.UpdatedAt = rec.CreatedAt
	s.verifications[key] = rec
	return rec, nil
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) GetVerification(_ context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) (models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.verifications[verificationKey{ctxID, relID}]
	if !ok {
		return models.VerificationRecord{}, dErrors.New(dErrors.CodeNotFound, "verification record not found")
	}
	return rec, nil
}

func (s *Store) UpdateVerification(_ context.Context, rec models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdateVerification"); err != nil {
		return err
	}

	key := verificationKey{rec.ContextID, rec.RelationshipID}
	existing, ok := s.verifications[key]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "verification record not found")
	}
	if existing.Version != rec.Version {
		return dErrors.New(dErrors.CodeConflict, "verification modified concurrently")
	}
	rec.Version++
	s.verifications[key] = rec
	return nil
}

func (s *Store) ListVerificationsByRelationship(_ context.Context, relID id.RelationshipID) ([]models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recs []models.VerificationRecord
	for key, rec := range s.verifications {
		if key.relID == relID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ContextID.String() < recs[j].ContextID.String()
	})
	return recs, nil
}

func (s *Store) ListContextEdges(_ context.Context, ctxID id.ReviewContextID) ([]store.ContextEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges []store.ContextEdge
	for key, rec := range s.verifications {
		if key.ctxID != ctxID {
			continue
		}
		rel, ok := s.relationships[key.relID]
		if !ok {
			continue
		}
		edges = append(edges, store.ContextEdge{Relationship: rel, Verification: rec})
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Verification.CreatedAt.Before(edges[j].Verification.CreatedAt)
	})
	return edges, nil
}

func (s *Store) SumSatisfiedOwnership(_ context.Context, ctxID id.ReviewContextID, fromEntity id.EntityID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for key, rec := range s.verifications {
		if key.ctxID != ctxID || !rec.Status.Satisfied() {
			continue
		}
		rel, ok := s.relationships[key.relID]
		if !ok || rel.FromEntityID != fromEntity ||
			rel.Kind != models.KindOwnership || rel.EffectiveTo != nil {
			continue
		}
		switch {
		case rec.ObservedPercentage != nil:
			total += *rec.ObservedPercentage
		case rec.AllegedPercentage != nil:
			total += *rec.AllegedPercentage
		case rel.Percentage != nil:
			total += *rel.Percentage
		}
	}
	return total, nil
}

func (s *Store) DeleteVerificationsByRelationship(_ context.Context, relID id.RelationshipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeleteVerificationsByRelationship"); err != nil {
		return err
	}
	for key := range s.verifications {
		if key.relID == relID {
			delete(s.verifications, key)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Proofs
// -----------------------------------------------------------------------------

func (s *Store) CreateProof(_ context.Context, proof models.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateProof"); err != nil {
		return err
	}
	s.proofs[proof.ID] = proof
	s.proofOrder = append(s.proofOrder, proof.ID)
	return nil
}

func (s *Store) GetProof(_ context.Context, proofID id.ProofID) (models.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proof, ok := s.proofs[proofID]
	if !ok {
		return models.Proof{}, dErrors.New(dErrors.CodeNotFound, "proof not found")
	}
	return proof, nil
}

func (s *Store) MarkProofDirty(_ context.Context, proofID id.ProofID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proof, ok := s.proofs[proofID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "proof not found")
	}
	proof.Status = models.ProofDirty
	proof.DirtyReason = reason
	dirtyAt := at
	proof.DirtyAt = &dirtyAt
	s.proofs[proofID] = proof
	return nil
}

func (s *Store) ListProofsByContext(_ context.Context, ctxID id.ReviewContextID) ([]models.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var proofs []models.Proof
	for _, pid := range s.proofOrder {
		if proof, ok := s.proofs[pid]; ok && proof.ContextID == ctxID {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (s *Store) ListProofsByRelationship(_ context.Context, ctxID id.ReviewContextID, relID id.RelationshipID) ([]models.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var proofs []models.Proof
	for _, pid := range s.proofOrder {
		if proof, ok := s.proofs[pid]; ok && proof.ContextID == ctxID && proof.RelationshipID == relID {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

// -----------------------------------------------------------------------------
// Assertion log, snapshots, decisions
// -----------------------------------------------------------------------------

func (s *Store) AppendAssertion(_ context.Context, entry models.AssertionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("AppendAssertion"); err != nil {
		return err
	}
	entry.ID = s.nextAssertion
	s.nextAssertion++
	s.assertions = append(s.assertions, entry)
	return nil
}

func (s *Store) ListAssertions(_ context.Context, ctxID id.ReviewContextID) ([]models.AssertionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.AssertionLogEntry
	for _, entry := range s.assertions {
		if entry.ContextID == ctxID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) CreateSnapshot(_ context.Context, snap models.EvaluationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateSnapshot"); err != nil {
		return err
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *Store) ListSnapshots(_ context.Context, ctxID id.ReviewContextID) ([]models.EvaluationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snaps []models.EvaluationSnapshot
	for _, snap := range s.snapshots {
		if snap.ContextID == ctxID {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].EvaluatedAt.After(snaps[j].EvaluatedAt)
	})
	return snaps, nil
}

func (s *Store) CreateDecision(_ context.Context, rec models.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateDecision"); err != nil {
		return err
	}
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *Store) LatestDecision(_ context.Context, ctxID id.ReviewContextID) (models.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest models.DecisionRecord
		found  bool
	)
	for _, rec := range s.decisions {
		if rec.ContextID != ctxID {
			continue
		}
		if !found || rec.DecidedAt.After(latest.DecidedAt) {
			latest = rec
			found = true
		}
	}
	if !found {
		return models.DecisionRecord{}, dErrors.New(dErrors.CodeNotFound, "no decision recorded for review context")
	}
	return latest, nil
}

func (s *Store) SetDecisionReview(_ context.Context, decisionID id.DecisionID, nextReview time.Time, conditions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SetDecisionReview"); err != nil {
		return err
	}
	for i, rec := range s.decisions {
		if rec.ID != decisionID {
			continue
		}
		next := nextReview
		s.decisions[i].NextReview = &next
		s.decisions[i].Conditions = conditions
		return nil
	}
	return dErrors.New(dErrors.CodeNotFound, "decision not found")
}

// Decisions returns all recorded decisions. Test helper.
func (s *Store) Decisions() []models.DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DecisionRecord(nil), s.decisions...)
}
