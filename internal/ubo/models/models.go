package models

import (
	"time"

	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// RelationshipKind classifies a structural edge between two entities.
type RelationshipKind string

const (
	KindOwnership RelationshipKind = "ownership"
	KindControl   RelationshipKind = "control"
	KindTrustRole RelationshipKind = "trust_role"
)

// ParseRelationshipKind creates a RelationshipKind from a string, validating it.
func ParseRelationshipKind(s string) (RelationshipKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "relationship kind cannot be empty")
	}
	k := RelationshipKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation,
			"invalid relationship kind: must be 'ownership', 'control' or 'trust_role'")
	}
	return k, nil
}

// IsValid checks if the kind is one of the supported enum values.
func (k RelationshipKind) IsValid() bool {
	switch k {
	case KindOwnership, KindControl, KindTrustRole:
		return true
	}
	return false
}

// String returns the string representation.
func (k RelationshipKind) String() string {
	return string(k)
}

// VerificationStatus is the per-context state of one relationship edge.
//
// Normal progression is alleged -> pending -> proven or disputed. The
// override states waived and unverified are set by waivers and lifecycle
// cascades respectively.
type VerificationStatus string

const (
	StatusAlleged    VerificationStatus = "alleged"
	StatusPending    VerificationStatus = "pending"
	StatusProven     VerificationStatus = "proven"
	StatusDisputed   VerificationStatus = "disputed"
	StatusWaived     VerificationStatus = "waived"
	StatusUnverified VerificationStatus = "unverified"
)

// IsValid checks if the status is one of the supported enum values.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusAlleged, StatusPending, StatusProven, StatusDisputed, StatusWaived, StatusUnverified:
		return true
	}
	return false
}

// Satisfied reports whether the status counts toward convergence.
func (s VerificationStatus) Satisfied() bool {
	return s == StatusProven || s == StatusWaived
}

// String returns the string representation.
func (s VerificationStatus) String() string {
	return string(s)
}

// ControlType classifies how a controller exercises control.
type ControlType string

const (
	ControlBoardMember      ControlType = "board_member"
	ControlExecutive        ControlType = "executive"
	ControlVotingRights     ControlType = "voting_rights"
	ControlVetoRights       ControlType = "veto_rights"
	ControlBoardAppointment ControlType = "board_appointment"
)

// IsValid checks if the control type is one of the supported enum values.
func (c ControlType) IsValid() bool {
	switch c {
	case ControlBoardMember, ControlExecutive, ControlVotingRights,
		ControlVetoRights, ControlBoardAppointment:
		return true
	}
	return false
}

// String returns the string representation.
func (c ControlType) String() string {
	return string(c)
}

// WaiverType classifies why verification of an edge was waived.
type WaiverType string

const (
	WaiverRegulatoryExemption     WaiverType = "regulatory_exemption"
	WaiverLowRisk                 WaiverType = "low_risk"
	WaiverListedCompany           WaiverType = "listed_company"
	WaiverGovernmentEntity        WaiverType = "government_entity"
	WaiverAlternativeVerification WaiverType = "alternative_verification"
	WaiverOther                   WaiverType = "other"
)

// ParseWaiverType creates a WaiverType from a string, validating it.
func ParseWaiverType(s string) (WaiverType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "waiver type cannot be empty")
	}
	w := WaiverType(s)
	if !w.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid waiver type: "+s)
	}
	return w, nil
}

// IsValid checks if the waiver type is one of the supported enum values.
func (w WaiverType) IsValid() bool {
	switch w {
	case WaiverRegulatoryExemption, WaiverLowRisk, WaiverListedCompany,
		WaiverGovernmentEntity, WaiverAlternativeVerification, WaiverOther:
		return true
	}
	return false
}

// String returns the string representation.
func (w WaiverType) String() string {
	return string(w)
}

// ProofStatus tracks the freshness of a linked proof.
type ProofStatus string

const (
	ProofPending ProofStatus = "pending"
	// ProofDirty marks a proof invalidated after linking (registry update,
	// superseded filing). Dirty proofs fail freshness checks but do not
	// reopen the edges they support.
	ProofDirty ProofStatus = "dirty"
)

// Relationship is a structural edge between two entities, independent of
// any review context. Superseded or ended edges keep their row with
// EffectiveTo set; only remove-edge deletes rows.
type Relationship struct {
	ID           id.RelationshipID `json:"id"`
	FromEntityID id.EntityID       `json:"from_entity_id"`
	ToEntityID   id.EntityID       `json:"to_entity_id"`
	Kind         RelationshipKind  `json:"kind"`

	// Percentage applies to ownership edges only (0-100).
	Percentage *float64 `json:"percentage,omitempty"`
	// ControlType applies to control edges only.
	ControlType *ControlType `json:"control_type,omitempty"`
	// TrustRole applies to trust_role edges only.
	TrustRole *string `json:"trust_role,omitempty"`
	// InterestType qualifies ownership edges (e.g. "direct", "indirect").
	InterestType *string `json:"interest_type,omitempty"`

	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Source        string     `json:"source,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsOpen reports whether the edge is currently effective.
func (r Relationship) IsOpen() bool {
	return r.EffectiveTo == nil
}

// Validate enforces structural invariants at construction boundaries.
func (r Relationship) Validate() error {
	if r.FromEntityID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "relationship requires a from entity")
	}
	if r.ToEntityID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "relationship requires a to entity")
	}
	if !r.Kind.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "relationship kind is invalid")
	}
	if r.Percentage != nil && (*r.Percentage < 0 || *r.Percentage > 100) {
		return dErrors.New(dErrors.CodeInvariantViolation, "percentage must be between 0 and 100")
	}
	if r.ControlType != nil && !r.ControlType.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "control type is invalid")
	}
	return nil
}

// VerificationRecord is the review-context-scoped verification state of
// one relationship. Key: (ContextID, RelationshipID).
type VerificationRecord struct {
	ContextID      id.ReviewContextID `json:"context_id"`
	RelationshipID id.RelationshipID  `json:"relationship_id"`

	AllegedPercentage *float64   `json:"alleged_percentage,omitempty"`
	AllegedBy         string     `json:"alleged_by,omitempty"`
	AllegationSource  string     `json:"allegation_source,omitempty"`
	AllegedAt         *time.Time `json:"alleged_at,omitempty"`

	ObservedPercentage *float64       `json:"observed_percentage,omitempty"`
	ProofDocumentID    *id.DocumentID `json:"proof_document_id,omitempty"`
	DiscrepancyNotes   string         `json:"discrepancy_notes,omitempty"`

	Status     VerificationStatus `json:"status"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy string             `json:"resolved_by,omitempty"`

	// WaivedUntil carries the waiver expiry when Status is waived.
	WaivedUntil *time.Time `json:"waived_until,omitempty"`

	// Version is the optimistic-concurrency token. Every mutation
	// increments it; a stale-version write fails with a conflict instead
	// of silently overwriting a concurrent resolution.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Proof is an append-only record linking a document to a relationship
// within a review context.
type Proof struct {
	ID             id.ProofID         `json:"id"`
	ContextID      id.ReviewContextID `json:"context_id"`
	RelationshipID id.RelationshipID  `json:"relationship_id"`
	DocumentID     id.DocumentID      `json:"document_id"`
	ProofType      string             `json:"proof_type"`
	ValidFrom      *time.Time         `json:"valid_from,omitempty"`
	ValidUntil     *time.Time         `json:"valid_until,omitempty"`
	Status         ProofStatus        `json:"status"`
	DirtyReason    string             `json:"dirty_reason,omitempty"`
	DirtyAt        *time.Time         `json:"dirty_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Expired reports whether the proof's validity window has ended, or the
// proof was invalidated, as of now.
func (p Proof) Expired(now time.Time) bool {
	if p.Status == ProofDirty {
		return true
	}
	return p.ValidUntil != nil && p.ValidUntil.Before(now)
}

// ConvergenceStatus is the derived per-context rollup.
type ConvergenceStatus struct {
	ContextID   id.ReviewContextID `json:"context_id"`
	Total       int                `json:"total"`
	Proven      int                `json:"proven"`
	Alleged     int                `json:"alleged"`
	Pending     int                `json:"pending"`
	Disputed    int                `json:"disputed"`
	Unverified  int                `json:"unverified"`
	Waived      int                `json:"waived"`
	IsConverged bool               `json:"is_converged"`
	// ConvergencePercentage is satisfied edges over total; 100 when the
	// context has no edges at all.
	ConvergencePercentage float64        `json:"convergence_percentage"`
	Blocking              []BlockingEdge `json:"blocking"`
}

// BlockingEdge annotates one relationship that is holding back convergence.
type BlockingEdge struct {
	RelationshipID id.RelationshipID  `json:"relationship_id"`
	FromEntityID   id.EntityID        `json:"from_entity_id"`
	ToEntityID     id.EntityID        `json:"to_entity_id"`
	FromName       string             `json:"from_name"`
	ToName         string             `json:"to_name"`
	Kind           RelationshipKind   `json:"kind"`
	Status         VerificationStatus `json:"status"`
}

// AssertionLogEntry is one append-only audit row per gate check or
// lifecycle audit event. Never mutated or deleted.
type AssertionLogEntry struct {
	ID        int64              `json:"id"`
	ContextID id.ReviewContextID `json:"context_id"`
	Kind      string             `json:"kind"`
	Expected  string             `json:"expected"`
	Actual    string             `json:"actual"`
	Passed    bool               `json:"passed"`
	Detail    map[string]any     `json:"detail,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
	CheckedBy string             `json:"checked_by,omitempty"`
}

// EvaluationSnapshot is an immutable point-in-time risk evaluation.
// Re-evaluation always writes a new snapshot.
type EvaluationSnapshot struct {
	ID        id.SnapshotID      `json:"id"`
	ContextID id.ReviewContextID `json:"context_id"`
	CaseID    id.CaseID          `json:"case_id"`

	SoftFlags     int  `json:"soft_flags"`
	EscalateFlags int  `json:"escalate_flags"`
	HardStopFlags int  `json:"hard_stop_flags"`
	ExpiredProofs int  `json:"expired_proofs"`
	MissingProofs int  `json:"missing_proofs"`
	DisputedEdges int  `json:"disputed_edges"`
	IsConverged   bool `json:"is_converged"`

	Score  int               `json:"score"`
	Action RecommendedAction `json:"action"`

	EvaluatedAt time.Time `json:"evaluated_at"`
	EvaluatedBy string    `json:"evaluated_by,omitempty"`
}

// RecommendedAction is the outcome of a risk evaluation, in descending
// severity.
type RecommendedAction string

const (
	ActionReject    RecommendedAction = "REJECT"
	ActionEscalate  RecommendedAction = "ESCALATE"
	ActionRemediate RecommendedAction = "REMEDIATE"
	ActionApprove   RecommendedAction = "APPROVE"
	ActionPending   RecommendedAction = "PENDING"
)

// Decision is a recorded review outcome for a context.
type Decision string

const (
	DecisionApproved    Decision = "APPROVED"
	DecisionRejected    Decision = "REJECTED"
	DecisionReferred    Decision = "REFERRED"
	DecisionPendingInfo Decision = "PENDING_INFO"
)

// ParseDecision creates a Decision from a string, validating it.
func ParseDecision(s string) (Decision, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "decision cannot be empty")
	}
	d := Decision(s)
	if !d.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation,
			"invalid decision: must be 'APPROVED', 'REJECTED', 'REFERRED' or 'PENDING_INFO'")
	}
	return d, nil
}

// IsValid checks if the decision is one of the supported enum values.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionReferred, DecisionPendingInfo:
		return true
	}
	return false
}

// String returns the string representation.
func (d Decision) String() string {
	return string(d)
}

// DecisionRecord is the persisted form of a review decision.
type DecisionRecord struct {
	ID         id.DecisionID      `json:"id"`
	ContextID  id.ReviewContextID `json:"context_id"`
	CaseID     id.CaseID          `json:"case_id"`
	Decision   Decision           `json:"decision"`
	DecidedBy  string             `json:"decided_by"`
	Rationale  string             `json:"rationale"`
	Conditions string             `json:"conditions,omitempty"`
	NextReview *time.Time         `json:"next_review,omitempty"`
	DecidedAt  time.Time          `json:"decided_at"`
}

// GraphNode is one deduplicated entity in a traverse result.
type GraphNode struct {
	EntityID id.EntityID `json:"entity_id"`
	Name     string      `json:"name"`
}

// GraphEdge is one annotated relationship in a traverse result.
type GraphEdge struct {
	RelationshipID id.RelationshipID  `json:"relationship_id"`
	FromEntityID   id.EntityID        `json:"from_entity_id"`
	ToEntityID     id.EntityID        `json:"to_entity_id"`
	FromName       string             `json:"from_name"`
	ToName         string             `json:"to_name"`
	Kind           RelationshipKind   `json:"kind"`
	Percentage     *float64           `json:"percentage,omitempty"`
	Status         VerificationStatus `json:"status"`
	HasProof       bool               `json:"has_proof"`
}
