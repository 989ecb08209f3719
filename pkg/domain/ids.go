package domain

import (
	"github.com/google/uuid"

	dErrors "converge/pkg/domain-errors"
)

// Typed identifiers for the core aggregates. Wrapping uuid.UUID keeps
// cross-type assignment a compile error: a RelationshipID can never be
// passed where a ReviewContextID is expected.
type (
	// EntityID identifies a legal person, company, or trust in the
	// external entity registry.
	EntityID uuid.UUID

	// RelationshipID identifies a directed ownership/control/trust-role
	// edge in the relationship store.
	RelationshipID uuid.UUID

	// ReviewContextID scopes verification state to one client business
	// unit under review. The same structural relationship may carry
	// independent verification state per context.
	ReviewContextID uuid.UUID

	// CaseID identifies a case in the external case/workstream subsystem.
	CaseID uuid.UUID

	// DocumentID identifies a document in the external document store.
	DocumentID uuid.UUID

	// ProofID identifies a proof row linking a document to an edge.
	ProofID uuid.UUID

	// SnapshotID identifies an immutable evaluation snapshot.
	SnapshotID uuid.UUID

	// DecisionID identifies a recorded review decision.
	DecisionID uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return u, nil
}

// ParseEntityID validates and returns an EntityID.
func ParseEntityID(s string) (EntityID, error) {
	u, err := parseUUID("entity id", s)
	return EntityID(u), err
}

// ParseRelationshipID validates and returns a RelationshipID.
func ParseRelationshipID(s string) (RelationshipID, error) {
	u, err := parseUUID("relationship id", s)
	return RelationshipID(u), err
}

// ParseReviewContextID validates and returns a ReviewContextID.
func ParseReviewContextID(s string) (ReviewContextID, error) {
	u, err := parseUUID("review context id", s)
	return ReviewContextID(u), err
}

// ParseCaseID validates and returns a CaseID.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID("case id", s)
	return CaseID(u), err
}

// ParseDocumentID validates and returns a DocumentID.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID("document id", s)
	return DocumentID(u), err
}

// ParseProofID validates and returns a ProofID.
func ParseProofID(s string) (ProofID, error) {
	u, err := parseUUID("proof id", s)
	return ProofID(u), err
}

// NewRelationshipID returns a fresh random RelationshipID.
func NewRelationshipID() RelationshipID { return RelationshipID(uuid.New()) }

// NewProofID returns a fresh random ProofID.
func NewProofID() ProofID { return ProofID(uuid.New()) }

// NewSnapshotID returns a fresh random SnapshotID.
func NewSnapshotID() SnapshotID { return SnapshotID(uuid.New()) }

// NewDecisionID returns a fresh random DecisionID.
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }

func (id EntityID) String() string        { return uuid.UUID(id).String() }
func (id RelationshipID) String() string  { return uuid.UUID(id).String() }
func (id ReviewContextID) String() string { return uuid.UUID(id).String() }
func (id CaseID) String() string          { return uuid.UUID(id).String() }
func (id DocumentID) String() string      { return uuid.UUID(id).String() }
func (id ProofID) String() string         { return uuid.UUID(id).String() }
func (id SnapshotID) String() string      { return uuid.UUID(id).String() }
func (id DecisionID) String() string      { return uuid.UUID(id).String() }

// Text marshaling keeps the canonical string form on the wire; wrapping
// uuid.UUID in a defined type drops its methods, so each wrapper
// re-declares them.
func (id EntityID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id RelationshipID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ReviewContextID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id CaseID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }
func (id DocumentID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ProofID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id SnapshotID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id DecisionID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *EntityID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EntityID(u)
	return err
}

func (id *RelationshipID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = RelationshipID(u)
	return err
}

func (id *ReviewContextID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ReviewContextID(u)
	return err
}

func (id *CaseID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = CaseID(u)
	return err
}

func (id *DocumentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = DocumentID(u)
	return err
}

func (id *ProofID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ProofID(u)
	return err
}

func (id *SnapshotID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = SnapshotID(u)
	return err
}

func (id *DecisionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = DecisionID(u)
	return err
}

func (id EntityID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RelationshipID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ReviewContextID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ProofID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id SnapshotID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
