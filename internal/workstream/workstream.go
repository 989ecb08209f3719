// Package workstream is the port to the case/workstream subsystem. The
// engine reads the active case and its red-flag counts, and writes back
// beneficial-owner flags, decision-driven status changes, and case events.
package workstream

import (
	"context"
	"time"

	id "converge/pkg/domain"
)

// RedFlagCounts are the externally maintained risk-flag tallies for a case.
type RedFlagCounts struct {
	Soft     int
	Escalate int
	HardStop int
}

// CaseEvent is one entry in a case's activity feed.
type CaseEvent struct {
	CaseID    id.CaseID
	EventType string
	Detail    map[string]any
	CreatedAt time.Time
	CreatedBy string
}

// Port is the full case-subsystem surface the engine consumes.
type Port interface {
	// ActiveCase returns the case currently open for the review context.
	// CodeNotFound when the context has no active case.
	ActiveCase(ctx context.Context, ctxID id.ReviewContextID) (id.CaseID, error)

	// RedFlags returns the severity tallies for a case.
	RedFlags(ctx context.Context, caseID id.CaseID) (RedFlagCounts, error)

	// SetBeneficialOwner upserts the UBO flag for a natural person on the
	// case. ownershipPct records the total that justified the flag.
	SetBeneficialOwner(ctx context.Context, caseID id.CaseID, person id.EntityID, isUBO bool, ownershipPct float64) error

	// ClearBeneficialOwner removes the person's UBO flag from every case
	// that carries it. Used by the mark-deceased cascade.
	ClearBeneficialOwner(ctx context.Context, person id.EntityID) error

	// SetCaseStatus moves the case to a new workflow status.
	SetCaseStatus(ctx context.Context, caseID id.CaseID, status string) error

	// SetContextStatus moves the review context to a new status.
	SetContextStatus(ctx context.Context, ctxID id.ReviewContextID, status string) error

	// AppendCaseEvent records one activity-feed entry.
	AppendCaseEvent(ctx context.Context, event CaseEvent) error
}
