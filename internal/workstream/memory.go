package workstream

import (
	"context"
	"sync"

	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

type boKey struct {
	caseID id.CaseID
	person id.EntityID
}

// BeneficialOwnerFlag is the memory port's record of one UBO determination.
type BeneficialOwnerFlag struct {
	IsUBO        bool
	OwnershipPct float64
}

// MemoryPort is a map-backed Port for unit tests. Tests preload cases and
// red flags, then inspect the flags and events the engine wrote.
type MemoryPort struct {
	mu sync.RWMutex

	activeCases     map[id.ReviewContextID]id.CaseID
	redFlags        map[id.CaseID]RedFlagCounts
	owners          map[boKey]BeneficialOwnerFlag
	caseStatuses    map[id.CaseID]string
	contextStatuses map[id.ReviewContextID]string
	events          []CaseEvent

	failNext map[string]error
}

func NewMemoryPort() *MemoryPort {
	return &MemoryPort{
		activeCases:     make(map[id.ReviewContextID]id.CaseID),
		redFlags:        make(map[id.CaseID]RedFlagCounts),
		owners:          make(map[boKey]BeneficialOwnerFlag),
		caseStatuses:    make(map[id.CaseID]string),
		contextStatuses: make(map[id.ReviewContextID]string),
		failNext:        make(map[string]error),
	}
}

// OpenCase registers an active case for a context. Test helper.
func (p *MemoryPort) OpenCase(ctxID id.ReviewContextID, caseID id.CaseID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeCases[ctxID] = caseID
	p.caseStatuses[caseID] = "open"
}

// SetRedFlags sets the flag tallies for a case. Test helper.
func (p *MemoryPort) SetRedFlags(caseID id.CaseID, counts RedFlagCounts) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redFlags[caseID] = counts
}

// FailNext arranges for the next call of the named operation to fail.
func (p *MemoryPort) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = err
}

func (p *MemoryPort) takeFailure(op string) error {
	if err, ok := p.failNext[op]; ok {
		delete(p.failNext, op)
		return err
	}
	return nil
}

func (p *MemoryPort) ActiveCase(_ context.Context, ctxID id.ReviewContextID) (id.CaseID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	caseID, ok := p.activeCases[ctxID]
	if !ok {
		return id.CaseID{}, dErrors.New(dErrors.CodeNotFound, "no active case for review context")
	}
	return caseID, nil
}

func (p *MemoryPort) RedFlags(_ context.Context, caseID id.CaseID) (RedFlagCounts, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.redFlags[caseID], nil
}

func (p *MemoryPort) SetBeneficialOwner(_ context.Context, caseID id.CaseID, person id.EntityID, isUBO bool, ownershipPct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("SetBeneficialOwner"); err != nil {
		return err
	}
	p.owners[boKey{caseID, person}] = BeneficialOwnerFlag{IsUBO: isUBO, OwnershipPct: ownershipPct}
	return nil
}

func (p *MemoryPort) ClearBeneficialOwner(_ context.Context, person id.EntityID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("ClearBeneficialOwner"); err != nil {
		return err
	}
	for key, flag := range p.owners {
		if key.person == person {
			flag.IsUBO = false
			p.owners[key] = flag
		}
	}
	return nil
}

func (p *MemoryPort) SetCaseStatus(_ context.Context, caseID id.CaseID, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("SetCaseStatus"); err != nil {
		return err
	}
	if _, ok := p.caseStatuses[caseID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	p.caseStatuses[caseID] = status
	return nil
}

func (p *MemoryPort) SetContextStatus(_ context.Context, ctxID id.ReviewContextID, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("SetContextStatus"); err != nil {
		return err
	}
	p.contextStatuses[ctxID] = status
	return nil
}

func (p *MemoryPort) AppendCaseEvent(_ context.Context, event CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("AppendCaseEvent"); err != nil {
		return err
	}
	p.events = append(p.events, event)
	return nil
}

// BeneficialOwner returns the recorded flag for (case, person). Test helper.
func (p *MemoryPort) BeneficialOwner(caseID id.CaseID, person id.EntityID) (BeneficialOwnerFlag, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	flag, ok := p.owners[boKey{caseID, person}]
	return flag, ok
}

// CaseStatus returns the current status of a case. Test helper.
func (p *MemoryPort) CaseStatus(caseID id.CaseID) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caseStatuses[caseID]
}

// ContextStatus returns the current status of a review context. Test helper.
func (p *MemoryPort) ContextStatus(ctxID id.ReviewContextID) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contextStatuses[ctxID]
}

// Events returns all appended case events. Test helper.
func (p *MemoryPort) Events() []CaseEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]CaseEvent(nil), p.events...)
}
