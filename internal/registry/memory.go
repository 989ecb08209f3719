package registry

import (
	"context"
	"sync"

	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// MemoryResolver is a map-backed Resolver for unit tests.
type MemoryResolver struct {
	mu       sync.RWMutex
	entities map[id.EntityID]Entity
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{entities: make(map[id.EntityID]Entity)}
}

// Add registers an entity.
func (r *MemoryResolver) Add(entity Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity.ID] = entity
}

// Remove forgets an entity. Test helper for degraded-lookup paths.
func (r *MemoryResolver) Remove(entityID id.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, entityID)
}

func (r *MemoryResolver) Get(_ context.Context, entityID id.EntityID) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.entities[entityID]
	if !ok {
		return Entity{}, dErrors.New(dErrors.CodeNotFound, "entity not found")
	}
	return entity, nil
}
