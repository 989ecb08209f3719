// Package registry is the port to the entity/party registry. The engine
// never creates entities; it only resolves identifiers to display names
// and entity kinds for graph annotation and the natural-person check.
package registry

import (
	"context"

	id "converge/pkg/domain"
)

// Entity is the registry's view of a legal person, company, or trust.
type Entity struct {
	ID   id.EntityID `json:"id"`
	Name string      `json:"name"`
	Kind string      `json:"kind"`
}

// IsNaturalPerson reports whether the entity is a person, the only kind
// eligible for beneficial-owner status.
func (e Entity) IsNaturalPerson() bool {
	return e.Kind == "natural_person"
}

// Resolver looks up entities by identifier.
type Resolver interface {
	Get(ctx context.Context, entityID id.EntityID) (Entity, error)
}
