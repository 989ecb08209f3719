// Package bindings implements the typed symbol environment used to thread
// results between workflow steps. A step may bind its result under a name;
// later steps reference the name instead of repeating literals.
//
// The value space is closed: an identifier, a record, or a count. Lookups
// are kind-checked, so a symbol bound as a count can never flow into an
// argument expecting an identifier.
package bindings

import (
	"github.com/google/uuid"

	"converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// Kind classifies a bound value.
type Kind string

const (
	KindID     Kind = "id"
	KindRecord Kind = "record"
	KindCount  Kind = "count"
)

// Value is one bound result. Construct via ID, Record, or Count.
type Value struct {
	kind   Kind
	id     uuid.UUID
	record map[string]any
	count  int
}

// ID wraps an identifier as a bindable value.
func ID(u uuid.UUID) Value { return Value{kind: KindID, id: u} }

// Record wraps a key-value payload as a bindable value.
func Record(r map[string]any) Value { return Value{kind: KindRecord, record: r} }

// Count wraps an integer result as a bindable value.
func Count(n int) Value { return Value{kind: KindCount, count: n} }

// Kind returns the value's classification.
func (v Value) Kind() Kind { return v.kind }

// Env is a flat symbol table for one workflow execution. It is not safe
// for concurrent use; each execution owns its own Env.
type Env struct {
	vals map[string]Value
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{vals: make(map[string]Value)}
}

// Bind stores v under name, replacing any previous binding.
func (e *Env) Bind(name string, v Value) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "binding name must not be empty")
	}
	e.vals[name] = v
	return nil
}

// Resolve returns the value bound under name.
func (e *Env) Resolve(name string) (Value, error) {
	v, ok := e.vals[name]
	if !ok {
		return Value{}, dErrors.Newf(dErrors.CodeNotFound, "no binding named %q", name)
	}
	return v, nil
}

// ResolveID returns the identifier bound under name, rejecting bindings of
// any other kind.
func (e *Env) ResolveID(name string) (uuid.UUID, error) {
	v, err := e.Resolve(name)
	if err != nil {
		return uuid.Nil, err
	}
	if v.kind != KindID {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"binding %q holds a %s, expected an id", name, v.kind)
	}
	return v.id, nil
}

// ResolveCount returns the count bound under name.
func (e *Env) ResolveCount(name string) (int, error) {
	v, err := e.Resolve(name)
	if err != nil {
		return 0, err
	}
	if v.kind != KindCount {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput,
			"binding %q holds a %s, expected a count", name, v.kind)
	}
	return v.count, nil
}

// ResolveRecord returns the record bound under name.
func (e *Env) ResolveRecord(name string) (map[string]any, error) {
	v, err := e.Resolve(name)
	if err != nil {
		return nil, err
	}
	if v.kind != KindRecord {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"binding %q holds a %s, expected a record", name, v.kind)
	}
	return v.record, nil
}

// EntityRef names an entity either by literal identifier or by a symbol
// bound earlier in the same execution. Exactly one side must be set.
type EntityRef struct {
	Literal string `json:"literal,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// ResolveEntity turns the reference into a concrete EntityID, consulting
// env when the reference is symbolic. env may be nil for literal-only use.
func (r EntityRef) ResolveEntity(env *Env) (domain.EntityID, error) {
	switch {
	case r.Literal != "" && r.Symbol != "":
		return domain.EntityID{}, dErrors.New(dErrors.CodeInvalidInput,
			"entity ref must set literal or symbol, not both")
	case r.Literal != "":
		return domain.ParseEntityID(r.Literal)
	case r.Symbol != "":
		if env == nil {
			return domain.EntityID{}, dErrors.Newf(dErrors.CodeInvalidInput,
				"symbolic entity ref %q used outside a workflow execution", r.Symbol)
		}
		u, err := env.ResolveID(r.Symbol)
		if err != nil {
			return domain.EntityID{}, err
		}
		return domain.EntityID(u), nil
	default:
		return domain.EntityID{}, dErrors.New(dErrors.CodeInvalidInput, "entity ref must not be empty")
	}
}
