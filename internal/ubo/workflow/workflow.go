// Package workflow executes scripted sequences of engine operations
// against one shared symbol environment. A step may bind its result under
// a name; later steps reference the binding instead of repeating
// identifiers.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"converge/internal/ubo/service"
	"converge/pkg/bindings"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// Step is one scripted operation.
type Step struct {
	Op     string          `json:"op"`
	BindAs string          `json:"bind_as,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// StepResult pairs a step with its output.
type StepResult struct {
	Op     string `json:"op"`
	Bound  string `json:"bound,omitempty"`
	Output any    `json:"output,omitempty"`
}

// Runner executes workflow scripts against the engine.
type Runner struct {
	svc *service.Service
}

func NewRunner(svc *service.Service) *Runner {
	return &Runner{svc: svc}
}

// ref names a relationship or proof by literal identifier or by symbol.
type ref struct {
	Literal string `json:"literal,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

func (r ref) resolve(env *bindings.Env) (uuid.UUID, error) {
	switch {
	case r.Literal != "" && r.Symbol != "":
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput,
			"ref must set literal or symbol, not both")
	case r.Literal != "":
		u, err := uuid.Parse(r.Literal)
		if err != nil {
			return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid identifier: "+r.Literal)
		}
		return u, nil
	case r.Symbol != "":
		return env.ResolveID(r.Symbol)
	default:
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "ref must not be empty")
	}
}

// Run executes the steps in order, stopping at the first failure. All
// symbols live in one environment scoped to this execution; steps run in
// their own transactions exactly as the equivalent direct calls would.
func (r *Runner) Run(ctx context.Context, ctxID id.ReviewContextID, steps []Step) ([]StepResult, error) {
	if len(steps) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "workflow requires at least one step")
	}

	env := bindings.NewEnv()
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		output, bound, err := r.runStep(ctx, ctxID, env, step)
		if err != nil {
			return results, dErrors.Wrapf(err, dErrors.CodeOf(err), "step %d (%s)", i+1, step.Op)
		}
		results = append(results, StepResult{Op: step.Op, Bound: bound, Output: output})
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, ctxID id.ReviewContextID, env *bindings.Env, step Step) (output any, bound string, err error) {
	switch step.Op {
	case "allege":
		var args struct {
			From         bindings.EntityRef `json:"from"`
			To           bindings.EntityRef `json:"to"`
			Kind         string             `json:"kind"`
			Percentage   *float64           `json:"percentage,omitempty"`
			ControlType  *string            `json:"control_type,omitempty"`
			TrustRole    *string            `json:"trust_role,omitempty"`
			InterestType *string            `json:"interest_type,omitempty"`
			Source       string             `json:"source"`
			AllegedBy    string             `json:"alleged_by"`
		}
		if err := decodeArgs(step.Args, &args); err != nil {
			return nil, "", err
		}
		from, err := args.From.ResolveEntity(env)
		if err != nil {
			return nil, "", err
		}
		to, err := args.To.ResolveEntity(env)
		if err != nil {
			return nil, "", err
		}
		result, err := r.svc.Allege(ctx, service.AllegeParams{
			ContextID:    ctxID,
			FromEntityID: from,
			ToEntityID:   to,
			Kind:         args.Kind,
			Percentage:   args.Percentage,
			ControlType:  args.ControlType,
			TrustRole:    args.TrustRole,
			InterestType: args.InterestType,
			Source:       args.Source,
			AllegedBy:    args.AllegedBy,
		})
		if err != nil {
			return nil, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.ID(uuid.UUID(result.Relationship.ID)))
		return result, bound, err

	case "link_proof":
		var args struct {
			Relationship ref        `json:"relationship"`
			DocumentID   string     `json:"document_id"`
			ProofType    string     `json:"proof_type"`
			ValidFrom    *time.Time `json:"valid_from,omitempty"`
			ValidUntil   *time.Time `json:"valid_until,omitempty"`
		}
		if err := decodeArgs(step.Args, &args); err != nil {
			return nil, "", err
		}
		relID, err := args.Relationship.resolve(env)
		if err != nil {
			return nil, "", err
		}
		docID, err := id.ParseDocumentID(args.DocumentID)
		if err != nil {
			return nil, "", err
		}
		proof, err := r.svc.LinkProof(ctx, service.LinkProofParams{
			ContextID:      ctxID,
			RelationshipID: id.RelationshipID(relID),
			DocumentID:     docID,
			ProofType:      args.ProofType,
			ValidFrom:      args.ValidFrom,
			ValidUntil:     args.ValidUntil,
		})
		if err != nil {
			return nil, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.ID(uuid.UUID(proof.ID)))
		return proof, bound, err

	case "verify":
		var args struct {
			Relationship       ref      `json:"relationship"`
			ObservedPercentage *float64 `json:"observed_percentage,omitempty"`
			ResolvedBy         string   `json:"resolved_by"`
		}
		if err := decodeArgs(step.Args, &args); err != nil {
			return nil, "", err
		}
		relID, err := args.Relationship.resolve(env)
		if err != nil {
			return nil, "", err
		}
		result, err := r.svc.Verify(ctx, service.VerifyParams{
			ContextID:          ctxID,
			RelationshipID:     id.RelationshipID(relID),
			ObservedPercentage: args.ObservedPercentage,
			ResolvedBy:         args.ResolvedBy,
		})
		if err != nil {
			return nil, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.Record(map[string]any{
			"status":   result.Status.String(),
			"observed": result.Observed,
		}))
		return result, bound, err

	case "status":
		status, err := r.svc.Status(ctx, ctxID)
		if err != nil {
			return nil, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.Count(len(status.Blocking)))
		return status, bound, err

	case "assert":
		var args struct {
			Checks []string `json:"checks"`
		}
		if err := decodeArgs(step.Args, &args); err != nil {
			return nil, "", err
		}
		checks, err := ParseChecks(args.Checks)
		if err != nil {
			return nil, "", err
		}
		result, err := r.svc.Assert(ctx, ctxID, checks)
		if err != nil {
			return result, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.Count(len(result.Results)))
		return result, bound, err

	case "waive":
		var args struct {
			Relationship ref        `json:"relationship"`
			WaiverType   string     `json:"waiver_type"`
			Reason       string     `json:"reason"`
			ApprovedBy   string     `json:"approved_by"`
			Expires      *time.Time `json:"expires,omitempty"`
		}
		if err := decodeArgs(step.Args, &args); err != nil {
			return nil, "", err
		}
		relID, err := args.Relationship.resolve(env)
		if err != nil {
			return nil, "", err
		}
		rec, err := r.svc.WaiveVerification(ctx, service.WaiveParams{
			ContextID:      ctxID,
			RelationshipID: id.RelationshipID(relID),
			WaiverType:     args.WaiverType,
			Reason:         args.Reason,
			ApprovedBy:     args.ApprovedBy,
			Expires:        args.Expires,
		})
		if err != nil {
			return nil, "", err
		}
		bound, err = bindResult(env, step.BindAs, bindings.Record(map[string]any{
			"status": rec.Status.String(),
		}))
		return rec, bound, err

	default:
		return nil, "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown workflow op %q", step.Op)
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "step args are required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid step args")
	}
	return nil
}

// bindResult records the step result under the requested symbol. An empty
// bind_as skips binding.
func bindResult(env *bindings.Env, name string, v bindings.Value) (string, error) {
	if name == "" {
		return "", nil
	}
	if err := env.Bind(name, v); err != nil {
		return "", err
	}
	return name, nil
}

// ParseChecks maps check names onto the assertion selector.
func ParseChecks(names []string) (service.Checks, error) {
	var checks service.Checks
	for _, name := range names {
		switch name {
		case "converged":
			checks.Converged = true
		case "no_expired_proofs":
			checks.NoExpiredProofs = true
		case "no_disputed_edges":
			checks.NoDisputedEdges = true
		case "no_missing_proofs":
			checks.NoMissingProofs = true
		case "no_expired_waivers":
			checks.NoExpiredWaivers = true
		default:
			return service.Checks{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown check %q", name)
		}
	}
	return checks, nil
}
