package handler

import (
	"strings"
	"time"

	"converge/internal/ubo/workflow"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
)

// AllegeRequest is the HTTP request body for POST /contexts/{id}/allegations.
type AllegeRequest struct {
	FromEntityID string   `json:"from_entity_id"`
	ToEntityID   string   `json:"to_entity_id"`
	Kind         string   `json:"kind"`
	Percentage   *float64 `json:"percentage,omitempty"`
	ControlType  *string  `json:"control_type,omitempty"`
	TrustRole    *string  `json:"trust_role,omitempty"`
	InterestType *string  `json:"interest_type,omitempty"`
	Source       string   `json:"source"`

	parsedFrom id.EntityID
	parsedTo   id.EntityID
}

func (r *AllegeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Kind = strings.TrimSpace(r.Kind)
	if r.Kind == "" {
		return dErrors.New(dErrors.CodeValidation, "kind is required")
	}

	from, err := id.ParseEntityID(r.FromEntityID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid from_entity_id")
	}
	to, err := id.ParseEntityID(r.ToEntityID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid to_entity_id")
	}
	r.parsedFrom = from
	r.parsedTo = to
	return nil
}

func (r *AllegeRequest) ParsedFrom() id.EntityID { return r.parsedFrom }
func (r *AllegeRequest) ParsedTo() id.EntityID   { return r.parsedTo }

// LinkProofRequest attaches a document to an alleged relationship.
type LinkProofRequest struct {
	DocumentID string     `json:"document_id"`
	ProofType  string     `json:"proof_type"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	parsedDocumentID id.DocumentID
}

func (r *LinkProofRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ProofType = strings.TrimSpace(r.ProofType)
	if r.ProofType == "" {
		return dErrors.New(dErrors.CodeValidation, "proof_type is required")
	}
	docID, err := id.ParseDocumentID(r.DocumentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid document_id")
	}
	r.parsedDocumentID = docID
	return nil
}

func (r *LinkProofRequest) ParsedDocumentID() id.DocumentID { return r.parsedDocumentID }

// UpdateAllegationRequest revises the alleged percentage on an edge.
type UpdateAllegationRequest struct {
	Percentage *float64 `json:"percentage"`
}

func (r *UpdateAllegationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// VerifyRequest reconciles the allegation against observed evidence.
type VerifyRequest struct {
	ObservedPercentage *float64 `json:"observed_percentage,omitempty"`
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ObservedPercentage != nil && (*r.ObservedPercentage < 0 || *r.ObservedPercentage > 100) {
		return dErrors.New(dErrors.CodeValidation, "observed_percentage must be between 0 and 100")
	}
	return nil
}

// AssertRequest selects the gate checks to evaluate.
type AssertRequest struct {
	Checks []string `json:"checks"`
}

func (r *AssertRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Checks) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one check is required")
	}
	return nil
}

// EvaluateRequest runs a risk evaluation; case_id is optional and
// defaults to the context's active case.
type EvaluateRequest struct {
	CaseID *string `json:"case_id,omitempty"`

	parsedCaseID *id.CaseID
}

func (r *EvaluateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.CaseID != nil {
		caseID, err := id.ParseCaseID(*r.CaseID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid case_id")
		}
		r.parsedCaseID = &caseID
	}
	return nil
}

func (r *EvaluateRequest) ParsedCaseID() *id.CaseID { return r.parsedCaseID }

// MarkDeceasedRequest triggers the death cascade for a natural person.
type MarkDeceasedRequest struct {
	DateOfDeath string `json:"date_of_death"`
	Reason      string `json:"reason"`

	parsedDate time.Time
}

func (r *MarkDeceasedRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	date, err := time.Parse("2006-01-02", r.DateOfDeath)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "date_of_death must be YYYY-MM-DD")
	}
	r.parsedDate = date
	return nil
}

func (r *MarkDeceasedRequest) ParsedDate() time.Time { return r.parsedDate }

// SupersedeRequest replaces an ownership edge with a successor owner.
type SupersedeRequest struct {
	NewOwnerID    string   `json:"new_owner_id"`
	Percentage    *float64 `json:"percentage,omitempty"`
	EffectiveDate string   `json:"effective_date"`
	Reason        string   `json:"reason"`

	parsedNewOwner id.EntityID
	parsedDate     time.Time
}

func (r *SupersedeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	owner, err := id.ParseEntityID(r.NewOwnerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid new_owner_id")
	}
	date, err := time.Parse("2006-01-02", r.EffectiveDate)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "effective_date must be YYYY-MM-DD")
	}
	r.parsedNewOwner = owner
	r.parsedDate = date
	return nil
}

func (r *SupersedeRequest) ParsedNewOwner() id.EntityID { return r.parsedNewOwner }
func (r *SupersedeRequest) ParsedDate() time.Time       { return r.parsedDate }

// TransferControlRequest moves a control edge to a new controller.
type TransferControlRequest struct {
	FromEntityID     string `json:"from_entity_id"`
	ToEntityID       string `json:"to_entity_id"`
	ControlledEntity string `json:"controlled_entity_id"`
	ControlType      string `json:"control_type"`
	EffectiveDate    string `json:"effective_date"`
	Reason           string `json:"reason"`

	parsedFrom       id.EntityID
	parsedTo         id.EntityID
	parsedControlled id.EntityID
	parsedDate       time.Time
}

func (r *TransferControlRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.ControlType) == "" {
		return dErrors.New(dErrors.CodeValidation, "control_type is required")
	}
	from, err := id.ParseEntityID(r.FromEntityID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid from_entity_id")
	}
	to, err := id.ParseEntityID(r.ToEntityID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid to_entity_id")
	}
	controlled, err := id.ParseEntityID(r.ControlledEntity)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid controlled_entity_id")
	}
	date, err := time.Parse("2006-01-02", r.EffectiveDate)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "effective_date must be YYYY-MM-DD")
	}
	r.parsedFrom = from
	r.parsedTo = to
	r.parsedControlled = controlled
	r.parsedDate = date
	return nil
}

func (r *TransferControlRequest) ParsedFrom() id.EntityID       { return r.parsedFrom }
func (r *TransferControlRequest) ParsedTo() id.EntityID         { return r.parsedTo }
func (r *TransferControlRequest) ParsedControlled() id.EntityID { return r.parsedControlled }
func (r *TransferControlRequest) ParsedDate() time.Time         { return r.parsedDate }

// WaiveRequest bypasses documentary verification for one edge.
type WaiveRequest struct {
	WaiverType string     `json:"waiver_type"`
	Reason     string     `json:"reason"`
	Expires    *time.Time `json:"expires,omitempty"`
}

func (r *WaiveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if strings.TrimSpace(r.WaiverType) == "" {
		return dErrors.New(dErrors.CodeValidation, "waiver_type is required")
	}
	return nil
}

// MarkDirtyRequest invalidates a proof.
type MarkDirtyRequest struct {
	Reason string `json:"reason"`
}

func (r *MarkDirtyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// DecideRequest records a formal review decision.
type DecideRequest struct {
	Decision   string  `json:"decision"`
	Rationale  string  `json:"rationale"`
	Conditions string  `json:"conditions,omitempty"`
	NextReview *string `json:"next_review,omitempty"`

	parsedNextReview *time.Time
}

func (r *DecideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Decision) == "" {
		return dErrors.New(dErrors.CodeValidation, "decision is required")
	}
	if strings.TrimSpace(r.Rationale) == "" {
		return dErrors.New(dErrors.CodeValidation, "rationale is required")
	}
	if r.NextReview != nil {
		next, err := time.Parse("2006-01-02", *r.NextReview)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "next_review must be YYYY-MM-DD")
		}
		r.parsedNextReview = &next
	}
	return nil
}

func (r *DecideRequest) ParsedNextReview() *time.Time { return r.parsedNextReview }

// ScheduleReviewRequest books a periodic re-review of a context.
type ScheduleReviewRequest struct {
	ReviewDate string `json:"review_date"`
	Reason     string `json:"reason,omitempty"`

	parsedDate time.Time
}

func (r *ScheduleReviewRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	date, err := time.Parse("2006-01-02", r.ReviewDate)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "review_date must be YYYY-MM-DD")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	r.parsedDate = date
	return nil
}

func (r *ScheduleReviewRequest) ParsedDate() time.Time { return r.parsedDate }

// WorkflowRequest runs a scripted operation sequence.
type WorkflowRequest struct {
	Steps []workflow.Step `json:"steps"`
}

func (r *WorkflowRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Steps) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one step is required")
	}
	for i, step := range r.Steps {
		if strings.TrimSpace(step.Op) == "" {
			return dErrors.Newf(dErrors.CodeValidation, "step %d: op is required", i+1)
		}
	}
	return nil
}
