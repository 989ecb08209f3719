// Package handler wires the engine's operations onto HTTP routes. Request
// structs validate and parse themselves; domain errors map to status codes
// in httputil.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"converge/internal/ubo/service"
	"converge/internal/ubo/workflow"
	id "converge/pkg/domain"
	dErrors "converge/pkg/domain-errors"
	"converge/pkg/platform/httputil"
	"converge/pkg/requestcontext"
)

// Handler exposes the convergence engine over HTTP.
type Handler struct {
	svc    *service.Service
	runner *workflow.Runner
	logger *slog.Logger
}

// New constructs the handler with its dependencies.
func New(svc *service.Service, runner *workflow.Runner, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		runner: runner,
		logger: logger,
	}
}

// Register mounts all engine endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/contexts/{contextID}", func(r chi.Router) {
		r.Post("/allegations", h.HandleAllege)
		r.Get("/status", h.HandleStatus)
		r.Get("/graph", h.HandleTraverse)
		r.Post("/assertions", h.HandleAssert)
		r.Get("/assertions", h.HandleListAssertions)
		r.Post("/evaluations", h.HandleEvaluate)
		r.Get("/evaluations", h.HandleListEvaluations)
		r.Post("/decision", h.HandleDecide)
		r.Post("/schedule-review", h.HandleScheduleReview)
		r.Post("/transfer-control", h.HandleTransferControl)
		r.Post("/workflow", h.HandleWorkflow)

		r.Route("/relationships/{relationshipID}", func(r chi.Router) {
			r.Post("/proofs", h.HandleLinkProof)
			r.Put("/allegation", h.HandleUpdateAllegation)
			r.Delete("/", h.HandleRemoveEdge)
			r.Post("/verify", h.HandleVerify)
			r.Post("/supersede", h.HandleSupersede)
			r.Post("/waiver", h.HandleWaive)
		})
	})
	r.Post("/owners/{entityID}/deceased", h.HandleMarkDeceased)
	r.Post("/proofs/{proofID}/dirty", h.HandleMarkProofDirty)
}

func contextIDParam(r *http.Request) (id.ReviewContextID, error) {
	ctxID, err := id.ParseReviewContextID(chi.URLParam(r, "contextID"))
	if err != nil {
		return id.ReviewContextID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid context id")
	}
	return ctxID, nil
}

func relationshipIDParam(r *http.Request) (id.RelationshipID, error) {
	relID, err := id.ParseRelationshipID(chi.URLParam(r, "relationshipID"))
	if err != nil {
		return id.RelationshipID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid relationship id")
	}
	return relID, nil
}

// HandleAllege handles POST /contexts/{contextID}/allegations.
func (h *Handler) HandleAllege(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AllegeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.Allege(ctx, service.AllegeParams{
		ContextID:    ctxID,
		FromEntityID: req.ParsedFrom(),
		ToEntityID:   req.ParsedTo(),
		Kind:         req.Kind,
		Percentage:   req.Percentage,
		ControlType:  req.ControlType,
		TrustRole:    req.TrustRole,
		InterestType: req.InterestType,
		Source:       req.Source,
		AllegedBy:    requestcontext.Actor(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "allege failed",
			"request_id", requestID,
			"context_id", ctxID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// HandleLinkProof handles POST /contexts/{contextID}/relationships/{relationshipID}/proofs.
func (h *Handler) HandleLinkProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[LinkProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	proof, err := h.svc.LinkProof(ctx, service.LinkProofParams{
		ContextID:      ctxID,
		RelationshipID: relID,
		DocumentID:     req.ParsedDocumentID(),
		ProofType:      req.ProofType,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, proof)
}

// HandleUpdateAllegation handles PUT /contexts/{contextID}/relationships/{relationshipID}/allegation.
func (h *Handler) HandleUpdateAllegation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateAllegationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.svc.UpdateAllegation(ctx, ctxID, relID, req.Percentage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleRemoveEdge handles DELETE /contexts/{contextID}/relationships/{relationshipID}.
func (h *Handler) HandleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "reason query parameter is required"))
		return
	}

	if err := h.svc.RemoveEdge(ctx, ctxID, relID, reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerify handles POST /contexts/{contextID}/relationships/{relationshipID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.Verify(ctx, service.VerifyParams{
		ContextID:          ctxID,
		RelationshipID:     relID,
		ObservedPercentage: req.ObservedPercentage,
		ResolvedBy:         requestcontext.Actor(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "verify failed",
			"request_id", requestID,
			"context_id", ctxID,
			"relationship_id", relID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleStatus handles GET /contexts/{contextID}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := h.svc.Status(ctx, ctxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleTraverse handles GET /contexts/{contextID}/graph.
func (h *Handler) HandleTraverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	graph, err := h.svc.Traverse(ctx, ctxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, graph)
}

// HandleAssert handles POST /contexts/{contextID}/assertions.
//
// A failed gate returns 409 with the per-check results in the body, so
// callers can show what blocked them without a second status call.
func (h *Handler) HandleAssert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AssertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	checks, err := workflow.ParseChecks(req.Checks)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.Assert(ctx, ctxID, checks)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			httputil.WriteJSON(w, http.StatusConflict, map[string]any{
				"error":             string(dErrors.CodeInvariantViolation),
				"error_description": err.Error(),
				"results":           result.Results,
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleListAssertions handles GET /contexts/{contextID}/assertions.
func (h *Handler) HandleListAssertions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.svc.Assertions(ctx, ctxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"assertions": entries})
}

// HandleEvaluate handles POST /contexts/{contextID}/evaluations.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	snap, err := h.svc.Evaluate(ctx, ctxID, req.ParsedCaseID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, snap)
}

// HandleListEvaluations handles GET /contexts/{contextID}/evaluations.
func (h *Handler) HandleListEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snaps, err := h.svc.Evaluations(ctx, ctxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"evaluations": snaps})
}

// HandleDecide handles POST /contexts/{contextID}/decision.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.svc.Decide(ctx, service.DecideParams{
		ContextID:  ctxID,
		Decision:   req.Decision,
		Rationale:  req.Rationale,
		Conditions: req.Conditions,
		NextReview: req.ParsedNextReview(),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// HandleScheduleReview handles POST /contexts/{contextID}/schedule-review.
func (h *Handler) HandleScheduleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ScheduleReviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.ScheduleReview(ctx, service.ScheduleReviewParams{
		ContextID:  ctxID,
		ReviewDate: req.ParsedDate(),
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleMarkDeceased handles POST /owners/{entityID}/deceased.
func (h *Handler) HandleMarkDeceased(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	personID, err := id.ParseEntityID(chi.URLParam(r, "entityID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid entity id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[MarkDeceasedRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.MarkDeceased(ctx, personID, req.ParsedDate(), req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "mark-deceased cascade failed",
			"request_id", requestID,
			"person_id", personID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleSupersede handles POST /contexts/{contextID}/relationships/{relationshipID}/supersede.
func (h *Handler) HandleSupersede(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SupersedeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	successor, err := h.svc.Supersede(ctx, service.SupersedeParams{
		ContextID:         ctxID,
		OldRelationshipID: relID,
		NewOwnerID:        req.ParsedNewOwner(),
		Percentage:        req.Percentage,
		EffectiveDate:     req.ParsedDate(),
		Reason:            req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, successor)
}

// HandleTransferControl handles POST /contexts/{contextID}/transfer-control.
func (h *Handler) HandleTransferControl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[TransferControlRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	successor, err := h.svc.TransferControl(ctx, service.TransferControlParams{
		ContextID:        ctxID,
		FromEntityID:     req.ParsedFrom(),
		ToEntityID:       req.ParsedTo(),
		ControlledEntity: req.ParsedControlled(),
		ControlType:      req.ControlType,
		EffectiveDate:    req.ParsedDate(),
		Reason:           req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, successor)
}

// HandleWaive handles POST /contexts/{contextID}/relationships/{relationshipID}/waiver.
func (h *Handler) HandleWaive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	relID, err := relationshipIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[WaiveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.svc.WaiveVerification(ctx, service.WaiveParams{
		ContextID:      ctxID,
		RelationshipID: relID,
		WaiverType:     req.WaiverType,
		Reason:         req.Reason,
		ApprovedBy:     requestcontext.Actor(ctx),
		Expires:        req.Expires,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleMarkProofDirty handles POST /proofs/{proofID}/dirty.
func (h *Handler) HandleMarkProofDirty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	proofID, err := id.ParseProofID(chi.URLParam(r, "proofID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid proof id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[MarkDirtyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.MarkProofDirty(ctx, proofID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleWorkflow handles POST /contexts/{contextID}/workflow.
func (h *Handler) HandleWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctxID, err := contextIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[WorkflowRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.runner.Run(ctx, ctxID, req.Steps)
	if err != nil {
		h.logger.ErrorContext(ctx, "workflow execution failed",
			"request_id", requestID,
			"context_id", ctxID,
			"completed_steps", len(results),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}
