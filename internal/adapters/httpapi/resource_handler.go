package httpapi

import (
	"net/http"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

func resourceParam(r *http.Request) domain.ResourceType {
	return domain.ResourceType(chi.URLParam(r, "resource"))
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.List(r.Context(), resourceParam(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.Get(r.Context(), resourceParam(r), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r, false)
	if !ok {
		return
	}
	result, err := h.facade.Create(r.Context(), resourceParam(r), data)
	h.finishWrite(w, r, "create", result, err)
}

func (h *Handler) updateResource(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r, false)
	if !ok {
		return
	}
	result, err := h.facade.Update(r.Context(), resourceParam(r), chi.URLParam(r, "id"), data)
	h.finishWrite(w, r, "update", result, err)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.Delete(r.Context(), resourceParam(r), chi.URLParam(r, "id"))
	h.finishWrite(w, r, "delete", result, err)
}

func (h *Handler) runAction(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r, true)
	if !ok {
		return
	}
	result, err := h.facade.Action(r.Context(), resourceParam(r), chi.URLParam(r, "id"), chi.URLParam(r, "action"), data)
	h.finishWrite(w, r, "action", result, err)
}

func (h *Handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	answers, ok := decodeBody(w, r, false)
	if !ok {
		return
	}
	result, err := h.facade.SurveyResponses().SubmitResponse(r.Context(), chi.URLParam(r, "id"), answers)
	h.finishWrite(w, r, "submit_response", result, err)
}

func (h *Handler) finishWrite(w http.ResponseWriter, r *http.Request, op string, result domain.Result, err error) {
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if result.Status == domain.StatusQueued {
		h.logger.Info("write queued for sync",
			"op", op, "resource", chi.URLParam(r, "resource"), "mutation_id", result.MutationID, "actor", actorFromContext(r.Context()))
	}
	writeResult(w, result)
}
