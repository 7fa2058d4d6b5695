package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type mutationResponse struct {
	ID            string              `json:"id"`
	Seq           int64               `json:"seq"`
	ResourceType  domain.ResourceType `json:"resource_type"`
	ResourceID    string              `json:"resource_id,omitempty"`
	Operation     domain.Operation    `json:"operation"`
	Action        string              `json:"action,omitempty"`
	Status        string              `json:"status"`
	AttemptCount  int                 `json:"attempt_count"`
	EnqueuedAt    string              `json:"enqueued_at"`
	NextAttemptAt string              `json:"next_attempt_at,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
}

func toMutationResponse(m domain.PendingMutation) mutationResponse {
	out := mutationResponse{
		ID:           m.ID,
		Seq:          m.Seq,
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Operation:    m.Operation,
		Action:       m.Action,
		Status:       string(m.Status),
		AttemptCount: m.AttemptCount,
		EnqueuedAt:   m.EnqueuedAt.UTC().Format(timeFormat),
		LastError:    m.LastError,
	}
	if !m.NextAttemptAt.IsZero() {
		out.NextAttemptAt = m.NextAttemptAt.UTC().Format(timeFormat)
	}
	return out
}

func toMutationResponses(ms []domain.PendingMutation) []mutationResponse {
	out := make([]mutationResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMutationResponse(m))
	}
	return out
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.State(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "metrics": h.engine.Metrics()})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	resourceType := domain.ResourceType(r.URL.Query().Get("resource"))
	if resourceType != "" {
		if err := resourceType.Validate(); err != nil {
			handleDomainError(w, err)
			return
		}
	}
	pending, err := h.queue.ListPending(r.Context(), resourceType)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toMutationResponses(pending)})
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	failed, err := h.queue.ListFailed(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toMutationResponses(failed)})
}

func (h *Handler) mutationStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.MutationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// drain runs one pass synchronously and reports the resulting state. Offline
// it returns immediately with the queue untouched.
func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("manual drain requested", "actor", actorFromContext(r.Context()))
	if err := h.engine.Drain(r.Context()); err != nil {
		handleDomainError(w, err)
		return
	}
	h.syncStatus(w, r)
}

func (h *Handler) requeueFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RequeueFailed(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	h.logger.Info("failed mutations requeued", "count", n, "actor", actorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

type journalEntryResponse struct {
	ID int64 `json:"id"`
	domain.Event
}

func (h *Handler) listJournal(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := domain.JournalFilter{
		Type:         domain.EventType(q.Get("type")),
		ResourceType: domain.ResourceType(q.Get("resource")),
		MutationID:   q.Get("mutation_id"),
		Limit:        limit,
	}
	if raw := q.Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be integer")
			return
		}
		filter.BeforeID = before
	}

	entries, err := h.journal.List(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	items := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, journalEntryResponse{ID: e.ID, Event: e.Event})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type reachabilityRequest struct {
	Reachable *bool `json:"reachable"`
}

func (h *Handler) connectivityStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.connectivity.IsOnline()})
}

// reportReachability accepts the host's passive network reading.
func (h *Handler) reportReachability(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeBody(w, r, false)
	if !ok {
		return
	}
	var req reachabilityRequest
	if err := decodeStrict(raw, &req); err != nil || req.Reachable == nil {
		writeError(w, http.StatusBadRequest, "reachable must be a boolean")
		return
	}
	h.connectivity.SetReachable(*req.Reachable)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.connectivity.IsOnline()})
}

func (h *Handler) checkConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.connectivity.Check(r.Context())})
}
