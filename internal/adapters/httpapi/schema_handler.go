package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type schemaResponse struct {
	ResourceType domain.ResourceType `json:"resource_type"`
	Schema       json.RawMessage     `json:"schema"`
	Revision     int64               `json:"revision"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
}

func toSchemaResponse(s domain.ResourceSchema) schemaResponse {
	return schemaResponse{
		ResourceType: s.ResourceType,
		Schema:       s.Schema,
		Revision:     s.Revision,
		CreatedAt:    s.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    s.UpdatedAt.UTC().Format(timeFormat),
	}
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r, false)
	if !ok {
		return
	}
	schema, err := h.schemas.Upsert(r.Context(), domain.ResourceType(chi.URLParam(r, "resource")), data)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.schemas.Get(r.Context(), domain.ResourceType(chi.URLParam(r, "resource")))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.schemas.Delete(r.Context(), domain.ResourceType(chi.URLParam(r, "resource")))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
