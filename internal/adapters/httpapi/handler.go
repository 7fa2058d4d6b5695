package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
	"github.com/atvirokodosprendimai/surveysync/internal/core/usecase"
	"github.com/go-chi/chi/v5"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	apiActorCtxKey  ctxKey = "api_actor"
	maxJSONBodySize        = 1 << 20
)

// Connectivity is the part of the connectivity monitor the HTTP surface
// drives: hosts push their reachability reading and may force a probe.
type Connectivity interface {
	IsOnline() bool
	SetReachable(reachable bool)
	Check(ctx context.Context) bool
}

type Config struct {
	Facade       *usecase.Facade
	Engine       *usecase.SyncEngine
	Queue        ports.MutationQueue
	Connectivity Connectivity
	Journal      *usecase.JournalService
	Schemas      *usecase.SchemaService
	Auth         *usecase.AuthService
	Logger       *slog.Logger
}

type Handler struct {
	facade       *usecase.Facade
	engine       *usecase.SyncEngine
	queue        ports.MutationQueue
	connectivity Connectivity
	journal      *usecase.JournalService
	schemas      *usecase.SchemaService
	auth         *usecase.AuthService
	logger       *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		facade:       cfg.Facade,
		engine:       cfg.Engine,
		queue:        cfg.Queue,
		connectivity: cfg.Connectivity,
		journal:      cfg.Journal,
		schemas:      cfg.Schemas,
		auth:         cfg.Auth,
		logger:       cfg.Logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)

	r.Group(func(pr chi.Router) {
		if h.auth.Enabled() {
			pr.Use(h.requireAPIKey)
		}

		pr.Get("/v1/sync/status", h.syncStatus)
		pr.Get("/v1/sync/pending", h.listPending)
		pr.Get("/v1/sync/failed", h.listFailed)
		pr.Post("/v1/sync/drain", h.drain)
		pr.Post("/v1/sync/requeue-failed", h.requeueFailed)
		pr.Get("/v1/sync/journal", h.listJournal)
		pr.Get("/v1/sync/mutations/{id}", h.mutationStatus)

		pr.Get("/v1/connectivity", h.connectivityStatus)
		pr.Put("/v1/connectivity", h.reportReachability)
		pr.Post("/v1/connectivity/check", h.checkConnectivity)

		pr.Put("/v1/schemas/{resource}", h.putSchema)
		pr.Get("/v1/schemas/{resource}", h.getSchema)
		pr.Delete("/v1/schemas/{resource}", h.deleteSchema)

		pr.Post("/v1/surveys/{id}/responses", h.submitResponse)

		pr.Get("/v1/{resource}", h.listResources)
		pr.Post("/v1/{resource}", h.createResource)
		pr.Get("/v1/{resource}/{id}", h.getResource)
		pr.Put("/v1/{resource}/{id}", h.updateResource)
		pr.Delete("/v1/{resource}/{id}", h.deleteResource)
		pr.Post("/v1/{resource}/{id}/actions/{action}", h.runAction)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]bool{"ok": true}
	if h.connectivity != nil {
		body["online"] = h.connectivity.IsOnline()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeResult answers 200 for completed calls and 202 for writes that were
// queued for later delivery.
func writeResult(w http.ResponseWriter, result domain.Result) {
	status := http.StatusOK
	if result.Status == domain.StatusQueued {
		status = http.StatusAccepted
	}
	if result.Stale {
		w.Header().Set("X-Data-Stale", "true")
	}
	if result.Expired {
		w.Header().Set("X-Data-Expired", "true")
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var conflictErr *domain.ConflictError
	var storageErr *domain.StorageError
	var remoteErr *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrInvalidResource), errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "errors": validationErr.Errors})
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, conflictErr.Error())
	case errors.Is(err, domain.ErrNoCachedData):
		writeError(w, http.StatusServiceUnavailable, "remote unavailable and no cached data")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &storageErr):
		if storageErr.Full {
			writeError(w, http.StatusInsufficientStorage, "local storage is full")
			return
		}
		writeError(w, http.StatusInternalServerError, "local storage error")
	case domain.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "remote unavailable")
	case errors.As(err, &remoteErr):
		writeError(w, http.StatusBadGateway, remoteErr.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads a single JSON value. An empty body yields nil when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, optional bool) (json.RawMessage, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var data json.RawMessage
	if err := decoder.Decode(&data); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil, true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	return data, true
}

func decodeStrict(raw json.RawMessage, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func actorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(apiActorCtxKey).(string)
	if actor == "" {
		return "local"
	}
	return actor
}
