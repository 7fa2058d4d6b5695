package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

var errOffline = errors.New("connectivity monitor reports offline")

// Notifier is woken after a mutation is queued.
type Notifier interface {
	Notify()
}

type FacadeConfig struct {
	Store   ports.LocalStore
	Remote  ports.RemoteClient
	Monitor ports.ConnectivityMonitor
	Engine  Notifier
	// Schemas is optional; without it payloads are not validated locally.
	Schemas *SchemaService
	Clock   ports.Scheduler
	Logger  *slog.Logger
	Timeout time.Duration // default 8s
	// CacheTTL stamps fetched records; zero keeps them until superseded.
	CacheTTL time.Duration
	NewID    func() string
}

// Facade is the single entry point callers use to read and write remote
// resources. Reads fall back to the local cache and writes fall back to the
// mutation queue when the remote service cannot be reached.
type Facade struct {
	store    ports.LocalStore
	remote   ports.RemoteClient
	monitor  ports.ConnectivityMonitor
	engine   Notifier
	schemas  *SchemaService
	clock    ports.Scheduler
	logger   *slog.Logger
	timeout  time.Duration
	cacheTTL time.Duration
	newID    func() string
}

func NewFacade(cfg FacadeConfig) *Facade {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = WallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Facade{
		store:    cfg.Store,
		remote:   cfg.Remote,
		monitor:  cfg.Monitor,
		engine:   cfg.Engine,
		schemas:  cfg.Schemas,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		newID:    cfg.NewID,
	}
}

func (f *Facade) List(ctx context.Context, resourceType domain.ResourceType) (domain.Result, error) {
	if err := resourceType.Validate(); err != nil {
		return domain.Result{}, err
	}
	return f.read(ctx, resourceType, domain.CollectionID, func(c context.Context) (json.RawMessage, error) {
		return f.remote.List(c, resourceType)
	})
}

func (f *Facade) Get(ctx context.Context, resourceType domain.ResourceType, id string) (domain.Result, error) {
	if err := resourceType.Validate(); err != nil {
		return domain.Result{}, err
	}
	if err := domain.ValidateID(id); err != nil {
		return domain.Result{}, err
	}
	return f.read(ctx, resourceType, id, func(c context.Context) (json.RawMessage, error) {
		return f.remote.Get(c, resourceType, id)
	})
}

func (f *Facade) Create(ctx context.Context, resourceType domain.ResourceType, payload json.RawMessage) (domain.Result, error) {
	return f.write(ctx, domain.PendingMutation{
		ResourceType: resourceType,
		Operation:    domain.OperationCreate,
		Payload:      payload,
	})
}

func (f *Facade) Update(ctx context.Context, resourceType domain.ResourceType, id string, payload json.RawMessage) (domain.Result, error) {
	return f.write(ctx, domain.PendingMutation{
		ResourceType: resourceType,
		ResourceID:   id,
		Operation:    domain.OperationUpdate,
		Payload:      payload,
	})
}

func (f *Facade) Delete(ctx context.Context, resourceType domain.ResourceType, id string) (domain.Result, error) {
	return f.write(ctx, domain.PendingMutation{
		ResourceType: resourceType,
		ResourceID:   id,
		Operation:    domain.OperationDelete,
	})
}

// Action invokes a named custom operation on one resource, for example
// publishing a survey or assigning a role.
func (f *Facade) Action(ctx context.Context, resourceType domain.ResourceType, id, action string, payload json.RawMessage) (domain.Result, error) {
	return f.write(ctx, domain.PendingMutation{
		ResourceType: resourceType,
		ResourceID:   id,
		Operation:    domain.OperationAction,
		Action:       action,
		Payload:      payload,
	})
}

type readOutcome struct {
	body      json.RawMessage
	fetchedAt time.Time
	err       error
}

func (f *Facade) read(ctx context.Context, resourceType domain.ResourceType, id string, fetch func(context.Context) (json.RawMessage, error)) (domain.Result, error) {
	if !f.monitor.IsOnline() {
		return f.fromCache(ctx, resourceType, id, &domain.ConnectivityError{Op: "read " + string(resourceType), Err: errOffline})
	}

	// The snapshot is only as fresh as the moment it was requested. A write
	// confirmed while the fetch is in flight moves the generation on and the
	// snapshot is not cached.
	requestedAt := f.clock.Now()
	generation, genErr := f.store.CacheGeneration(ctx, resourceType, id)
	if genErr != nil {
		f.logger.Warn("cache generation unavailable, result will not be cached", "resource_type", resourceType, "resource_id", id, "error", genErr)
	}

	// The fetch outlives an abandoned caller so its result still lands in the
	// cache.
	detached := context.WithoutCancel(ctx)
	done := make(chan readOutcome, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(detached, f.timeout)
		defer cancel()
		body, err := fetch(callCtx)
		out := readOutcome{body: body, err: err, fetchedAt: requestedAt}
		if err == nil && genErr == nil {
			f.storeFetched(detached, resourceType, id, body, requestedAt, generation)
		}
		done <- out
	}()

	select {
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	case out := <-done:
		if out.err == nil {
			return domain.Result{Status: domain.StatusOK, Data: out.body, FetchedAt: &out.fetchedAt}, nil
		}
		if domain.IsTransient(out.err) {
			return f.fromCache(ctx, resourceType, id, out.err)
		}
		return domain.Result{}, out.err
	}
}

func (f *Facade) storeFetched(ctx context.Context, resourceType domain.ResourceType, id string, body json.RawMessage, fetchedAt time.Time, generation int64) {
	rec := domain.NewCacheRecord(resourceType, id, body, fetchedAt, f.cacheTTL)
	rec.Generation = generation
	if err := f.store.PutCache(ctx, rec); err != nil {
		f.logger.Warn("cache write failed", "resource_type", resourceType, "resource_id", id, "error", err)
	}
}

func (f *Facade) fromCache(ctx context.Context, resourceType domain.ResourceType, id string, cause error) (domain.Result, error) {
	rec, err := f.store.GetCache(ctx, resourceType, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Result{}, fmt.Errorf("%s/%s: %w (%v)", resourceType, id, domain.ErrNoCachedData, cause)
	}
	if err != nil {
		return domain.Result{}, fmt.Errorf("read cache: %w", err)
	}
	f.logger.Debug("serving cached record", "resource_type", resourceType, "resource_id", id, "fetched_at", rec.FetchedAt, "cause", cause)
	fetchedAt := rec.FetchedAt
	return domain.Result{
		Status:    domain.StatusOK,
		Data:      rec.Payload,
		Stale:     true,
		Expired:   rec.Expired(f.clock.Now()),
		FetchedAt: &fetchedAt,
	}, nil
}

// MutationStatus reports where a queued write stands: still queued, failed
// permanently with the remote's reason, or applied.
func (f *Facade) MutationStatus(ctx context.Context, mutationID string) (domain.Result, error) {
	if err := domain.ValidateID(mutationID); err != nil {
		return domain.Result{}, err
	}
	m, err := f.store.GetMutation(ctx, mutationID)
	switch {
	case err == nil:
		if m.Status == domain.MutationFailed {
			return domain.Result{Status: domain.StatusFailed, MutationID: m.ID, Error: m.LastError}, nil
		}
		return domain.Result{Status: domain.StatusQueued, MutationID: m.ID}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Result{}, fmt.Errorf("get mutation: %w", err)
	}
	applied, err := f.store.WasApplied(ctx, mutationID)
	if err != nil {
		return domain.Result{}, err
	}
	if !applied {
		return domain.Result{}, domain.ErrNotFound
	}
	return domain.Result{Status: domain.StatusOK, MutationID: mutationID}, nil
}

func (f *Facade) write(ctx context.Context, m domain.PendingMutation) (domain.Result, error) {
	m.ID = f.newID()
	m.SchemaVersion = domain.CurrentMutationSchemaVersion
	m.Status = domain.MutationPending
	if err := m.Validate(); err != nil {
		return domain.Result{}, err
	}
	if f.schemas != nil && (m.Operation == domain.OperationCreate || m.Operation == domain.OperationUpdate) {
		if err := f.schemas.Validate(ctx, m.ResourceType, m.Payload); err != nil {
			return domain.Result{}, err
		}
	}

	behind, err := f.queuedAhead(ctx, m)
	if err != nil {
		return domain.Result{}, err
	}

	if f.monitor.IsOnline() && !behind {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		body, err := f.remote.Send(callCtx, m, ports.SendOptions{})
		cancel()
		if err == nil {
			f.storeConfirmed(ctx, m, body)
			return domain.Result{Status: domain.StatusOK, Data: body}, nil
		}
		if !domain.IsTransient(err) {
			return domain.Result{}, err
		}
		f.logger.Info("remote write failed, queueing", "resource_type", m.ResourceType, "operation", m.Operation, "error", err)
	}

	return f.enqueue(ctx, m)
}

// queuedAhead reports whether earlier mutations for the same resource are
// still waiting; sending directly would overtake them.
func (f *Facade) queuedAhead(ctx context.Context, m domain.PendingMutation) (bool, error) {
	if m.ResourceID == "" {
		return false, nil
	}
	behind, err := f.store.HasPending(ctx, m.ResourceType, m.ResourceID)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return behind, nil
}

func (f *Facade) enqueue(ctx context.Context, m domain.PendingMutation) (domain.Result, error) {
	m.EnqueuedAt = f.clock.Now()
	queued, err := f.store.Enqueue(context.WithoutCancel(ctx), m)
	if err != nil {
		return domain.Result{}, err
	}
	if f.engine != nil {
		f.engine.Notify()
	}
	f.logger.Info("mutation queued", "mutation_id", queued.ID, "resource_type", queued.ResourceType, "resource_id", queued.ResourceID, "operation", queued.Operation)
	return domain.Result{
		Status:     domain.StatusQueued,
		Data:       f.optimistic(ctx, queued),
		MutationID: queued.ID,
	}, nil
}

func (f *Facade) storeConfirmed(ctx context.Context, m domain.PendingMutation, body json.RawMessage) {
	ctx = context.WithoutCancel(ctx)
	id, effect := m.ConfirmedCacheEffect(body)
	var err error
	if effect != domain.CacheEffectNone {
		// Invalidating first moves the generation past any read in flight.
		err = f.store.InvalidateCache(ctx, m.ResourceType, id)
	}
	if err == nil && effect == domain.CacheEffectUpsert {
		var gen int64
		if gen, err = f.store.CacheGeneration(ctx, m.ResourceType, id); err == nil {
			rec := domain.NewCacheRecord(m.ResourceType, id, body, f.clock.Now(), f.cacheTTL)
			rec.Generation = gen
			err = f.store.PutCache(ctx, rec)
		}
	}
	if err != nil {
		f.logger.Warn("cache merge failed", "resource_type", m.ResourceType, "resource_id", id, "error", err)
	}
	if err := f.store.InvalidateCache(ctx, m.ResourceType, domain.CollectionID); err != nil {
		f.logger.Warn("list snapshot invalidation failed", "resource_type", m.ResourceType, "error", err)
	}
}

// optimistic builds the result a caller sees for a queued write: the payload
// as it would look once applied. Creates get a provisional "local-" id.
func (f *Facade) optimistic(ctx context.Context, m domain.PendingMutation) json.RawMessage {
	switch m.Operation {
	case domain.OperationCreate:
		obj := decodeObject(m.Payload)
		if _, ok := obj["id"]; !ok {
			obj["id"] = mustJSON("local-" + m.ID)
		}
		return mustJSON(obj)
	case domain.OperationUpdate:
		obj := map[string]json.RawMessage{}
		if rec, err := f.store.GetCache(ctx, m.ResourceType, m.ResourceID); err == nil {
			obj = decodeObject(rec.Payload)
		}
		for k, v := range decodeObject(m.Payload) {
			obj[k] = v
		}
		obj["id"] = mustJSON(m.ResourceID)
		return mustJSON(obj)
	case domain.OperationDelete:
		return mustJSON(map[string]any{"id": m.ResourceID, "deleted": true})
	default:
		if len(m.Payload) > 0 {
			return m.Payload
		}
		return mustJSON(map[string]any{"id": m.ResourceID, "action": m.Action})
	}
}

func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj
}
