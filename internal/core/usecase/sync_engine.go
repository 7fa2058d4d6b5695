package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type SyncEngineConfig struct {
	Store   ports.LocalStore
	Remote  ports.RemoteClient
	Monitor ports.ConnectivityMonitor
	// Ledger is an optional ledger shared with other hosts, consulted in
	// addition to the store's own.
	Ledger         ports.AppliedLedger
	Events         *EventBus
	Scheduler      ports.Scheduler
	Codec          *MutationCodec
	Logger         *slog.Logger
	MaxRetries     int           // default 5
	BaseDelay      time.Duration // default 1s
	MaxDelay       time.Duration // default 5m
	FlushInterval  time.Duration // default 30s
	SendTimeout    time.Duration // default 10s
	ConflictPolicy domain.ConflictPolicy
}

// SyncEngine drains the pending mutation queue against the remote service,
// one mutation at a time and in enqueue order per resource.
type SyncEngine struct {
	store          ports.LocalStore
	remote         ports.RemoteClient
	monitor        ports.ConnectivityMonitor
	ledger         ports.AppliedLedger
	events         *EventBus
	scheduler      ports.Scheduler
	codec          *MutationCodec
	logger         *slog.Logger
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	flushInterval  time.Duration
	sendTimeout    time.Duration
	conflictPolicy domain.ConflictPolicy

	drainMu sync.Mutex
	wake    chan struct{}

	mu          sync.Mutex
	phase       domain.EnginePhase
	draining    bool
	drainCancel context.CancelFunc
	lastSyncAt  *time.Time
	stopBackoff func() bool

	runMu       sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	appliedTotal   atomic.Int64
	retryTotal     atomic.Int64
	failedTotal    atomic.Int64
	duplicateTotal atomic.Int64
}

type SyncEngineMetrics struct {
	AppliedTotal   int64 `json:"applied_total"`
	RetryTotal     int64 `json:"retry_total"`
	FailedTotal    int64 `json:"failed_total"`
	DuplicateTotal int64 `json:"duplicate_total"`
}

type drainOutcome int

const (
	outcomeApplied drainOutcome = iota
	outcomeDuplicate
	outcomeRetry
	outcomeFailed
	outcomePaused
)

func NewSyncEngine(cfg SyncEngineConfig) *SyncEngine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock{}
	}
	if cfg.Codec == nil {
		cfg.Codec = NewMutationCodec()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = domain.ConflictReject
	}
	return &SyncEngine{
		store:          cfg.Store,
		remote:         cfg.Remote,
		monitor:        cfg.Monitor,
		ledger:         cfg.Ledger,
		events:         cfg.Events,
		scheduler:      cfg.Scheduler,
		codec:          cfg.Codec,
		logger:         cfg.Logger,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		flushInterval:  cfg.FlushInterval,
		sendTimeout:    cfg.SendTimeout,
		conflictPolicy: cfg.ConflictPolicy,
		wake:           make(chan struct{}, 1),
		phase:          domain.PhaseIdle,
	}
}

func (e *SyncEngine) Start(parent context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.unsubscribe = e.monitor.Subscribe(e.onConnectivityChange)
	e.wg.Add(1)
	go e.loop(ctx)
	e.Notify()
}

func (e *SyncEngine) Close() error {
	e.runMu.Lock()
	cancel := e.cancel
	unsubscribe := e.unsubscribe
	e.cancel = nil
	e.unsubscribe = nil
	e.runMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	if e.stopBackoff != nil {
		e.stopBackoff()
		e.stopBackoff = nil
	}
	e.mu.Unlock()
	return nil
}

// Notify asks the engine to run a drain pass soon. It never blocks.
func (e *SyncEngine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *SyncEngine) onConnectivityChange(online bool) {
	if online {
		e.Notify()
		return
	}
	e.mu.Lock()
	cancel := e.drainCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *SyncEngine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
		if err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("sync drain failed", "error", err)
		}
	}
}

// Drain runs one pass over the queue. It returns early, leaving rows
// pending, when connectivity is lost. Errors are local store failures.
func (e *SyncEngine) Drain(ctx context.Context) error {
	if !e.monitor.IsOnline() {
		return nil
	}

	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	pending, err := e.store.ListPending(ctx, "")
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		e.setPhase(domain.PhaseIdle)
		return nil
	}

	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.beginDrain(cancel)

	e.events.Emit(ctx, domain.Event{
		Type:   domain.EventSyncStart,
		At:     e.scheduler.Now(),
		Detail: mustJSON(map[string]int{"pending": len(pending)}),
	})

	var summary domain.DrainSummary
	var nextWake time.Time
	blocked := make(map[string]bool)
	paused := false
	var drainErr error

	for _, m := range pending {
		if drainCtx.Err() != nil || !e.monitor.IsOnline() {
			paused = true
			break
		}
		key := m.QueueKey()
		if blocked[key] {
			continue
		}
		if !m.Ready(e.scheduler.Now()) {
			blocked[key] = true
			summary.Retrying++
			nextWake = earliest(nextWake, m.NextAttemptAt)
			continue
		}

		outcome, next, err := e.process(drainCtx, m)
		if err != nil {
			drainErr = err
			break
		}
		switch outcome {
		case outcomeApplied:
			summary.Applied++
		case outcomeDuplicate:
		case outcomeFailed:
			summary.Failed++
		case outcomeRetry:
			blocked[key] = true
			summary.Retrying++
			nextWake = earliest(nextWake, next)
		case outcomePaused:
			paused = true
		}
		if paused {
			break
		}
	}

	remaining, countErr := e.store.CountPending(context.WithoutCancel(ctx))
	if countErr != nil && drainErr == nil {
		drainErr = fmt.Errorf("count pending: %w", countErr)
	}
	summary.Remaining = remaining

	e.endDrain()
	switch {
	case drainErr != nil || paused:
		e.setPhase(domain.PhaseIdle)
		if paused {
			e.logger.Info("sync drain paused", "applied", summary.Applied, "remaining", remaining)
		}
		return drainErr
	case summary.Retrying > 0:
		e.setPhase(domain.PhaseBackoff)
		e.scheduleWake(nextWake)
	default:
		now := e.scheduler.Now()
		e.mu.Lock()
		e.phase = domain.PhaseIdle
		e.lastSyncAt = &now
		e.mu.Unlock()
	}

	e.events.Emit(ctx, domain.Event{
		Type:   domain.EventDrainComplete,
		At:     e.scheduler.Now(),
		Detail: mustJSON(summary),
	})
	return nil
}

func (e *SyncEngine) process(ctx context.Context, m domain.PendingMutation) (drainOutcome, time.Time, error) {
	storeCtx := context.WithoutCancel(ctx)

	normalized, err := e.codec.Normalize(m)
	if err != nil {
		return e.fail(storeCtx, m, m.AttemptCount, err)
	}
	m = normalized

	done, err := e.alreadyApplied(storeCtx, m.ID)
	if err != nil {
		return 0, time.Time{}, err
	}
	if done {
		if err := e.store.RemoveApplied(storeCtx, m.ID); err != nil {
			return 0, time.Time{}, fmt.Errorf("remove duplicate %s: %w", m.ID, err)
		}
		e.duplicateTotal.Add(1)
		e.logger.Info("skipping mutation applied elsewhere", "mutation_id", m.ID)
		return outcomeDuplicate, time.Time{}, nil
	}

	if err := e.store.MarkStatus(storeCtx, m.ID, domain.MutationInFlight, m.AttemptCount, m.NextAttemptAt, m.LastError); err != nil {
		return 0, time.Time{}, err
	}

	opts := ports.SendOptions{}
	for {
		body, sendErr := e.send(ctx, m, opts)
		class := domain.Classify(sendErr)
		if class == domain.ClassTransient && ctx.Err() != nil {
			class = domain.ClassCanceled
		}

		switch class {
		case domain.ClassNone:
			return e.apply(storeCtx, m, body)
		case domain.ClassCanceled:
			if err := e.store.MarkStatus(storeCtx, m.ID, domain.MutationPending, m.AttemptCount, m.NextAttemptAt, m.LastError); err != nil {
				return 0, time.Time{}, err
			}
			return outcomePaused, time.Time{}, nil
		case domain.ClassTransient:
			return e.retry(storeCtx, m, sendErr)
		case domain.ClassConflict:
			if e.conflictPolicy == domain.ConflictLastWriteWins && !opts.Overwrite {
				e.logger.Warn("conflict on apply, overwriting remote state", "mutation_id", m.ID, "resource", m.QueueKey())
				e.events.Emit(storeCtx, mutationEvent(domain.EventItemConflict, e.scheduler.Now(), m, sendErr))
				opts.Overwrite = true
				continue
			}
			return e.fail(storeCtx, m, m.AttemptCount+1, sendErr)
		default:
			return e.fail(storeCtx, m, m.AttemptCount+1, sendErr)
		}
	}
}

func (e *SyncEngine) send(ctx context.Context, m domain.PendingMutation, opts ports.SendOptions) (json.RawMessage, error) {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.remote.Send(sendCtx, m, opts)
}

func (e *SyncEngine) alreadyApplied(ctx context.Context, id string) (bool, error) {
	done, err := e.store.WasApplied(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	if done || e.ledger == nil {
		return done, nil
	}
	done, err = e.ledger.WasApplied(ctx, id)
	if err != nil {
		e.logger.Warn("shared ledger lookup failed", "mutation_id", id, "error", err)
		return false, nil
	}
	return done, nil
}

func (e *SyncEngine) apply(ctx context.Context, m domain.PendingMutation, body json.RawMessage) (drainOutcome, time.Time, error) {
	first, err := e.store.ApplyConfirmed(ctx, m, body)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("apply %s: %w", m.ID, err)
	}
	if e.ledger != nil {
		if _, err := e.ledger.MarkApplied(ctx, m.ID); err != nil {
			e.logger.Warn("shared ledger write failed", "mutation_id", m.ID, "error", err)
		}
	}
	if !first {
		e.duplicateTotal.Add(1)
		return outcomeDuplicate, time.Time{}, nil
	}

	e.appliedTotal.Add(1)
	m.Status = domain.MutationApplied
	event := mutationEvent(domain.EventItemApplied, e.scheduler.Now(), m, nil)
	event.Attempt = m.AttemptCount + 1
	e.events.Emit(ctx, event)
	return outcomeApplied, time.Time{}, nil
}

func (e *SyncEngine) retry(ctx context.Context, m domain.PendingMutation, cause error) (drainOutcome, time.Time, error) {
	attempts := m.AttemptCount + 1
	if attempts >= e.maxRetries {
		return e.fail(ctx, m, attempts, fmt.Errorf("retry budget exhausted: %w", cause))
	}
	next := e.scheduler.Now().Add(backoffDuration(attempts, e.baseDelay, e.maxDelay))
	if err := e.store.MarkStatus(ctx, m.ID, domain.MutationPending, attempts, next, cause.Error()); err != nil {
		return 0, time.Time{}, err
	}
	e.retryTotal.Add(1)
	m.AttemptCount = attempts
	e.logger.Info("mutation delivery failed, backing off", "mutation_id", m.ID, "attempt", attempts, "next_attempt_at", next, "error", cause)
	event := mutationEvent(domain.EventItemRetry, e.scheduler.Now(), m, cause)
	event.Attempt = attempts
	e.events.Emit(ctx, event)
	return outcomeRetry, next, nil
}

func (e *SyncEngine) fail(ctx context.Context, m domain.PendingMutation, attempts int, cause error) (drainOutcome, time.Time, error) {
	if err := e.store.MarkStatus(ctx, m.ID, domain.MutationFailed, attempts, time.Time{}, cause.Error()); err != nil {
		return 0, time.Time{}, err
	}
	e.failedTotal.Add(1)
	e.logger.Warn("mutation failed permanently", "mutation_id", m.ID, "resource", m.QueueKey(), "error", cause)
	m.AttemptCount = attempts
	event := mutationEvent(domain.EventItemFailed, e.scheduler.Now(), m, cause)
	event.Attempt = attempts
	e.events.Emit(ctx, event)
	return outcomeFailed, time.Time{}, nil
}

// RequeueFailed moves failed mutations back to pending with a fresh retry
// budget and wakes the engine.
func (e *SyncEngine) RequeueFailed(ctx context.Context) (int, error) {
	n, err := e.store.RequeueFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.Notify()
	}
	return n, nil
}

func (e *SyncEngine) State(ctx context.Context) (domain.SyncState, error) {
	pending, err := e.store.CountPending(ctx)
	if err != nil {
		return domain.SyncState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state := domain.SyncState{
		IsOnline:     e.monitor.IsOnline(),
		IsDraining:   e.draining,
		Phase:        e.phase,
		PendingCount: pending,
	}
	if e.lastSyncAt != nil {
		at := *e.lastSyncAt
		state.LastSyncAt = &at
	}
	return state, nil
}

func (e *SyncEngine) Metrics() SyncEngineMetrics {
	return SyncEngineMetrics{
		AppliedTotal:   e.appliedTotal.Load(),
		RetryTotal:     e.retryTotal.Load(),
		FailedTotal:    e.failedTotal.Load(),
		DuplicateTotal: e.duplicateTotal.Load(),
	}
}

func (e *SyncEngine) beginDrain(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = domain.PhaseDraining
	e.draining = true
	e.drainCancel = cancel
}

func (e *SyncEngine) endDrain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = false
	e.drainCancel = nil
}

func (e *SyncEngine) setPhase(phase domain.EnginePhase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = phase
}

func (e *SyncEngine) scheduleWake(at time.Time) {
	delay := at.Sub(e.scheduler.Now())
	if delay < 0 {
		delay = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopBackoff != nil {
		e.stopBackoff()
	}
	e.stopBackoff = e.scheduler.AfterFunc(delay, e.Notify)
}

func mutationEvent(eventType domain.EventType, at time.Time, m domain.PendingMutation, cause error) domain.Event {
	event := domain.Event{
		Type:         eventType,
		At:           at,
		MutationID:   m.ID,
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Operation:    m.Operation,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	return event
}

// backoffDuration doubles base per attempt and caps the result at max.
func backoffDuration(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func earliest(current, candidate time.Time) time.Time {
	if current.IsZero() || candidate.Before(current) {
		return candidate
	}
	return current
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
