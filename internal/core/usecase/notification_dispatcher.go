package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

// OutboxSink is an EventSink that records operator-facing events (failed and
// conflicting mutations) in the notification outbox.
type OutboxSink struct {
	outbox ports.NotificationOutbox
}

func NewOutboxSink(outbox ports.NotificationOutbox) *OutboxSink {
	return &OutboxSink{outbox: outbox}
}

func (s *OutboxSink) Publish(ctx context.Context, event domain.Event) error {
	if !event.Type.Notifiable() {
		return nil
	}
	return s.outbox.Add(ctx, event)
}

type NotificationDispatcherConfig struct {
	Outbox    ports.NotificationOutbox
	Notifier  ports.Notifier
	Monitor   ports.ConnectivityMonitor
	Clock     ports.Scheduler
	Logger    *slog.Logger
	Interval  time.Duration // default 5s
	BatchSize int           // default 50
	MaxRetry  int           // default 5
}

// NotificationDispatcher delivers queued notifications while the device is
// online. Deliveries that keep failing are marked dead after MaxRetry attempts.
type NotificationDispatcher struct {
	outbox    ports.NotificationOutbox
	notifier  ports.Notifier
	monitor   ports.ConnectivityMonitor
	clock     ports.Scheduler
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type NotificationDispatcherMetrics struct {
	DispatchSuccessTotal int64 `json:"dispatch_success_total"`
	DispatchFailureTotal int64 `json:"dispatch_failure_total"`
	DispatchDeadTotal    int64 `json:"dispatch_dead_total"`
}

func NewNotificationDispatcher(cfg NotificationDispatcherConfig) *NotificationDispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = WallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NotificationDispatcher{
		outbox:    cfg.Outbox,
		notifier:  cfg.Notifier,
		monitor:   cfg.Monitor,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		maxRetry:  cfg.MaxRetry,
	}
}

func (d *NotificationDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *NotificationDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *NotificationDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.DispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("notification dispatch batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchBatch delivers one batch of due notifications. It does nothing while
// offline.
func (d *NotificationDispatcher) DispatchBatch(ctx context.Context) error {
	if d.monitor != nil && !d.monitor.IsOnline() {
		return nil
	}
	pending, err := d.outbox.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, n := range pending {
		if err := d.notifier.Notify(ctx, n); err != nil {
			if markErr := d.markFailure(ctx, n, err.Error()); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}
		if err := d.outbox.MarkDispatched(ctx, n.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
	}
	return nil
}

func (d *NotificationDispatcher) markFailure(ctx context.Context, n domain.Notification, errMsg string) error {
	attempts := n.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.outbox.MarkDead(ctx, n.ID, attempts, errMsg); err != nil {
			return err
		}
		d.dispatchDeadTotal.Add(1)
		d.logger.Error("notification dropped after repeated failures",
			"notification_id", n.ID, "event", n.EventType, "mutation_id", n.MutationID, "error", errMsg)
		return nil
	}
	next := d.clock.Now().Add(backoffDuration(attempts, time.Second, 5*time.Minute))
	return d.outbox.MarkFailed(ctx, n.ID, attempts, next, errMsg)
}

func (d *NotificationDispatcher) Metrics() NotificationDispatcherMetrics {
	return NotificationDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}
