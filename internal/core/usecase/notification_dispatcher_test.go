package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type outboxStub struct {
	clock  *fakeClock
	nextID int64
	items  []domain.Notification
	dead   []int64
}

func (o *outboxStub) Add(_ context.Context, event domain.Event) error {
	o.nextID++
	o.items = append(o.items, domain.Notification{
		ID:            o.nextID,
		EventType:     event.Type,
		MutationID:    event.MutationID,
		Payload:       mustJSON(event),
		Status:        domain.NotificationPending,
		NextAttemptAt: o.clock.Now(),
	})
	return nil
}

func (o *outboxStub) FetchPending(_ context.Context, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for _, n := range o.items {
		if n.Status == domain.NotificationPending && !n.NextAttemptAt.After(o.clock.Now()) {
			out = append(out, n)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (o *outboxStub) find(id int64) *domain.Notification {
	for i := range o.items {
		if o.items[i].ID == id {
			return &o.items[i]
		}
	}
	return nil
}

func (o *outboxStub) MarkDispatched(_ context.Context, id int64) error {
	o.find(id).Status = domain.NotificationDispatched
	return nil
}

func (o *outboxStub) MarkFailed(_ context.Context, id int64, attempts int, next time.Time, errMsg string) error {
	n := o.find(id)
	n.Attempts, n.NextAttemptAt, n.LastError = attempts, next, errMsg
	return nil
}

func (o *outboxStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	n := o.find(id)
	n.Status, n.Attempts, n.LastError = domain.NotificationDead, attempts, errMsg
	o.dead = append(o.dead, id)
	return nil
}

type notifierStub struct {
	err       error
	delivered []domain.Notification
}

func (n *notifierStub) Notify(_ context.Context, notification domain.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, notification)
	return nil
}

func newTestDispatcher(online bool) (*NotificationDispatcher, *outboxStub, *notifierStub, *stubMonitor, *fakeClock) {
	clock := newFakeClock()
	outbox := &outboxStub{clock: clock}
	notifier := &notifierStub{}
	monitor := newStubMonitor(online)
	d := NewNotificationDispatcher(NotificationDispatcherConfig{
		Outbox:   outbox,
		Notifier: notifier,
		Monitor:  monitor,
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxRetry: 3,
	})
	return d, outbox, notifier, monitor, clock
}

func TestOutboxSinkKeepsOnlyOperatorEvents(t *testing.T) {
	clock := newFakeClock()
	outbox := &outboxStub{clock: clock}
	sink := NewOutboxSink(outbox)
	ctx := context.Background()

	for _, typ := range []domain.EventType{domain.EventSyncStart, domain.EventItemApplied, domain.EventItemFailed, domain.EventItemConflict, domain.EventDrainComplete} {
		if err := sink.Publish(ctx, domain.Event{Type: typ}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	if len(outbox.items) != 2 || outbox.items[0].EventType != domain.EventItemFailed || outbox.items[1].EventType != domain.EventItemConflict {
		t.Fatalf("unexpected outbox contents: %+v", outbox.items)
	}
}

func TestNotificationDispatcherWaitsForConnectivity(t *testing.T) {
	d, outbox, notifier, monitor, _ := newTestDispatcher(false)
	ctx := context.Background()
	_ = outbox.Add(ctx, domain.Event{Type: domain.EventItemFailed, MutationID: "m1"})

	if err := d.DispatchBatch(ctx); err != nil {
		t.Fatalf("dispatch offline: %v", err)
	}
	if len(notifier.delivered) != 0 {
		t.Fatal("must not deliver while offline")
	}

	monitor.Set(true)
	if err := d.DispatchBatch(ctx); err != nil {
		t.Fatalf("dispatch online: %v", err)
	}
	if len(notifier.delivered) != 1 || notifier.delivered[0].MutationID != "m1" {
		t.Fatalf("unexpected deliveries: %+v", notifier.delivered)
	}
	if outbox.items[0].Status != domain.NotificationDispatched {
		t.Fatalf("expected dispatched, got %s", outbox.items[0].Status)
	}
	if got := d.Metrics().DispatchSuccessTotal; got != 1 {
		t.Fatalf("expected one success, got %d", got)
	}
}

func TestNotificationDispatcherBacksOffThenGivesUp(t *testing.T) {
	d, outbox, notifier, _, clock := newTestDispatcher(true)
	ctx := context.Background()
	notifier.err = errors.New("webhook returned status 503")
	_ = outbox.Add(ctx, domain.Event{Type: domain.EventItemConflict, MutationID: "m1"})

	if err := d.DispatchBatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	first := outbox.items[0]
	if first.Attempts != 1 || !first.NextAttemptAt.Equal(clock.Now().Add(time.Second)) {
		t.Fatalf("unexpected retry schedule: %+v", first)
	}

	_ = d.DispatchBatch(ctx)
	if outbox.items[0].Attempts != 1 {
		t.Fatal("notification must wait for its backoff")
	}

	for i := 0; i < 2; i++ {
		clock.Advance(time.Hour)
		_ = d.DispatchBatch(ctx)
	}
	if len(outbox.dead) != 1 || outbox.items[0].Status != domain.NotificationDead {
		t.Fatalf("expected notification dead after max retries: %+v", outbox.items[0])
	}
	m := d.Metrics()
	if m.DispatchFailureTotal != 3 || m.DispatchDeadTotal != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}
