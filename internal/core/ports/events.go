package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NotificationOutbox stores operator alerts until they are delivered.
type NotificationOutbox interface {
	Add(ctx context.Context, event domain.Event) error
	FetchPending(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}
