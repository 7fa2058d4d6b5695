package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

type CacheStore interface {
	GetCache(ctx context.Context, resourceType domain.ResourceType, resourceID string) (domain.CacheRecord, error)
	PutCache(ctx context.Context, rec domain.CacheRecord) error
	InvalidateCache(ctx context.Context, resourceType domain.ResourceType, resourceID string) error
	CacheGeneration(ctx context.Context, resourceType domain.ResourceType, resourceID string) (int64, error)
}

type MutationQueue interface {
	Enqueue(ctx context.Context, m domain.PendingMutation) (domain.PendingMutation, error)
	ListPending(ctx context.Context, resourceType domain.ResourceType) ([]domain.PendingMutation, error)
	ListFailed(ctx context.Context) ([]domain.PendingMutation, error)
	GetMutation(ctx context.Context, id string) (domain.PendingMutation, error)
	CountPending(ctx context.Context) (int, error)
	HasPending(ctx context.Context, resourceType domain.ResourceType, resourceID string) (bool, error)
	MarkStatus(ctx context.Context, id string, status domain.MutationStatus, attemptCount int, nextAttemptAt time.Time, lastError string) error
	RemoveApplied(ctx context.Context, id string) error
	RequeueFailed(ctx context.Context) (int, error)
}

// AppliedLedger records idempotency keys that reached applied so that a
// retried or concurrent delivery is never applied twice.
type AppliedLedger interface {
	WasApplied(ctx context.Context, id string) (bool, error)
	MarkApplied(ctx context.Context, id string) (bool, error)
}

// LocalStore is the durable store shared by the facade and the sync engine.
// ApplyConfirmed merges the server representation into the cache, records the
// idempotency key and removes the queue row in one atomic step. It reports
// false when the key had already been applied.
type LocalStore interface {
	CacheStore
	MutationQueue
	AppliedLedger
	ApplyConfirmed(ctx context.Context, m domain.PendingMutation, representation json.RawMessage) (bool, error)
}

type JournalRepository interface {
	Append(ctx context.Context, event domain.Event) error
	List(ctx context.Context, filter domain.JournalFilter) ([]domain.JournalEntry, error)
}

type ResourceSchemaRepository interface {
	Upsert(ctx context.Context, schema domain.ResourceSchema) (domain.ResourceSchema, error)
	Get(ctx context.Context, resourceType domain.ResourceType) (domain.ResourceSchema, error)
	Delete(ctx context.Context, resourceType domain.ResourceType) (bool, error)
}
