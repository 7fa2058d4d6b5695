package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

var _ ports.AppliedLedger = (*Ledger)(nil)

const (
	ledgerPrefix     = "surveysync:applied:"
	defaultLedgerTTL = 30 * 24 * time.Hour
)

// Ledger is an applied-mutation ledger shared by every host that drains into
// the same remote service. Keys expire after TTL; by then every host holding
// the mutation has either applied or failed it.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &Ledger{client: client, ttl: ttl}
}

func (l *Ledger) WasApplied(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkApplied records id with SETNX and reports whether this call was the
// first to record it.
func (l *Ledger) MarkApplied(ctx context.Context, id string) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerPrefix+id, time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("mark applied %s: %w", id, err)
	}
	return ok, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
