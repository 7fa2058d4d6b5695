package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLedgerMarkAppliedIsFirstWriterWins(t *testing.T) {
	client, _ := setupTestRedis(t)
	hostA := NewLedger(client, time.Hour)
	hostB := NewLedger(client, time.Hour)
	ctx := context.Background()

	applied, err := hostA.WasApplied(ctx, "m1")
	require.NoError(t, err)
	require.False(t, applied)

	first, err := hostA.MarkApplied(ctx, "m1")
	require.NoError(t, err)
	require.True(t, first)

	again, err := hostB.MarkApplied(ctx, "m1")
	require.NoError(t, err)
	require.False(t, again, "second host must not be told it applied first")

	applied, err = hostB.WasApplied(ctx, "m1")
	require.NoError(t, err)
	require.True(t, applied)
}

func TestLedgerEntriesExpire(t *testing.T) {
	client, mr := setupTestRedis(t)
	ledger := NewLedger(client, time.Minute)
	ctx := context.Background()

	_, err := ledger.MarkApplied(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, time.Minute, mr.TTL(ledgerPrefix+"m1"))

	mr.FastForward(2 * time.Minute)
	applied, err := ledger.WasApplied(ctx, "m1")
	require.NoError(t, err)
	require.False(t, applied)
}

func TestLedgerDefaultTTL(t *testing.T) {
	client, _ := setupTestRedis(t)
	require.Equal(t, defaultLedgerTTL, NewLedger(client, 0).ttl)
}

func TestLedgerReportsUnavailableRedis(t *testing.T) {
	client, mr := setupTestRedis(t)
	ledger := NewLedger(client, time.Hour)
	mr.Close()

	_, err := ledger.WasApplied(context.Background(), "m1")
	require.Error(t, err)
	require.Error(t, ledger.Ping(context.Background()))
}
