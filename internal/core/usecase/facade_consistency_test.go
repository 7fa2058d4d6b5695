package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

func openSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "surveysync.sqlite"), logger)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlite.NewStore(db, logger)
}

func TestFacadeReadInFlightDoesNotOverwriteAppliedWrite(t *testing.T) {
	cases := []struct {
		name     string
		mutation domain.PendingMutation
		check    func(t *testing.T, rec domain.CacheRecord, err error)
	}{
		{
			name:     "update",
			mutation: newPending("m-update", domain.ResourceSurveys, "s1", domain.OperationUpdate, `{"title":"New"}`),
			check: func(t *testing.T, rec domain.CacheRecord, err error) {
				if err != nil {
					t.Fatalf("expected applied update cached, got %v", err)
				}
				var got map[string]string
				if err := json.Unmarshal(rec.Payload, &got); err != nil || got["title"] != "New" {
					t.Fatalf("older read replaced applied update: %s", rec.Payload)
				}
			},
		},
		{
			name:     "delete",
			mutation: newPending("m-delete", domain.ResourceSurveys, "s1", domain.OperationDelete, ""),
			check: func(t *testing.T, rec domain.CacheRecord, err error) {
				if !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("older read resurrected deleted record: %s (%v)", rec.Payload, err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := openSQLiteStore(t)
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			// Ahead of the store's wall clock, so fetch timestamps alone cannot
			// order the read against the apply.
			clock := &fakeClock{now: time.Now().UTC().Add(24 * time.Hour)}
			monitor := newStubMonitor(true)

			started := make(chan struct{})
			release := make(chan struct{})
			remote := &stubRemote{
				getFn: func(context.Context, domain.ResourceType, string) (json.RawMessage, error) {
					close(started)
					<-release
					return json.RawMessage(`{"id":"s1","title":"Old"}`), nil
				},
			}
			engine := NewSyncEngine(SyncEngineConfig{
				Store:     store,
				Remote:    remote,
				Monitor:   monitor,
				Events:    NewEventBus(logger),
				Scheduler: clock,
				Logger:    logger,
			})
			facade := NewFacade(FacadeConfig{
				Store:   store,
				Remote:  remote,
				Monitor: monitor,
				Clock:   clock,
				Logger:  logger,
				Timeout: 5 * time.Second,
			})

			type readResult struct {
				res domain.Result
				err error
			}
			done := make(chan readResult, 1)
			go func() {
				res, err := facade.Surveys().Get(ctx, "s1")
				done <- readResult{res, err}
			}()
			<-started

			if _, err := store.Enqueue(ctx, tc.mutation); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if err := engine.Drain(ctx); err != nil {
				t.Fatalf("drain: %v", err)
			}
			if applied, _ := store.WasApplied(ctx, tc.mutation.ID); !applied {
				t.Fatal("mutation was not applied")
			}

			close(release)
			select {
			case out := <-done:
				if out.err != nil {
					t.Fatalf("read: %v", out.err)
				}
				if string(out.res.Data) != `{"id":"s1","title":"Old"}` {
					t.Fatalf("read should return what the remote sent: %s", out.res.Data)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("read did not complete")
			}

			rec, err := store.GetCache(ctx, domain.ResourceSurveys, "s1")
			tc.check(t, rec, err)
		})
	}
}

func TestFacadeReadAfterAppliedWriteRefreshesCache(t *testing.T) {
	ctx := context.Background()
	store := openSQLiteStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	monitor := newStubMonitor(true)
	remote := &stubRemote{
		getFn: func(context.Context, domain.ResourceType, string) (json.RawMessage, error) {
			return json.RawMessage(`{"id":"s1","title":"Fresh"}`), nil
		},
	}
	engine := NewSyncEngine(SyncEngineConfig{
		Store:     store,
		Remote:    remote,
		Monitor:   monitor,
		Events:    NewEventBus(logger),
		Scheduler: newFakeClock(),
		Logger:    logger,
	})
	facade := NewFacade(FacadeConfig{Store: store, Remote: remote, Monitor: monitor, Logger: logger})

	if _, err := store.Enqueue(ctx, newPending("m1", domain.ResourceSurveys, "s1", domain.OperationDelete, "")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := engine.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if _, err := facade.Surveys().Get(ctx, "s1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	rec, err := store.GetCache(ctx, domain.ResourceSurveys, "s1")
	if err != nil || string(rec.Payload) != `{"id":"s1","title":"Fresh"}` {
		t.Fatalf("read started after the apply must be cached, got %+v %v", rec, err)
	}
}
