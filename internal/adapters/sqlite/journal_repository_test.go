package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

func TestJournalRepositoryListsNewestFirstWithFilters(t *testing.T) {
	_, db, _ := openTestStore(t)
	repo := NewJournalRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	online := true

	events := []domain.Event{
		{Type: domain.EventConnectivityChange, At: at, Online: &online},
		{Type: domain.EventItemRetry, At: at.Add(time.Second), MutationID: "m1", ResourceType: domain.ResourceSurveys, ResourceID: "s1", Operation: domain.OperationUpdate, Attempt: 1, Error: "timeout"},
		{Type: domain.EventItemApplied, At: at.Add(2 * time.Second), MutationID: "m1", ResourceType: domain.ResourceSurveys, ResourceID: "s1", Operation: domain.OperationUpdate, Attempt: 2},
		{Type: domain.EventDrainComplete, At: at.Add(3 * time.Second), Detail: json.RawMessage(`{"applied":1,"failed":0,"retrying":0,"remaining":0}`)},
	}
	for _, e := range events {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.Type, err)
		}
	}

	all, err := repo.List(ctx, domain.JournalFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].Event.Type != domain.EventDrainComplete || all[3].Event.Type != domain.EventConnectivityChange {
		t.Fatalf("unexpected order: %+v", all)
	}
	if string(all[0].Event.Detail) != string(events[3].Detail) {
		t.Fatalf("detail changed: %s", all[0].Event.Detail)
	}
	if all[3].Event.Online == nil || !*all[3].Event.Online {
		t.Fatal("expected online flag to round trip")
	}
	if !all[1].Event.At.Equal(events[2].At) {
		t.Fatalf("timestamp changed: %v", all[1].Event.At)
	}

	forMutation, _ := repo.List(ctx, domain.JournalFilter{MutationID: "m1", Limit: 10})
	if len(forMutation) != 2 || forMutation[1].Event.Error != "timeout" {
		t.Fatalf("unexpected mutation history: %+v", forMutation)
	}

	page, _ := repo.List(ctx, domain.JournalFilter{BeforeID: all[1].ID, Limit: 1})
	if len(page) != 1 || page[0].ID != all[2].ID {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestSchemaRepositoryUpsertGetDelete(t *testing.T) {
	_, db, _ := openTestStore(t)
	repo := NewSchemaRepository(db)
	ctx := context.Background()

	if _, err := repo.Get(ctx, domain.ResourceSurveys); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	first, err := repo.Upsert(ctx, domain.ResourceSchema{ResourceType: domain.ResourceSurveys, Schema: json.RawMessage(`{"type":"object"}`)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := repo.Upsert(ctx, domain.ResourceSchema{ResourceType: domain.ResourceSurveys, Schema: json.RawMessage(`{"type":"object","required":["title"]}`)})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at must survive updates: %v vs %v", second.CreatedAt, first.CreatedAt)
	}
	if first.Revision != 1 || second.Revision != 2 {
		t.Fatalf("expected revisions 1 then 2, got %d then %d", first.Revision, second.Revision)
	}

	same, err := repo.Upsert(ctx, domain.ResourceSchema{ResourceType: domain.ResourceSurveys, Schema: json.RawMessage(`{"type":"object","required":["title"]}`)})
	if err != nil {
		t.Fatalf("upsert identical: %v", err)
	}
	if same.Revision != 2 || !same.UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatalf("identical document must not bump the revision: %+v", same)
	}

	got, err := repo.Get(ctx, domain.ResourceSurveys)
	if err != nil || string(got.Schema) != `{"type":"object","required":["title"]}` || got.Revision != 2 {
		t.Fatalf("unexpected schema: %+v %v", got, err)
	}

	deleted, err := repo.Delete(ctx, domain.ResourceSurveys)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, _ = repo.Delete(ctx, domain.ResourceSurveys)
	if deleted {
		t.Fatal("second delete must report nothing removed")
	}
}
