package events

import (
	"context"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

// JournalSink appends every sync event to the persistent journal.
type JournalSink struct {
	repo ports.JournalRepository
}

func NewJournalSink(repo ports.JournalRepository) *JournalSink {
	return &JournalSink{repo: repo}
}

func (s *JournalSink) Publish(ctx context.Context, event domain.Event) error {
	return s.repo.Append(ctx, event)
}
