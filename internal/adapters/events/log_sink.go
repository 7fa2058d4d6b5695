package events

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

// LogSink mirrors sync events into the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event domain.Event) error {
	attrs := []slog.Attr{slog.String("event", string(event.Type))}
	if event.Online != nil {
		attrs = append(attrs, slog.Bool("online", *event.Online))
	}
	if event.MutationID != "" {
		attrs = append(attrs,
			slog.String("mutation_id", event.MutationID),
			slog.String("resource", string(event.ResourceType)),
			slog.String("resource_id", event.ResourceID),
			slog.String("operation", string(event.Operation)),
			slog.Int("attempt", event.Attempt),
		)
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if len(event.Detail) > 0 {
		attrs = append(attrs, slog.String("detail", string(event.Detail)))
	}

	level := slog.LevelInfo
	switch event.Type {
	case domain.EventItemFailed:
		level = slog.LevelError
	case domain.EventItemRetry, domain.EventItemConflict:
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "sync event", attrs...)
	return nil
}
