package events

import (
	"context"
	"log/slog"
)

// LogSink writes every event to the structured log. It is the fallback
// when no broker is configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{log: logger.With("component", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	s.log.InfoContext(ctx, "event",
		"id", ev.ID,
		"kind", ev.Kind,
		"session", ev.SessionID,
		"station", ev.StationID,
		"stop", ev.StopNumber,
		"person", ev.PersonID,
		"direction", ev.Direction,
		"undone", ev.Undone,
	)
	return nil
}
