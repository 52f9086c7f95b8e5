package events

import (
	"context"
	"log/slog"
)

// LogEmitter writes events as structured log lines. Failures log at warn.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log emitter. A nil logger uses slog.Default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) {
	level := slog.LevelDebug
	switch e.Type {
	case TransitionDetected:
		if e.Kind != "player_joined" {
			level = slog.LevelInfo
		}
	case Queued, CycleCompleted:
		level = slog.LevelInfo
	case DeliveryOutcome:
		level = slog.LevelInfo
		if e.Status != "delivered" {
			level = slog.LevelWarn
		}
	case DetectionFailed, DeliveryExpired, PersistenceFailed, CycleFailed:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{}
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	add("server", e.ServerID)
	add("kind", e.Kind)
	add("identity", e.Identity)
	add("user", e.UserID)
	add("target", e.Target)
	add("status", e.Status)
	add("reason", e.Reason)
	if e.Count != 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}
	if e.Duration != 0 {
		attrs = append(attrs, slog.Duration("duration", e.Duration))
	}

	l.logger.LogAttrs(ctx, level, string(e.Type), attrs...)
}
