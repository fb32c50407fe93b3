package service

import (
	"context"

	"github.com/rs/zerolog"

	"gamification-engine/internal/model"
)

// Emitter delivers result events to downstream consumers (notifications,
// UI, analytics). Delivery and PII handling are the consumer's concern;
// payloads never carry identifiers beyond the user id.
type Emitter interface {
	Emit(ctx context.Context, event model.ResultEvent)
}

// LogEmitter writes result events to the structured log. It is the
// default sink when no external consumer is wired in.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs the event at info level.
func (e *LogEmitter) Emit(_ context.Context, event model.ResultEvent) {
	e.logger.Info().
		Str("event_type", string(event.Type)).
		Int64("user_id", event.UserID).
		Time("timestamp", event.Timestamp).
		Interface("payload", event.Payload).
		Msg("result event")
}

// collector buffers events during one award so they are only emitted
// after the progress update commits.
type collector struct {
	events []model.ResultEvent
}

func (c *collector) add(event model.ResultEvent) {
	c.events = append(c.events, event)
}

func (c *collector) flush(ctx context.Context, emitter Emitter) {
	for _, ev := range c.events {
		emitter.Emit(ctx, ev)
	}
}
