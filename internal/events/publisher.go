// Package events carries committed review mutations to the message broker
// and archives them to object storage.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/mq"
	"github.com/gamereview/apiserver/types"
)

const publishTimeout = 5 * time.Second

// Publisher sends review events to the configured broker. A Publisher with
// no broker drops events silently.
type Publisher struct {
	bus    *mq.MQ
	logger *slog.Logger
}

// NewPublisher constructs a Publisher. bus may be nil.
func NewPublisher(bus *mq.MQ, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger}
}

// Publish sends event. The mutation it describes has already committed, so
// failures are logged and counted but never returned.
func (p *Publisher) Publish(ctx context.Context, event types.ReviewEvent) {
	if p == nil || p.bus == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		metrics.ObserveEventPublished(err)
		p.logger.Error("encode review event", slog.String("event_id", event.ID), slog.String("error", err.Error()))
		return
	}

	// The request may already be finishing; the event must still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attrs := map[string]string{
		"type":                  string(event.Type),
		mq.OrderingKeyAttribute: strconv.Itoa(event.GameID),
	}
	_, err = p.bus.Publish(pubCtx, payload, attrs)
	metrics.ObserveEventPublished(err)
	if err != nil {
		p.logger.Warn("publish review event",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.Int("game_id", event.GameID),
			slog.String("error", err.Error()),
		)
	}
}
