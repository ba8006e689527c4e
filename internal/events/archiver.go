package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/mq"
	"github.com/gamereview/apiserver/internal/storage"
	"github.com/gamereview/apiserver/types"
)

// Archiver consumes review events and writes each one to object storage.
type Archiver struct {
	bus    *mq.MQ
	store  *storage.Storage
	logger *slog.Logger
}

// NewArchiver constructs an Archiver.
func NewArchiver(bus *mq.MQ, store *storage.Storage, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{bus: bus, store: store, logger: logger}
}

// Run consumes events until ctx is cancelled or the subscription fails.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiving review events",
		slog.String("channel", a.bus.Channel()),
		slog.String("bucket", a.store.Bucket()),
	)
	return a.bus.Subscribe(ctx, a.Handle)
}

// Handle archives one message. Undecodable messages are dropped; storage
// failures are returned so the broker redelivers.
func (a *Archiver) Handle(ctx context.Context, msg mq.Message) error {
	var event types.ReviewEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		a.logger.Error("drop undecodable review event", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return nil
	}
	if event.ID == "" {
		event.ID = msg.ID
	}

	key := ObjectKey(event)
	err := a.store.Put(ctx, key, bytes.NewReader(msg.Data), int64(len(msg.Data)), "application/json")
	metrics.ObserveEventArchived(err)
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}

	a.logger.Debug("archived review event", slog.String("key", key), slog.String("type", string(event.Type)))
	return nil
}

// ObjectKey is the storage key for event:
// review-events/<gameID>/<unix-nanos>-<eventID>.json
func ObjectKey(event types.ReviewEvent) string {
	return fmt.Sprintf("review-events/%d/%d-%s.json", event.GameID, event.OccurredAt.UnixNano(), event.ID)
}
