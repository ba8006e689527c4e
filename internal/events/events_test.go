package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamereview/apiserver/internal/mq"
	"github.com/gamereview/apiserver/internal/storage"
	"github.com/gamereview/apiserver/types"
)

type published struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type fakeBackend struct {
	mu        sync.Mutex
	published []published
	err       error
	inbox     []mq.Message
}

func (b *fakeBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.published = append(b.published, published{channel: channel, data: data, attrs: attrs})
	return "msg-1", nil
}

func (b *fakeBackend) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	for _, msg := range b.inbox {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *fakeBackend) Close() error { return nil }

type fakeObjects struct {
	objects map[string][]byte
	err     error
}

func (f *fakeObjects) EnsureBucket(context.Context) error { return nil }

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) Bucket() string { return "archive" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisherSendsEvent(t *testing.T) {
	backend := &fakeBackend{}
	p := NewPublisher(mq.New(backend, "review-events"), discardLogger())

	previous := 40
	p.Publish(context.Background(), types.ReviewEvent{
		Type:          types.ReviewUpdated,
		ReviewID:      7,
		GameID:        3,
		AuthorID:      9,
		Score:         80,
		PreviousScore: &previous,
		AverageRating: 80,
		ReviewCount:   1,
	})

	require.Len(t, backend.published, 1)
	got := backend.published[0]
	assert.Equal(t, "review-events", got.channel)
	assert.Equal(t, "review.updated", got.attrs["type"])
	assert.Equal(t, "3", got.attrs[mq.OrderingKeyAttribute])

	var event types.ReviewEvent
	require.NoError(t, json.Unmarshal(got.data, &event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
	require.NotNil(t, event.PreviousScore)
	assert.Equal(t, 40, *event.PreviousScore)
}

func TestPublisherIgnoresCancelledRequest(t *testing.T) {
	backend := &fakeBackend{}
	p := NewPublisher(mq.New(backend, "review-events"), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Publish(ctx, types.ReviewEvent{Type: types.ReviewCreated, GameID: 1})

	assert.Len(t, backend.published, 1)
}

func TestPublisherSwallowsBrokerErrors(t *testing.T) {
	backend := &fakeBackend{err: errors.New("broker down")}
	p := NewPublisher(mq.New(backend, "review-events"), discardLogger())

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), types.ReviewEvent{Type: types.ReviewDeleted, GameID: 1})
	})
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), types.ReviewEvent{})
	})
	assert.NotPanics(t, func() {
		NewPublisher(nil, nil).Publish(context.Background(), types.ReviewEvent{})
	})
}

func TestArchiverWritesEvents(t *testing.T) {
	occurred := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	event := types.ReviewEvent{ID: "evt-1", Type: types.ReviewCreated, GameID: 12, Score: 70, OccurredAt: occurred}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	backend := &fakeBackend{inbox: []mq.Message{
		{ID: "m1", Data: payload},
		{ID: "m2", Data: []byte("not json")},
	}}
	objects := &fakeObjects{objects: make(map[string][]byte)}
	archiver := NewArchiver(mq.New(backend, "review-events"), storage.NewStorage(objects), discardLogger())

	require.NoError(t, archiver.Run(context.Background()))

	key := ObjectKey(event)
	assert.Equal(t, "review-events/12/1777888800000000000-evt-1.json", key)
	require.Contains(t, objects.objects, key)
	assert.True(t, bytes.Equal(payload, objects.objects[key]))
	assert.Len(t, objects.objects, 1)
}

func TestArchiverReturnsStorageErrors(t *testing.T) {
	payload, err := json.Marshal(types.ReviewEvent{ID: "evt-2", GameID: 1})
	require.NoError(t, err)

	objects := &fakeObjects{objects: make(map[string][]byte), err: errors.New("bucket gone")}
	archiver := NewArchiver(mq.New(&fakeBackend{}, "review-events"), storage.NewStorage(objects), discardLogger())

	err = archiver.Handle(context.Background(), mq.Message{ID: "m", Data: payload})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}
