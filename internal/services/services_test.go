package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gamereview/apiserver/internal/credentials"
	"github.com/gamereview/apiserver/internal/store/memstore"
	"github.com/gamereview/apiserver/types"
)

const testPassword = "s3cretpass"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []types.ReviewEvent
}

func (r *recordingEvents) Publish(_ context.Context, event types.ReviewEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) all() []types.ReviewEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ReviewEvent(nil), r.events...)
}

type testEnv struct {
	ctx      context.Context
	store    *memstore.Store
	clock    *fakeClock
	events   *recordingEvents
	gate     *AccessGate
	reviews  *ReviewService
	accounts *AccountService
	games    *GameService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTimeout(t, time.Second)
}

func newTestEnvWithTimeout(t *testing.T, txTimeout time.Duration) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	keyring, err := credentials.NewKeyring(credentials.Key{ID: "v1", Secret: []byte("test-secret")})
	require.NoError(t, err)
	creds, err := credentials.NewManager(keyring, st.Users(), credentials.Options{BcryptCost: 4, Now: clock.Now})
	require.NoError(t, err)

	events := &recordingEvents{}
	gate := NewAccessGate(creds, st.Users(), logger)
	reviews := NewReviewService(gate, st, events, txTimeout, logger)

	return &testEnv{
		ctx:      context.Background(),
		store:    st,
		clock:    clock,
		events:   events,
		gate:     gate,
		reviews:  reviews,
		accounts: NewAccountService(gate, creds, st.Users(), reviews, time.Hour, logger),
		games:    NewGameService(gate, st.Games()),
	}
}

// signUp registers username and returns the account and a session token.
func (e *testEnv) signUp(t *testing.T, username string) (types.User, string) {
	t.Helper()
	user, err := e.accounts.Register(e.ctx, username, testPassword, username+"@example.com")
	require.NoError(t, err)
	token, err := e.accounts.Login(e.ctx, username, testPassword)
	require.NoError(t, err)
	return user, token
}

func (e *testEnv) addGame(t *testing.T, name string) types.Game {
	t.Helper()
	game, err := e.store.Games().Create(e.ctx, types.Game{Name: name, ReleaseYear: 2020})
	require.NoError(t, err)
	return game
}

func (e *testEnv) game(t *testing.T, id int) types.Game {
	t.Helper()
	game, err := e.store.Games().Get(e.ctx, id)
	require.NoError(t, err)
	return game
}

func (e *testEnv) requireAggregate(t *testing.T, gameID int, avg float64, count int64) {
	t.Helper()
	game := e.game(t, gameID)
	require.InDelta(t, avg, game.AverageRating, 1e-9, "average of game %d", gameID)
	require.Equal(t, count, game.ReviewCount, "count of game %d", gameID)
}

func username(i int) string {
	return fmt.Sprintf("player%03d", i)
}
