// Package memstore is an in-process implementation of the store contracts.
// Transactions buffer their writes and apply them atomically on commit, so a
// rolled back or cancelled transaction leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

type pairKey struct {
	userID int
	gameID int
}

// Store holds users, games and reviews in memory.
type Store struct {
	mu sync.RWMutex

	users     map[int]types.User
	usernames map[string]int
	emails    map[string]int
	games     map[int]types.Game
	gameNames map[string]int
	reviews   map[int64]types.Review
	pairs     map[pairKey]int64

	nextUserID   int
	nextGameID   int
	nextReviewID int64

	gameLocks *rowLocks
	userLocks *rowLocks
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[int]types.User),
		usernames: make(map[string]int),
		emails:    make(map[string]int),
		games:     make(map[int]types.Game),
		gameNames: make(map[string]int),
		reviews:   make(map[int64]types.Review),
		pairs:     make(map[pairKey]int64),
		gameLocks: newRowLocks(),
		userLocks: newRowLocks(),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

// Games returns the game repository view of the store.
func (s *Store) Games() *GameRepository {
	return &GameRepository{s: s}
}

// WithinTx runs fn in a transaction. Writes become visible only when fn
// returns nil and the context is still live at commit time.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrAborted, err)
	}

	tx := newTx(s)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrAborted, err)
	}
	return tx.commit()
}

// ListByAuthor returns every committed review by userID, newest first.
func (s *Store) ListByAuthor(ctx context.Context, userID int) ([]types.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reviews []types.Review
	for _, review := range s.reviews {
		if review.UserID == userID {
			reviews = append(reviews, review)
		}
	}
	sortNewestFirst(reviews)
	return reviews, nil
}

func sortNewestFirst(reviews []types.Review) {
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
		}
		return reviews[i].ID > reviews[j].ID
	})
}

// rowLocks hands out one exclusive lock per row id. A lock is a buffered
// channel of size one so waiting can be abandoned when a context ends.
type rowLocks struct {
	mu    sync.Mutex
	chans map[int]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{chans: make(map[int]chan struct{})}
}

func (l *rowLocks) acquire(ctx context.Context, id int) error {
	l.mu.Lock()
	ch, ok := l.chans[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.chans[id] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for row lock: %v", store.ErrAborted, ctx.Err())
	}
}

func (l *rowLocks) release(id int) {
	l.mu.Lock()
	ch := l.chans[id]
	l.mu.Unlock()
	<-ch
}

func now() time.Time {
	return time.Now().UTC()
}
