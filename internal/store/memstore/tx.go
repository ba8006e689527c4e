package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

var errLockNotHeld = errors.New("memstore: game row is not locked by this transaction")

// memTx buffers writes on top of the committed state.
type memTx struct {
	s *Store

	heldGames map[int]struct{}
	heldUsers map[int]struct{}

	games        map[int]types.Game
	reviews      map[int64]types.Review
	deleted      map[int64]struct{}
	deletedUsers map[int]struct{}
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		heldGames:    make(map[int]struct{}),
		heldUsers:    make(map[int]struct{}),
		games:        make(map[int]types.Game),
		reviews:      make(map[int64]types.Review),
		deleted:      make(map[int64]struct{}),
		deletedUsers: make(map[int]struct{}),
	}
}

func (t *memTx) release() {
	for id := range t.heldGames {
		t.s.gameLocks.release(id)
	}
	for id := range t.heldUsers {
		t.s.userLocks.release(id)
	}
	t.heldGames = nil
	t.heldUsers = nil
}

func (t *memTx) ReadGameForUpdate(ctx context.Context, gameID int) (types.Game, error) {
	if _, held := t.heldGames[gameID]; !held {
		if err := t.s.gameLocks.acquire(ctx, gameID); err != nil {
			return types.Game{}, err
		}
		t.heldGames[gameID] = struct{}{}
	}

	if game, ok := t.games[gameID]; ok {
		return game, nil
	}

	t.s.mu.RLock()
	game, ok := t.s.games[gameID]
	t.s.mu.RUnlock()
	if !ok {
		// A missing row locks nothing.
		t.s.gameLocks.release(gameID)
		delete(t.heldGames, gameID)
		return types.Game{}, store.ErrNotFound
	}
	return game, nil
}

func (t *memTx) WriteAggregate(ctx context.Context, game types.Game) error {
	if err := t.requireGameLock(game.ID); err != nil {
		return err
	}
	game.UpdatedAt = now()
	t.games[game.ID] = game
	return nil
}

func (t *memTx) FindReview(ctx context.Context, userID, gameID int) (types.Review, error) {
	for _, review := range t.reviews {
		if review.UserID == userID && review.GameID == gameID {
			return review, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.pairs[pairKey{userID: userID, gameID: gameID}]
	if !ok {
		return types.Review{}, store.ErrNotFound
	}
	if _, gone := t.deleted[id]; gone {
		return types.Review{}, store.ErrNotFound
	}
	return t.s.reviews[id], nil
}

func (t *memTx) GetReview(ctx context.Context, id int64) (types.Review, error) {
	if _, gone := t.deleted[id]; gone {
		return types.Review{}, store.ErrNotFound
	}
	if review, ok := t.reviews[id]; ok {
		return review, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	review, ok := t.s.reviews[id]
	if !ok {
		return types.Review{}, store.ErrNotFound
	}
	return review, nil
}

func (t *memTx) ListReviewsByAuthor(ctx context.Context, userID int) ([]types.Review, error) {
	seen := make(map[int64]struct{})
	var reviews []types.Review
	for id, review := range t.reviews {
		seen[id] = struct{}{}
		if review.UserID == userID {
			reviews = append(reviews, review)
		}
	}

	t.s.mu.RLock()
	for id, review := range t.s.reviews {
		if review.UserID != userID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if _, gone := t.deleted[id]; gone {
			continue
		}
		reviews = append(reviews, review)
	}
	t.s.mu.RUnlock()

	sortNewestFirst(reviews)
	return reviews, nil
}

func (t *memTx) InsertReview(ctx context.Context, review types.Review) (types.Review, error) {
	if err := t.requireGameLock(review.GameID); err != nil {
		return types.Review{}, err
	}
	if _, err := t.FindReview(ctx, review.UserID, review.GameID); err == nil {
		return types.Review{}, fmt.Errorf("%w: reviews_user_game_key", store.ErrDuplicate)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Review{}, err
	}

	t.s.mu.Lock()
	t.s.nextReviewID++
	review.ID = t.s.nextReviewID
	t.s.mu.Unlock()

	ts := now()
	review.CreatedAt = ts
	review.UpdatedAt = ts
	t.reviews[review.ID] = review
	return review, nil
}

func (t *memTx) UpdateReview(ctx context.Context, review types.Review) (types.Review, error) {
	current, err := t.GetReview(ctx, review.ID)
	if err != nil {
		return types.Review{}, err
	}
	if err := t.requireGameLock(current.GameID); err != nil {
		return types.Review{}, err
	}

	current.Content = review.Content
	current.Score = review.Score
	current.UpdatedAt = now()
	t.reviews[current.ID] = current
	return current, nil
}

func (t *memTx) DeleteReview(ctx context.Context, id int64) error {
	current, err := t.GetReview(ctx, id)
	if err != nil {
		return err
	}
	if err := t.requireGameLock(current.GameID); err != nil {
		return err
	}

	delete(t.reviews, id)
	t.s.mu.RLock()
	_, committed := t.s.reviews[id]
	t.s.mu.RUnlock()
	if committed {
		t.deleted[id] = struct{}{}
	}
	return nil
}

func (t *memTx) LockUser(ctx context.Context, userID int) error {
	if _, held := t.heldUsers[userID]; held {
		return nil
	}
	if err := t.s.userLocks.acquire(ctx, userID); err != nil {
		return err
	}
	t.heldUsers[userID] = struct{}{}

	t.s.mu.RLock()
	_, ok := t.s.users[userID]
	t.s.mu.RUnlock()
	if !ok {
		t.s.userLocks.release(userID)
		delete(t.heldUsers, userID)
		return store.ErrNotFound
	}
	return nil
}

func (t *memTx) DeleteUser(ctx context.Context, userID int) error {
	if _, gone := t.deletedUsers[userID]; gone {
		return store.ErrNotFound
	}
	t.s.mu.RLock()
	_, ok := t.s.users[userID]
	t.s.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	t.deletedUsers[userID] = struct{}{}
	return nil
}

func (t *memTx) requireGameLock(gameID int) error {
	if _, held := t.heldGames[gameID]; !held {
		return errLockNotHeld
	}
	return nil
}

// commit checks referential integrity and uniqueness against the committed
// state and then applies every buffered write under one lock.
func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, review := range t.reviews {
		if _, ok := s.users[review.UserID]; !ok {
			return fmt.Errorf("%w: review references missing user %d", store.ErrAborted, review.UserID)
		}
		if _, gone := t.deletedUsers[review.UserID]; gone {
			return fmt.Errorf("%w: review references deleted user %d", store.ErrAborted, review.UserID)
		}
		if _, ok := s.games[review.GameID]; !ok {
			return fmt.Errorf("%w: review references missing game %d", store.ErrAborted, review.GameID)
		}
		if id, ok := s.pairs[pairKey{userID: review.UserID, gameID: review.GameID}]; ok && id != review.ID {
			if _, gone := t.deleted[id]; !gone {
				return fmt.Errorf("%w: reviews_user_game_key", store.ErrDuplicate)
			}
		}
	}

	for userID := range t.deletedUsers {
		for id, review := range s.reviews {
			if review.UserID != userID {
				continue
			}
			if _, gone := t.deleted[id]; !gone {
				return fmt.Errorf("%w: user %d still has reviews", store.ErrAborted, userID)
			}
		}
	}

	for id := range t.games {
		if _, ok := s.games[id]; !ok {
			return fmt.Errorf("%w: game %d no longer exists", store.ErrAborted, id)
		}
	}

	for id := range t.deleted {
		review := s.reviews[id]
		delete(s.pairs, pairKey{userID: review.UserID, gameID: review.GameID})
		delete(s.reviews, id)
	}
	for id, review := range t.reviews {
		s.reviews[id] = review
		s.pairs[pairKey{userID: review.UserID, gameID: review.GameID}] = id
	}
	for id, game := range t.games {
		s.games[id] = game
	}
	for userID := range t.deletedUsers {
		user := s.users[userID]
		delete(s.usernames, user.Username)
		delete(s.emails, user.Email)
		delete(s.users, userID)
	}
	return nil
}
