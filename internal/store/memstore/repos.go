package memstore

import (
	"context"
	"fmt"

	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

// UserRepository is the in-memory counterpart of store.UserRepository.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.usernames[username]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.s.users[id], nil
}

func (r *UserRepository) IdentityExists(ctx context.Context, id int) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.users[id]
	return ok, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.usernames[user.Username]; taken {
		return types.User{}, fmt.Errorf("%w: users_username_key", store.ErrDuplicate)
	}
	if _, taken := r.s.emails[user.Email]; taken {
		return types.User{}, fmt.Errorf("%w: users_email_key", store.ErrDuplicate)
	}

	r.s.nextUserID++
	ts := now()
	user.ID = r.s.nextUserID
	user.CreatedAt = ts
	user.UpdatedAt = ts

	r.s.users[user.ID] = user
	r.s.usernames[user.Username] = user.ID
	r.s.emails[user.Email] = user.ID
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if id, taken := r.s.usernames[user.Username]; taken && id != user.ID {
		return types.User{}, fmt.Errorf("%w: users_username_key", store.ErrDuplicate)
	}
	if id, taken := r.s.emails[user.Email]; taken && id != user.ID {
		return types.User{}, fmt.Errorf("%w: users_email_key", store.ErrDuplicate)
	}

	delete(r.s.usernames, current.Username)
	delete(r.s.emails, current.Email)

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = now()
	r.s.users[user.ID] = user
	r.s.usernames[user.Username] = user.ID
	r.s.emails[user.Email] = user.ID
	return user, nil
}

// GameRepository is the in-memory counterpart of store.GameRepository.
type GameRepository struct {
	s *Store
}

func (r *GameRepository) Get(ctx context.Context, id int) (types.Game, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	game, ok := r.s.games[id]
	if !ok {
		return types.Game{}, store.ErrNotFound
	}
	return game, nil
}

// Create inserts a game with an empty aggregate.
func (r *GameRepository) Create(ctx context.Context, game types.Game) (types.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.gameNames[game.Name]; taken {
		return types.Game{}, fmt.Errorf("%w: games_name_key", store.ErrDuplicate)
	}

	r.s.nextGameID++
	ts := now()
	game.ID = r.s.nextGameID
	game.AverageRating = 0
	game.ReviewCount = 0
	game.RatingSum = 0
	game.CreatedAt = ts
	game.UpdatedAt = ts

	r.s.games[game.ID] = game
	r.s.gameNames[game.Name] = game.ID
	return game, nil
}

// ListReviews returns one page of a game's committed reviews, newest first,
// and the total number of reviews.
func (r *GameRepository) ListReviews(ctx context.Context, gameID, offset, limit int) ([]types.Review, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	r.s.mu.RLock()
	var reviews []types.Review
	for _, review := range r.s.reviews {
		if review.GameID == gameID {
			reviews = append(reviews, review)
		}
	}
	r.s.mu.RUnlock()

	sortNewestFirst(reviews)
	total := len(reviews)
	if offset >= total {
		return []types.Review{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return reviews[offset:end], total, nil
}
