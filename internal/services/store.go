package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

// ReviewTx is the transactional view the review engine works through.
type ReviewTx = store.Tx

// ReviewStore runs review transactions. Implementations must commit every
// write issued through the ReviewTx together or not at all.
type ReviewStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ReviewTx) error) error
	ListByAuthor(ctx context.Context, userID int) ([]types.Review, error)
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	IdentityExists(ctx context.Context, id int) (bool, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// GameRepository defines persistence operations for games.
type GameRepository interface {
	Get(ctx context.Context, id int) (types.Game, error)
	Create(ctx context.Context, game types.Game) (types.Game, error)
	ListReviews(ctx context.Context, gameID, offset, limit int) ([]types.Review, int, error)
}

// EventPublisher receives review events after their mutation committed.
type EventPublisher interface {
	Publish(ctx context.Context, event types.ReviewEvent)
}

type discardEvents struct{}

func (discardEvents) Publish(context.Context, types.ReviewEvent) {}

// translate maps store errors onto service error kinds. Errors that already
// carry a kind pass through untouched.
func translate(err error) error {
	if err == nil || apperrors.Kind(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	case errors.Is(err, store.ErrAborted):
		metrics.ObserveStoreAbort()
		return fmt.Errorf("%w: %v", apperrors.ErrAborted, err)
	}
	return err
}
