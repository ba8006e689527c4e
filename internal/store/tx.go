package store

import (
	"context"

	"github.com/gamereview/apiserver/types"
)

// Tx is the transactional view every review backend provides. Everything
// written through a Tx commits together or not at all.
//
// ReadGameForUpdate takes an exclusive lock on the game row that is held
// until the transaction ends; review rows of that game must only be written
// while the lock is held.
type Tx interface {
	ReadGameForUpdate(ctx context.Context, gameID int) (types.Game, error)
	WriteAggregate(ctx context.Context, game types.Game) error

	// FindReview returns the review written by userID for gameID, or
	// ErrNotFound. Used as the uniqueness check before an insert.
	FindReview(ctx context.Context, userID, gameID int) (types.Review, error)
	GetReview(ctx context.Context, id int64) (types.Review, error)
	ListReviewsByAuthor(ctx context.Context, userID int) ([]types.Review, error)
	InsertReview(ctx context.Context, review types.Review) (types.Review, error)
	UpdateReview(ctx context.Context, review types.Review) (types.Review, error)
	DeleteReview(ctx context.Context, id int64) error

	// LockUser locks the user row so no review referencing it can be
	// created until the transaction ends.
	LockUser(ctx context.Context, userID int) error
	DeleteUser(ctx context.Context, userID int) error
}
