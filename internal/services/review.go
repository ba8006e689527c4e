package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/rating"
	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

const defaultTxTimeout = 5 * time.Second

// ReviewService creates, edits and removes reviews. Each mutation changes
// the review row and the game aggregate in one transaction that holds the
// game's row lock.
type ReviewService struct {
	gate      *AccessGate
	store     ReviewStore
	events    EventPublisher
	txTimeout time.Duration
	logger    *slog.Logger
}

func NewReviewService(gate *AccessGate, reviews ReviewStore, events EventPublisher, txTimeout time.Duration, logger *slog.Logger) *ReviewService {
	if events == nil {
		events = discardEvents{}
	}
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		gate:      gate,
		store:     reviews,
		events:    events,
		txTimeout: txTimeout,
		logger:    logger,
	}
}

// Create adds the caller's review of gameID.
func (s *ReviewService) Create(ctx context.Context, token string, gameID int, content string, score int) (types.Review, error) {
	review, event, err := s.create(ctx, token, gameID, content, score)
	metrics.ObserveReviewMutation(metrics.OpCreate, err)
	if err != nil {
		return types.Review{}, err
	}
	s.events.Publish(ctx, event)
	return review, nil
}

func (s *ReviewService) create(ctx context.Context, token string, gameID int, content string, score int) (types.Review, types.ReviewEvent, error) {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		return types.Review{}, types.ReviewEvent{}, err
	}
	content = strings.TrimSpace(content)
	if err := validateInput(reviewInput{GameID: gameID, Content: content, Score: score}); err != nil {
		return types.Review{}, types.ReviewEvent{}, err
	}

	var (
		created types.Review
		game    types.Game
	)
	err = s.runTx(ctx, func(ctx context.Context, tx ReviewTx) error {
		locked, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return err
		}

		if _, err := tx.FindReview(ctx, caller.ID, gameID); err == nil {
			return fmt.Errorf("%w: user %d already reviewed game %d", apperrors.ErrConflict, caller.ID, gameID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		next, err := rating.FromGame(locked).Insert(score)
		if err != nil {
			return aggregateError(gameID, err)
		}

		created, err = tx.InsertReview(ctx, types.Review{
			UserID:  caller.ID,
			GameID:  gameID,
			Content: content,
			Score:   score,
		})
		if err != nil {
			return err
		}

		game = next.Apply(locked)
		return tx.WriteAggregate(ctx, game)
	})
	if err != nil {
		return types.Review{}, types.ReviewEvent{}, err
	}
	return created, reviewEvent(types.ReviewCreated, created, game, nil), nil
}

// Update replaces content and score of the caller's review of gameID.
func (s *ReviewService) Update(ctx context.Context, token string, gameID int, content string, score int) (types.Review, error) {
	return s.update(ctx, token, content, score, func(ctx context.Context, tx ReviewTx, caller types.User) (types.Review, types.Game, error) {
		game, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return types.Review{}, types.Game{}, err
		}
		current, err := tx.FindReview(ctx, caller.ID, gameID)
		if err != nil {
			return types.Review{}, types.Game{}, fmt.Errorf("review of game %d: %w", gameID, err)
		}
		return current, game, nil
	})
}

// UpdateByID replaces content and score of review reviewID. Only its author
// may do so.
func (s *ReviewService) UpdateByID(ctx context.Context, token string, reviewID int64, content string, score int) (types.Review, error) {
	return s.update(ctx, token, content, score, func(ctx context.Context, tx ReviewTx, caller types.User) (types.Review, types.Game, error) {
		return s.lockOwnedReview(ctx, tx, caller, reviewID)
	})
}

// Delete removes the caller's review of gameID.
func (s *ReviewService) Delete(ctx context.Context, token string, gameID int) error {
	return s.delete(ctx, token, func(ctx context.Context, tx ReviewTx, caller types.User) (types.Review, types.Game, error) {
		game, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return types.Review{}, types.Game{}, err
		}
		current, err := tx.FindReview(ctx, caller.ID, gameID)
		if err != nil {
			return types.Review{}, types.Game{}, fmt.Errorf("review of game %d: %w", gameID, err)
		}
		return current, game, nil
	})
}

// DeleteByID removes review reviewID. Only its author may do so.
func (s *ReviewService) DeleteByID(ctx context.Context, token string, reviewID int64) error {
	return s.delete(ctx, token, func(ctx context.Context, tx ReviewTx, caller types.User) (types.Review, types.Game, error) {
		return s.lockOwnedReview(ctx, tx, caller, reviewID)
	})
}

// ListMine returns the caller's reviews, newest first.
func (s *ReviewService) ListMine(ctx context.Context, token string) ([]types.Review, error) {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.ListByAuthor(ctx, caller.ID)
	if err != nil {
		return nil, translate(err)
	}
	if reviews == nil {
		reviews = []types.Review{}
	}
	return reviews, nil
}

// locateFunc finds the review a mutation targets. It must return with the
// review's game locked.
type locateFunc func(ctx context.Context, tx ReviewTx, caller types.User) (types.Review, types.Game, error)

func (s *ReviewService) update(ctx context.Context, token, content string, score int, locate locateFunc) (types.Review, error) {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		metrics.ObserveReviewMutation(metrics.OpUpdate, err)
		return types.Review{}, err
	}
	content = strings.TrimSpace(content)
	if err := validateInput(reviewUpdateInput{Content: content, Score: score}); err != nil {
		metrics.ObserveReviewMutation(metrics.OpUpdate, err)
		return types.Review{}, err
	}

	var (
		updated  types.Review
		game     types.Game
		previous int
	)
	err = s.runTx(ctx, func(ctx context.Context, tx ReviewTx) error {
		current, locked, err := locate(ctx, tx, caller)
		if err != nil {
			return err
		}
		previous = current.Score

		next, err := rating.FromGame(locked).Update(current.Score, score)
		if err != nil {
			return aggregateError(locked.ID, err)
		}

		current.Content = content
		current.Score = score
		updated, err = tx.UpdateReview(ctx, current)
		if err != nil {
			return err
		}

		game = next.Apply(locked)
		return tx.WriteAggregate(ctx, game)
	})
	metrics.ObserveReviewMutation(metrics.OpUpdate, err)
	if err != nil {
		return types.Review{}, err
	}

	s.events.Publish(ctx, reviewEvent(types.ReviewUpdated, updated, game, &previous))
	return updated, nil
}

func (s *ReviewService) delete(ctx context.Context, token string, locate locateFunc) error {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		metrics.ObserveReviewMutation(metrics.OpDelete, err)
		return err
	}

	var (
		removed types.Review
		game    types.Game
	)
	err = s.runTx(ctx, func(ctx context.Context, tx ReviewTx) error {
		current, locked, err := locate(ctx, tx, caller)
		if err != nil {
			return err
		}
		removed = current
		game, err = deleteLocked(ctx, tx, locked, current)
		return err
	})
	metrics.ObserveReviewMutation(metrics.OpDelete, err)
	if err != nil {
		return err
	}

	s.events.Publish(ctx, reviewEvent(types.ReviewDeleted, removed, game, nil))
	return nil
}

// lockOwnedReview loads reviewID, checks the caller wrote it and locks its
// game. The review is read again under the lock since a concurrent
// mutation may have changed or removed it in between.
func (s *ReviewService) lockOwnedReview(ctx context.Context, tx ReviewTx, caller types.User, reviewID int64) (types.Review, types.Game, error) {
	review, err := tx.GetReview(ctx, reviewID)
	if err != nil {
		return types.Review{}, types.Game{}, fmt.Errorf("review %d: %w", reviewID, err)
	}
	if err := s.gate.AuthorizeOwnership(caller, review.UserID); err != nil {
		return types.Review{}, types.Game{}, err
	}

	game, err := lockGame(ctx, tx, review.GameID)
	if err != nil {
		return types.Review{}, types.Game{}, err
	}
	review, err = tx.GetReview(ctx, reviewID)
	if err != nil {
		return types.Review{}, types.Game{}, fmt.Errorf("review %d: %w", reviewID, err)
	}
	return review, game, nil
}

// purgeAuthor deletes every review written by userID and backs each score
// out of its game's aggregate. Games are locked in ascending id order.
func (s *ReviewService) purgeAuthor(ctx context.Context, tx ReviewTx, userID int) ([]types.ReviewEvent, error) {
	reviews, err := tx.ListReviewsByAuthor(ctx, userID)
	if err != nil {
		return nil, err
	}

	gameIDs := make([]int, 0, len(reviews))
	for _, review := range reviews {
		gameIDs = append(gameIDs, review.GameID)
	}
	sort.Ints(gameIDs)

	events := make([]types.ReviewEvent, 0, len(gameIDs))
	for _, gameID := range gameIDs {
		game, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return nil, err
		}
		current, err := tx.FindReview(ctx, userID, gameID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		game, err = deleteLocked(ctx, tx, game, current)
		if err != nil {
			return nil, err
		}
		events = append(events, reviewEvent(types.ReviewDeleted, current, game, nil))
	}
	return events, nil
}

// runTx runs fn under the configured transaction timeout and maps store
// errors onto service error kinds. fn must use the context it is handed so
// lock waits and statements stay within the timeout.
func (s *ReviewService) runTx(ctx context.Context, fn func(ctx context.Context, tx ReviewTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := translate(s.store.WithinTx(ctx, fn))
	if err != nil && apperrors.Kind(err) == nil {
		s.logger.Error("review transaction failed", slog.String("error", err.Error()))
	}
	return err
}

func lockGame(ctx context.Context, tx ReviewTx, gameID int) (types.Game, error) {
	game, err := tx.ReadGameForUpdate(ctx, gameID)
	if err != nil {
		return types.Game{}, fmt.Errorf("game %d: %w", gameID, err)
	}
	return game, nil
}

func deleteLocked(ctx context.Context, tx ReviewTx, game types.Game, review types.Review) (types.Game, error) {
	next, err := rating.FromGame(game).Delete(review.Score)
	if err != nil {
		return types.Game{}, aggregateError(game.ID, err)
	}
	if err := tx.DeleteReview(ctx, review.ID); err != nil {
		return types.Game{}, err
	}
	game = next.Apply(game)
	if err := tx.WriteAggregate(ctx, game); err != nil {
		return types.Game{}, err
	}
	return game, nil
}

func aggregateError(gameID int, err error) error {
	if errors.Is(err, rating.ErrScoreOutOfRange) {
		return apperrors.NewValidationError("score", err.Error())
	}
	return fmt.Errorf("game %d aggregate: %w", gameID, err)
}

func reviewEvent(kind types.ReviewEventType, review types.Review, game types.Game, previous *int) types.ReviewEvent {
	return types.ReviewEvent{
		Type:          kind,
		ReviewID:      review.ID,
		GameID:        review.GameID,
		AuthorID:      review.UserID,
		Score:         review.Score,
		PreviousScore: previous,
		AverageRating: game.AverageRating,
		ReviewCount:   game.ReviewCount,
		OccurredAt:    time.Now().UTC(),
	}
}
