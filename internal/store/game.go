package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gamereview/apiserver/types"
)

// GameRepository handles catalog reads and writes for games. Aggregate
// columns are only changed through a Tx.
type GameRepository struct {
	db *sql.DB
}

func NewGameRepository(db *sql.DB) *GameRepository {
	return &GameRepository{db: db}
}

const gameColumns = `id, name, release_year, description, average_rating, review_count, rating_sum, created_at, updated_at`

func (r *GameRepository) Get(ctx context.Context, id int) (types.Game, error) {
	const query = `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	return scanGame(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a game with an empty aggregate.
func (r *GameRepository) Create(ctx context.Context, game types.Game) (types.Game, error) {
	now := time.Now()
	game.CreatedAt = now
	game.UpdatedAt = now
	game.AverageRating = 0
	game.ReviewCount = 0
	game.RatingSum = 0

	const query = `
		INSERT INTO games (name, release_year, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		game.Name,
		game.ReleaseYear,
		game.Description,
		game.CreatedAt,
		game.UpdatedAt,
	).Scan(&game.ID); err != nil {
		return types.Game{}, classify(ctx, err)
	}
	return game, nil
}

// ListReviews returns one page of a game's reviews, newest first, and the
// total number of reviews.
func (r *GameRepository) ListReviews(ctx context.Context, gameID, offset, limit int) ([]types.Review, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM reviews WHERE game_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, gameID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE game_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, gameID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reviews, err := scanReviews(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

func scanGame(row rowScanner) (types.Game, error) {
	var game types.Game
	err := row.Scan(
		&game.ID,
		&game.Name,
		&game.ReleaseYear,
		&game.Description,
		&game.AverageRating,
		&game.ReviewCount,
		&game.RatingSum,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Game{}, ErrNotFound
		}
		return types.Game{}, err
	}
	return game, nil
}
