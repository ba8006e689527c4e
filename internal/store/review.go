package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gamereview/apiserver/types"
)

const reviewColumns = `id, user_id, game_id, content, score, created_at, updated_at`

// ReviewRepository runs review mutations and their aggregate updates inside
// one Postgres transaction.
type ReviewRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewReviewRepository constructs a repository. lockTimeout bounds how long a
// transaction waits for a row lock before Postgres aborts it; zero leaves the
// server default in place.
func NewReviewRepository(db *sql.DB, lockTimeout time.Duration) *ReviewRepository {
	return &ReviewRepository{db: db, lockTimeout: lockTimeout}
}

// WithinTx runs fn in a transaction and commits when it returns nil. Any
// error, panic or context cancellation rolls the transaction back.
func (r *ReviewRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(ctx, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", r.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify(ctx, err)
		}
	}

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return classify(ctx, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(ctx, err)
	}
	committed = true
	return nil
}

// ListByAuthor returns every review written by userID, newest first.
func (r *ReviewRepository) ListByAuthor(ctx context.Context, userID int) ([]types.Review, error) {
	return listReviewsByAuthor(ctx, r.db, userID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listReviewsByAuthor(ctx context.Context, q queryer, userID int) ([]types.Review, error) {
	const query = `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close()
	return scanReviews(rows, 0)
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ReadGameForUpdate(ctx context.Context, gameID int) (types.Game, error) {
	const query = `SELECT ` + gameColumns + ` FROM games WHERE id = $1 FOR UPDATE`
	game, err := scanGame(t.tx.QueryRowContext(ctx, query, gameID))
	if err != nil {
		return types.Game{}, classify(ctx, err)
	}
	return game, nil
}

func (t *pgTx) WriteAggregate(ctx context.Context, game types.Game) error {
	const query = `
		UPDATE games
		SET rating_sum = $1,
			review_count = $2,
			average_rating = $3,
			updated_at = $4
		WHERE id = $5`
	result, err := t.tx.ExecContext(
		ctx,
		query,
		game.RatingSum,
		game.ReviewCount,
		game.AverageRating,
		time.Now(),
		game.ID,
	)
	if err != nil {
		return classify(ctx, err)
	}
	return expectAffected(result)
}

func (t *pgTx) FindReview(ctx context.Context, userID, gameID int) (types.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND game_id = $2`
	review, err := scanReview(t.tx.QueryRowContext(ctx, query, userID, gameID))
	if err != nil {
		return types.Review{}, classify(ctx, err)
	}
	return review, nil
}

func (t *pgTx) GetReview(ctx context.Context, id int64) (types.Review, error) {
	const query = `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`
	review, err := scanReview(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.Review{}, classify(ctx, err)
	}
	return review, nil
}

func (t *pgTx) ListReviewsByAuthor(ctx context.Context, userID int) ([]types.Review, error) {
	return listReviewsByAuthor(ctx, t.tx, userID)
}

func (t *pgTx) InsertReview(ctx context.Context, review types.Review) (types.Review, error) {
	now := time.Now()
	review.CreatedAt = now
	review.UpdatedAt = now

	const query = `
		INSERT INTO reviews (user_id, game_id, content, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := t.tx.QueryRowContext(
		ctx,
		query,
		review.UserID,
		review.GameID,
		review.Content,
		review.Score,
		review.CreatedAt,
		review.UpdatedAt,
	).Scan(&review.ID); err != nil {
		return types.Review{}, classify(ctx, err)
	}
	return review, nil
}

func (t *pgTx) UpdateReview(ctx context.Context, review types.Review) (types.Review, error) {
	review.UpdatedAt = time.Now()

	const query = `
		UPDATE reviews
		SET content = $1,
			score = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := t.tx.ExecContext(ctx, query, review.Content, review.Score, review.UpdatedAt, review.ID)
	if err != nil {
		return types.Review{}, classify(ctx, err)
	}
	if err := expectAffected(result); err != nil {
		return types.Review{}, err
	}
	return review, nil
}

func (t *pgTx) DeleteReview(ctx context.Context, id int64) error {
	const query = `DELETE FROM reviews WHERE id = $1`
	result, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return classify(ctx, err)
	}
	return expectAffected(result)
}

func (t *pgTx) LockUser(ctx context.Context, userID int) error {
	const query = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	var id int
	if err := t.tx.QueryRowContext(ctx, query, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return classify(ctx, err)
	}
	return nil
}

func (t *pgTx) DeleteUser(ctx context.Context, userID int) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := t.tx.ExecContext(ctx, query, userID)
	if err != nil {
		return classify(ctx, err)
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReview(row rowScanner) (types.Review, error) {
	var review types.Review
	err := row.Scan(
		&review.ID,
		&review.UserID,
		&review.GameID,
		&review.Content,
		&review.Score,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Review{}, ErrNotFound
		}
		return types.Review{}, err
	}
	return review, nil
}

func scanReviews(rows *sql.Rows, capacity int) ([]types.Review, error) {
	reviews := make([]types.Review, 0, capacity)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}
