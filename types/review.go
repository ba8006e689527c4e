package types

import "time"

const (
	MinScore = 0
	MaxScore = 100
)

// Review is a single user's review of a game. A user holds at most one
// review per game.
type Review struct {
	// ID is the unique identifier of the review.
	ID int64 `json:"id" db:"id"`

	// UserID references the author. Only the author may change or delete
	// the review.
	UserID int `json:"user_id" db:"user_id"`

	// GameID references the reviewed game.
	GameID int `json:"game_id" db:"game_id"`

	// Content is the review body. It is never empty.
	Content string `json:"content" db:"content"`

	// Score is the integer rating in [MinScore, MaxScore].
	Score int `json:"score" db:"score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
