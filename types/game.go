package types

import "time"

// Game is the reviewable entity whose aggregate rating is maintained by the
// review service.
type Game struct {
	// ID is the unique identifier of the game.
	ID int `json:"id" db:"id"`

	// Name is the display title of the game.
	Name string `json:"name" db:"name"`

	// ReleaseYear is the year the game was first released.
	ReleaseYear int `json:"release_year" db:"release_year"`

	// Description is a free-form summary of the game.
	Description string `json:"description" db:"description"`

	// AverageRating is the mean score of all surviving reviews, in [0, 100].
	// It is zero when ReviewCount is zero.
	AverageRating float64 `json:"average_rating" db:"average_rating"`

	// ReviewCount is the number of surviving reviews.
	ReviewCount int64 `json:"review_count" db:"review_count"`

	// RatingSum is the exact sum of all surviving review scores.
	// AverageRating is always derived from RatingSum and ReviewCount.
	RatingSum int64 `json:"-" db:"rating_sum"`

	// CreatedAt is the timestamp when the game was added to the catalog.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent change, including
	// aggregate changes caused by reviews.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
