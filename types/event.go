package types

import "time"

// ReviewEventType names the lifecycle transition a ReviewEvent records.
type ReviewEventType string

const (
	ReviewCreated ReviewEventType = "review.created"
	ReviewUpdated ReviewEventType = "review.updated"
	ReviewDeleted ReviewEventType = "review.deleted"
)

// ReviewEvent is published after a review mutation has committed. It carries
// the game aggregate as it stood after the mutation.
type ReviewEvent struct {
	ID       string          `json:"id"`
	Type     ReviewEventType `json:"type"`
	ReviewID int64           `json:"review_id"`
	GameID   int             `json:"game_id"`
	AuthorID int             `json:"author_id"`

	// Score is the score after the mutation; for deletions it is the score
	// that was removed.
	Score int `json:"score"`

	// PreviousScore is set only for updates.
	PreviousScore *int `json:"previous_score,omitempty"`

	AverageRating float64   `json:"average_rating"`
	ReviewCount   int64     `json:"review_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}
