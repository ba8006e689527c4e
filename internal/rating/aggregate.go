// Package rating holds the state transitions of a game's review aggregate.
//
// The aggregate keeps the exact integer sum of surviving scores next to the
// review count, so the average is always derived rather than accumulated.
// Every transition returns a new value and leaves the receiver untouched; the
// caller is responsible for persisting it atomically with the review row.
package rating

import (
	"errors"
	"fmt"

	"github.com/gamereview/apiserver/types"
)

var (
	ErrScoreOutOfRange = fmt.Errorf("score must be between %d and %d", types.MinScore, types.MaxScore)
	ErrEmptyAggregate  = errors.New("aggregate has no reviews")
	ErrCorrupt         = errors.New("aggregate is inconsistent")
)

// Aggregate is the (sum, count) pair for one game.
type Aggregate struct {
	Sum   int64
	Count int64
}

// FromGame reads the aggregate stored on g.
func FromGame(g types.Game) Aggregate {
	return Aggregate{Sum: g.RatingSum, Count: g.ReviewCount}
}

// Average returns Sum/Count, or 0 for an empty aggregate.
func (a Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.Count)
}

// Apply writes the aggregate and its derived average onto g.
func (a Aggregate) Apply(g types.Game) types.Game {
	g.RatingSum = a.Sum
	g.ReviewCount = a.Count
	g.AverageRating = a.Average()
	return g
}

// Validate checks the aggregate could have been produced by bounded scores.
func (a Aggregate) Validate() error {
	if a.Count < 0 || a.Sum < 0 {
		return ErrCorrupt
	}
	if a.Count == 0 && a.Sum != 0 {
		return ErrCorrupt
	}
	if a.Sum > a.Count*types.MaxScore {
		return ErrCorrupt
	}
	return nil
}

// Insert adds a new score.
func (a Aggregate) Insert(score int) (Aggregate, error) {
	if err := CheckScore(score); err != nil {
		return a, err
	}
	if err := a.Validate(); err != nil {
		return a, err
	}
	return Aggregate{Sum: a.Sum + int64(score), Count: a.Count + 1}, nil
}

// Update replaces an existing score. The count is unchanged.
func (a Aggregate) Update(oldScore, newScore int) (Aggregate, error) {
	if err := CheckScore(oldScore); err != nil {
		return a, err
	}
	if err := CheckScore(newScore); err != nil {
		return a, err
	}
	if a.Count == 0 {
		return a, ErrEmptyAggregate
	}
	next := Aggregate{Sum: a.Sum - int64(oldScore) + int64(newScore), Count: a.Count}
	if err := next.Validate(); err != nil {
		return a, err
	}
	return next, nil
}

// Delete removes an existing score. Removing the last review resets the
// aggregate to zero.
func (a Aggregate) Delete(score int) (Aggregate, error) {
	if err := CheckScore(score); err != nil {
		return a, err
	}
	if a.Count == 0 {
		return a, ErrEmptyAggregate
	}
	if a.Count == 1 {
		return Aggregate{}, nil
	}
	next := Aggregate{Sum: a.Sum - int64(score), Count: a.Count - 1}
	if err := next.Validate(); err != nil {
		return a, err
	}
	return next, nil
}

// CheckScore reports whether score is within the allowed range.
func CheckScore(score int) error {
	if score < types.MinScore || score > types.MaxScore {
		return ErrScoreOutOfRange
	}
	return nil
}
