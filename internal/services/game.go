package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GameService exposes the catalog entries reviews are attached to.
type GameService struct {
	gate  *AccessGate
	games GameRepository
	reads singleflight.Group
}

func NewGameService(gate *AccessGate, games GameRepository) *GameService {
	return &GameService{gate: gate, games: games}
}

// Create adds a game. Only admins may call it.
func (s *GameService) Create(ctx context.Context, token, name string, releaseYear int, description string) (types.Game, error) {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		return types.Game{}, err
	}
	if caller.Role != types.RoleAdmin {
		return types.Game{}, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}

	input := gameInput{
		Name:        strings.TrimSpace(name),
		ReleaseYear: releaseYear,
		Description: strings.TrimSpace(description),
	}
	if err := validateInput(input); err != nil {
		return types.Game{}, err
	}

	game, err := s.games.Create(ctx, types.Game{
		Name:        input.Name,
		ReleaseYear: input.ReleaseYear,
		Description: input.Description,
	})
	if err != nil {
		return types.Game{}, translate(err)
	}
	return game, nil
}

// Get returns a game. Concurrent reads of the same id share one query.
func (s *GameService) Get(ctx context.Context, id int) (types.Game, error) {
	v, err, _ := s.reads.Do(strconv.Itoa(id), func() (any, error) {
		return s.games.Get(ctx, id)
	})
	if err != nil {
		return types.Game{}, translate(fmt.Errorf("game %d: %w", id, err))
	}
	return v.(types.Game), nil
}

// ListReviews returns one page of reviews for gameID and the total count.
func (s *GameService) ListReviews(ctx context.Context, gameID, offset, limit int) ([]types.Review, int, error) {
	if _, err := s.Get(ctx, gameID); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	reviews, total, err := s.games.ListReviews(ctx, gameID, offset, limit)
	if err != nil {
		return nil, 0, translate(err)
	}
	if reviews == nil {
		reviews = []types.Review{}
	}
	return reviews, total, nil
}
