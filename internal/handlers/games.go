package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gamereview/apiserver/internal/services"
	"github.com/gamereview/apiserver/types"
)

// GameHandler provides HTTP handlers for games.
type GameHandler struct {
	games  *services.GameService
	logger *slog.Logger
}

// NewGameHandler constructs a GameHandler with the provided dependencies.
func NewGameHandler(games *services.GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{games: games, logger: logger}
}

// GameRouter registers game routes on the given router.
func GameRouter(r chi.Router, games *services.GameService, logger *slog.Logger) {
	handler := NewGameHandler(games, logger)

	r.With(RequireBearer).Post("/", handler.CreateGame)
	r.Route("/{gameID}", func(r chi.Router) {
		r.Get("/", handler.GetGame)
		r.Get("/reviews", handler.ListReviews)
	})
}

func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req GameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	game, err := h.games.Create(r.Context(), tokenFromContext(r.Context()), req.Name, req.ReleaseYear, req.Description)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := parseGameID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	game, err := h.games.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *GameHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := parseGameID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.games.ListReviews(r.Context(), id, offset, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ReviewListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

type GameRequest struct {
	Name        string `json:"name"`
	ReleaseYear int    `json:"release_year"`
	Description string `json:"description"`
}

type ReviewListResponse struct {
	Items []types.Review `json:"items"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
}
