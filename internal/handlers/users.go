package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/internal/services"
)

// UserHandler serves the caller's own account and reviews.
type UserHandler struct {
	accounts *services.AccountService
	reviews  *services.ReviewService
	logger   *slog.Logger
}

// NewUserHandler constructs a UserHandler with the provided dependencies.
func NewUserHandler(accounts *services.AccountService, reviews *services.ReviewService, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, reviews: reviews, logger: logger}
}

// UserRouter registers /users routes on the given router. Every route needs
// a bearer token.
func UserRouter(r chi.Router, accounts *services.AccountService, reviews *services.ReviewService, logger *slog.Logger) {
	handler := NewUserHandler(accounts, reviews, logger)

	r.Route("/me", func(r chi.Router) {
		r.Use(RequireBearer)
		r.Get("/", handler.Me)
		r.Delete("/", handler.DeleteAccount)

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", handler.ListReviews)
			r.Post("/", handler.CreateReview)
			r.Put("/", handler.UpdateReview)
			r.Delete("/game/{gameID}", handler.DeleteReviewForGame)
			r.Put("/{reviewID}", handler.UpdateReviewByID)
			r.Delete("/{reviewID}", handler.DeleteReviewByID)
		})
	})
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Me(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteAccount removes the caller and every review they wrote.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), tokenFromContext(r.Context())); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.reviews.ListMine(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (h *UserHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Score == nil {
		writeServiceError(w, r, h.logger, errScoreRequired)
		return
	}

	review, err := h.reviews.Create(r.Context(), tokenFromContext(r.Context()), req.GameID, req.Content, *req.Score)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (h *UserHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Score == nil {
		writeServiceError(w, r, h.logger, errScoreRequired)
		return
	}

	review, err := h.reviews.Update(r.Context(), tokenFromContext(r.Context()), req.GameID, req.Content, *req.Score)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *UserHandler) DeleteReviewForGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reviews.Delete(r.Context(), tokenFromContext(r.Context()), gameID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) UpdateReviewByID(w http.ResponseWriter, r *http.Request) {
	reviewID, err := parseIDParam(r, "reviewID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}
	var req ReviewBodyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Score == nil {
		writeServiceError(w, r, h.logger, errScoreRequired)
		return
	}

	review, err := h.reviews.UpdateByID(r.Context(), tokenFromContext(r.Context()), reviewID, req.Content, *req.Score)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *UserHandler) DeleteReviewByID(w http.ResponseWriter, r *http.Request) {
	reviewID, err := parseIDParam(r, "reviewID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	if err := h.reviews.DeleteByID(r.Context(), tokenFromContext(r.Context()), reviewID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReviewRequest is a review body. Score is a pointer so an omitted score is
// not read as 0.
type ReviewRequest struct {
	GameID  int    `json:"game_id"`
	Content string `json:"content"`
	Score   *int   `json:"score"`
}

type ReviewBodyRequest struct {
	Content string `json:"content"`
	Score   *int   `json:"score"`
}

var errScoreRequired = apperrors.NewValidationError("score", "is required")
