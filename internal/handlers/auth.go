package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gamereview/apiserver/internal/services"
	"github.com/gamereview/apiserver/types"
)

// AuthHandler provides registration and sign-in endpoints.
type AuthHandler struct {
	accounts *services.AccountService
	logger   *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts *services.AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

// AuthRouter registers auth routes on the given router. limit, when not
// nil, throttles the endpoints that check passwords.
func AuthRouter(r chi.Router, accounts *services.AccountService, limit func(http.Handler) http.Handler, logger *slog.Logger) {
	handler := NewAuthHandler(accounts, logger)

	r.Post("/register", handler.Register)
	if limit != nil {
		r.With(limit).Post("/login", handler.Login)
	} else {
		r.Post("/login", handler.Login)
	}
}

// TokenRouter registers the form based token endpoint on the given router.
func TokenRouter(r chi.Router, accounts *services.AccountService, limit func(http.Handler) http.Handler, logger *slog.Logger) {
	handler := NewAuthHandler(accounts, logger)
	if limit != nil {
		r.With(limit).Post("/", handler.Token)
	} else {
		r.Post("/", handler.Token)
	}
}

// Register creates a new account and returns it with a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), user.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	user, err := h.accounts.Me(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Token is the form encoded password grant used by browser clients.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	token, err := h.accounts.Login(r.Context(), username, password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
