package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/internal/credentials"
	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

// Reasons recorded for rejected credentials.
const (
	reasonUnknownUser    = "unknown_user"
	reasonBadPassword    = "bad_password"
	reasonExpired        = "expired"
	reasonMalformed      = "malformed"
	reasonInvalidSubject = "invalid_subject"
	reasonLookupFailed   = "lookup_failed"
)

// AccessGate resolves who is calling and whether they may touch a resource.
// Every credential failure surfaces as apperrors.ErrUnauthorized; the
// specific reason only reaches logs and metrics.
type AccessGate struct {
	creds  *credentials.Manager
	users  UserRepository
	logger *slog.Logger
}

func NewAccessGate(creds *credentials.Manager, users UserRepository, logger *slog.Logger) *AccessGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessGate{creds: creds, users: users, logger: logger}
}

// Authenticate checks a username and password pair. Unknown usernames cost
// one bcrypt comparison like a wrong password does.
func (g *AccessGate) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := g.users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("load user: %w", err)
		}
		g.creds.BurnVerification(password)
		return types.User{}, g.reject(ctx, reasonUnknownUser, nil)
	}
	if !g.creds.VerifyPassword(password, user.PasswordHash) {
		return types.User{}, g.reject(ctx, reasonBadPassword, nil)
	}
	return user, nil
}

// ResolveCaller validates token and loads the identity it names.
func (g *AccessGate) ResolveCaller(ctx context.Context, token string) (types.User, error) {
	id, err := g.creds.ValidateToken(ctx, token)
	if err != nil {
		return types.User{}, g.reject(ctx, tokenFailureReason(err), err)
	}

	user, err := g.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, g.reject(ctx, reasonInvalidSubject, err)
		}
		return types.User{}, g.reject(ctx, reasonLookupFailed, err)
	}
	return user, nil
}

// AuthorizeOwnership fails with apperrors.ErrForbidden unless identity owns
// the resource.
func (g *AccessGate) AuthorizeOwnership(identity types.User, ownerID int) error {
	if identity.ID != ownerID {
		return fmt.Errorf("%w: user %d does not own this resource", apperrors.ErrForbidden, identity.ID)
	}
	return nil
}

// IssueToken signs a session token for user.
func (g *AccessGate) IssueToken(user types.User, ttl time.Duration) (string, error) {
	return g.creds.IssueToken(user.ID, ttl)
}

func (g *AccessGate) reject(ctx context.Context, reason string, cause error) error {
	metrics.ObserveAuthFailure(reason)
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	level := slog.LevelDebug
	if reason == reasonLookupFailed {
		level = slog.LevelWarn
	}
	g.logger.Log(ctx, level, "credential rejected", attrs...)
	return apperrors.ErrUnauthorized
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, credentials.ErrExpiredToken):
		return reasonExpired
	case errors.Is(err, credentials.ErrMalformedToken):
		return reasonMalformed
	case errors.Is(err, credentials.ErrInvalidSubject):
		return reasonInvalidSubject
	default:
		return reasonLookupFailed
	}
}
