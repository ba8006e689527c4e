package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gamereview/apiserver/internal/apperrors"
	"github.com/gamereview/apiserver/internal/credentials"
	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/types"
)

const defaultTokenTTL = 24 * time.Hour

// AccountService registers, signs in and removes accounts.
type AccountService struct {
	gate     *AccessGate
	creds    *credentials.Manager
	users    UserRepository
	reviews  *ReviewService
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewAccountService(gate *AccessGate, creds *credentials.Manager, users UserRepository, reviews *ReviewService, tokenTTL time.Duration, logger *slog.Logger) *AccountService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		gate:     gate,
		creds:    creds,
		users:    users,
		reviews:  reviews,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Register creates an account with the default role. The password is hashed
// before anything touches the store.
func (s *AccountService) Register(ctx context.Context, username, password, email string) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateInput(registerInput{Username: username, Password: password, Email: email}); err != nil {
		return types.User{}, err
	}

	hashed, err := s.creds.HashPassword(password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, fmt.Errorf("%w: username or email already registered", apperrors.ErrConflict)
		}
		return types.User{}, translate(err)
	}

	s.logger.Info("account registered", slog.Int("user_id", user.ID))
	return user, nil
}

// Login checks credentials and returns a fresh session token.
func (s *AccountService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.gate.Authenticate(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return "", err
	}
	token, err := s.gate.IssueToken(user, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Me returns the account token belongs to.
func (s *AccountService) Me(ctx context.Context, token string) (types.User, error) {
	return s.gate.ResolveCaller(ctx, token)
}

// DeleteAccount removes the caller together with all of their reviews in a
// single transaction. Every affected game aggregate is adjusted before the
// identity goes away.
func (s *AccountService) DeleteAccount(ctx context.Context, token string) error {
	caller, err := s.gate.ResolveCaller(ctx, token)
	if err != nil {
		metrics.ObserveReviewMutation(metrics.OpDeleteAccount, err)
		return err
	}

	var events []types.ReviewEvent
	err = s.reviews.runTx(ctx, func(ctx context.Context, tx ReviewTx) error {
		if err := tx.LockUser(ctx, caller.ID); err != nil {
			return fmt.Errorf("user %d: %w", caller.ID, err)
		}

		purged, err := s.reviews.purgeAuthor(ctx, tx, caller.ID)
		if err != nil {
			return err
		}
		events = purged

		return tx.DeleteUser(ctx, caller.ID)
	})
	metrics.ObserveReviewMutation(metrics.OpDeleteAccount, err)
	if err != nil {
		return err
	}

	s.logger.Info("account deleted", slog.Int("user_id", caller.ID), slog.Int("reviews_removed", len(events)))
	for _, event := range events {
		s.reviews.events.Publish(ctx, event)
	}
	return nil
}

// Promote grants the admin role to username.
func (s *AccountService) Promote(ctx context.Context, username string) (types.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return types.User{}, translate(err)
	}
	if user.Role == types.RoleAdmin {
		return user, nil
	}
	user.Role = types.RoleAdmin
	user, err = s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, translate(err)
	}
	s.logger.Info("account promoted", slog.Int("user_id", user.ID))
	return user, nil
}
