package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gamereview/apiserver/config"
	"github.com/gamereview/apiserver/internal/credentials"
	"github.com/gamereview/apiserver/internal/db"
	"github.com/gamereview/apiserver/internal/events"
	"github.com/gamereview/apiserver/internal/mq"
	"github.com/gamereview/apiserver/internal/services"
	"github.com/gamereview/apiserver/internal/store"
	"github.com/gamereview/apiserver/internal/store/memstore"
)

// App holds the wired services behind the HTTP layer and the CLI.
type App struct {
	Gate     *services.AccessGate
	Accounts *services.AccountService
	Reviews  *services.ReviewService
	Games    *services.GameService

	closers []func() error
}

type backend struct {
	users   services.UserRepository
	games   services.GameRepository
	reviews services.ReviewStore
}

// Build opens the configured store and broker and wires the services.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{}

	be, err := app.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	keyring, err := credentials.KeyringFromSecrets(cfg.Auth.KeyID, cfg.Auth.JWTSecret, cfg.Auth.RetiredKeys)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("build keyring: %w", err)
	}
	creds, err := credentials.NewManager(keyring, be.users, credentials.Options{BcryptCost: cfg.Auth.BcryptCost})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("build credential manager: %w", err)
	}

	bus, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("open message queue: %w", err)
	}
	if bus != nil {
		app.closers = append(app.closers, bus.Close)
	}
	publisher := events.NewPublisher(bus, logger)

	app.Gate = services.NewAccessGate(creds, be.users, logger)
	app.Reviews = services.NewReviewService(app.Gate, be.reviews, publisher, cfg.Store.TxTimeout, logger)
	app.Accounts = services.NewAccountService(app.Gate, creds, be.users, app.Reviews, cfg.Auth.TokenTTL, logger)
	app.Games = services.NewGameService(app.Gate, be.games)

	logger.Info("services ready",
		slog.String("store", cfg.Store.Backend),
		slog.String("mq", cfg.MQ.Backend),
		slog.String("signing_key", keyring.ActiveID()),
	)
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		mem := memstore.New()
		return backend{users: mem.Users(), games: mem.Games(), reviews: mem}, nil
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return backend{}, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		return backend{
			users:   store.NewUserRepository(conn),
			games:   store.NewGameRepository(conn),
			reviews: store.NewReviewRepository(conn, cfg.Store.TxTimeout),
		}, nil
	default:
		return backend{}, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// Close releases the store and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
