//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/gamereview/apiserver/config"
	"github.com/gamereview/apiserver/internal/db"
	"github.com/gamereview/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort   = 18080
	postgresPort = 45432
)

var (
	baseURL = fmt.Sprintf("http://localhost:%d", serverPort)
	testCfg config.Config
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	workDir, err := os.MkdirTemp("", "gamerev-e2e")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create work dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)

	testCfg = e2eConfig()
	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username(testCfg.Database.User).
		Password(testCfg.Database.Password).
		Database(testCfg.Database.DBName).
		Port(postgresPort).
		DataPath(filepath.Join(workDir, "data")).
		RuntimePath(filepath.Join(workDir, "runtime")).
		CachePath(filepath.Join(workDir, "cache")).
		Logger(io.Discard))
	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	if err := runMigrations(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = pg.Stop()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(ctx, testCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = pg.Stop()
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = pg.Stop()
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = pg.Stop()
	os.Exit(code)
}

func TestReviewLifecycle(t *testing.T) {
	suffix := time.Now().UnixNano() % 100000
	admin := fmt.Sprintf("adm%05d", suffix)
	alice := fmt.Sprintf("ali%05d", suffix)
	bob := fmt.Sprintf("bob%05d", suffix)
	password := "testpass123!"

	adminToken, err := registerUser(t, admin, password)
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if err := promoteUserToAdmin(admin); err != nil {
		t.Fatalf("promote user: %v", err)
	}
	aliceToken, err := registerUser(t, alice, password)
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bobToken, err := requestToken(t, bob, password, true)
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	var game gameResponse
	status, err := doJSON(t, http.MethodPost, "/games", adminToken, map[string]any{
		"name":         fmt.Sprintf("Outer Wilds %d", suffix),
		"release_year": 2019,
		"description":  "A time loop in a tiny solar system.",
	}, &game)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create game: status %d err %v", status, err)
	}

	status, err = doJSON(t, http.MethodPost, "/users/me/reviews", aliceToken, reviewBody(game.ID, 80), nil)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("alice review: status %d err %v", status, err)
	}
	status, err = doJSON(t, http.MethodPost, "/users/me/reviews", bobToken, reviewBody(game.ID, 60), nil)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("bob review: status %d err %v", status, err)
	}
	expectAggregate(t, game.ID, 2, 70)

	status, err = doJSON(t, http.MethodPost, "/users/me/reviews", aliceToken, reviewBody(game.ID, 10), nil)
	if err != nil || status != http.StatusConflict {
		t.Fatalf("duplicate review: status %d err %v", status, err)
	}

	status, err = doJSON(t, http.MethodPut, "/users/me/reviews", aliceToken, reviewBody(game.ID, 100), nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("update review: status %d err %v", status, err)
	}
	expectAggregate(t, game.ID, 2, 80)

	var page reviewListResponse
	status, err = doJSON(t, http.MethodGet, fmt.Sprintf("/games/%d/reviews?limit=1", game.ID), "", nil, &page)
	if err != nil || status != http.StatusOK {
		t.Fatalf("list reviews: status %d err %v", status, err)
	}
	if page.Total != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected review page: total %d items %d", page.Total, len(page.Items))
	}

	status, err = doJSON(t, http.MethodDelete, "/users/me", bobToken, nil, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("delete bob: status %d err %v", status, err)
	}
	expectAggregate(t, game.ID, 1, 100)

	status, err = doJSON(t, http.MethodGet, "/users/me", bobToken, nil, nil)
	if err != nil || status != http.StatusUnauthorized {
		t.Fatalf("deleted account token: status %d err %v", status, err)
	}

	status, err = doJSON(t, http.MethodDelete, fmt.Sprintf("/users/me/reviews/game/%d", game.ID), aliceToken, nil, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("delete review: status %d err %v", status, err)
	}
	expectAggregate(t, game.ID, 0, 0)
}

type gameResponse struct {
	ID            int     `json:"id"`
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
}

type reviewListResponse struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
}

type authResponse struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func e2eConfig() config.Config {
	return config.Config{
		ServerPort: serverPort,
		LogLevel:   "error",
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     postgresPort,
			User:     "postgres",
			Password: "postgres",
			DBName:   "gamerev_e2e",
		},
		Auth: config.AuthConfig{
			JWTSecret:  "e2e-secret",
			KeyID:      "v1",
			TokenTTL:   time.Hour,
			BcryptCost: 4,
		},
		Store: config.StoreConfig{Backend: config.StoreBackendPostgres, TxTimeout: 5 * time.Second},
		MQ:    config.MQConfig{Backend: config.MQBackendNone},
	}
}

func reviewBody(gameID, score int) map[string]any {
	return map[string]any{"game_id": gameID, "content": "worth playing blind", "score": score}
}

func expectAggregate(t *testing.T, gameID, count int, average float64) {
	t.Helper()

	var game gameResponse
	status, err := doJSON(t, http.MethodGet, fmt.Sprintf("/games/%d", gameID), "", nil, &game)
	if err != nil || status != http.StatusOK {
		t.Fatalf("get game: status %d err %v", status, err)
	}
	if game.ReviewCount != count || game.AverageRating != average {
		t.Fatalf("unexpected aggregate: count %d average %v, want %d and %v", game.ReviewCount, game.AverageRating, count, average)
	}
}

func registerUser(t *testing.T, username, password string) (string, error) {
	t.Helper()

	var parsed authResponse
	status, err := doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    fmt.Sprintf("%s@example.com", username),
		"password": password,
	}, &parsed)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("register status %d", status)
	}
	if parsed.Token == "" {
		return "", errors.New("missing token in register response")
	}
	return parsed.Token, nil
}

// requestToken signs in through the form endpoint, registering first when
// register is set.
func requestToken(t *testing.T, username, password string, register bool) (string, error) {
	t.Helper()

	if register {
		if _, err := registerUser(t, username, password); err != nil {
			return "", err
		}
	}

	form := url.Values{"username": {username}, "password": {password}}
	resp, err := http.PostForm(baseURL+"/token", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.AccessToken, nil
}

func doJSON(t *testing.T, method, path, token string, payload, out any) (int, error) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func promoteUserToAdmin(username string) error {
	conn, err := sql.Open("postgres", db.DSN(testCfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'admin', updated_at = NOW() WHERE username = $1", username)
	return err
}

func runMigrations() error {
	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "db", "migrations")

	migrator, err := migrate.New("file://"+migrationsDir, db.DSN(testCfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func waitForHealth(ctx context.Context, url string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
