//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/config"
	"github.com/ras-rm/auth-service/internal/db"
	"github.com/ras-rm/auth-service/internal/server"
	"github.com/ras-rm/auth-service/internal/store"
	"github.com/ras-rm/auth-service/types"
)

const (
	serverPort    = 18041
	adminUser     = "admin"
	adminPassword = "secret"
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	party := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]string{"firstName": "Test"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer party.Close()
	setEnv(party.URL)

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := runMigrations(ctx, root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAccountLifecycle(t *testing.T) {
	username := fmt.Sprintf("User_%d@Example.com", time.Now().UnixNano())
	lower := strings.ToLower(username)

	expectStatus(t, call(t, http.MethodPost, "/api/account/create", url.Values{"username": {username}, "password": {"pw"}}), http.StatusCreated)

	resp := call(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {lower}, "password": {"pw"}})
	expectStatus(t, resp, http.StatusUnauthorized)
	if detail := errorDetail(t, resp); detail != "User account not verified" {
		t.Fatalf("unexpected detail %q", detail)
	}

	expectStatus(t, call(t, http.MethodPut, "/api/account/create", url.Values{"username": {username}, "account_verified": {"true"}}), http.StatusCreated)
	expectStatus(t, call(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {lower}, "password": {"pw"}}), http.StatusNoContent)

	expectStatus(t, call(t, http.MethodDelete, "/api/account/user", url.Values{"username": {lower}}), http.StatusNoContent)

	resp = call(t, http.MethodGet, "/api/account/user/"+url.PathEscape(lower), nil)
	expectStatus(t, resp, http.StatusOK)
	var user struct {
		MarkForDeletion bool `json:"mark_for_deletion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	_ = resp.Body.Close()
	if !user.MarkForDeletion {
		t.Fatalf("expected account marked for deletion")
	}

	expectStatus(t, call(t, http.MethodDelete, "/api/batch/account/users", nil), http.StatusNoContent)
	expectStatus(t, call(t, http.MethodGet, "/api/account/user/"+url.PathEscape(lower), nil), http.StatusNotFound)
}

func TestRepositoryRetentionQueries(t *testing.T) {
	ctx := context.Background()
	conn, err := sql.Open("postgres", db.URL(config.LoadConfig()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	repo := store.NewAccountRepository(conn)
	tx := db.NewTxManager(conn, zap.NewNop())
	now := time.Now().UTC().Truncate(time.Microsecond)
	last := now.Add(-1070 * 24 * time.Hour)

	acc, err := repo.Create(ctx, types.Account{
		Username:            fmt.Sprintf("third_%d@example.com", now.UnixNano()),
		HashedPassword:      "x",
		AccountVerified:     true,
		AccountCreationDate: last,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	oldest, newest := now.Add(-1095*24*time.Hour), now.Add(-1065*24*time.Hour)
	if !containsID(t, repo, ctx, oldest, newest, acc.ID) {
		t.Fatalf("expected account among third notification candidates")
	}

	if err := tx.WithinTx(ctx, func(ctx context.Context) error {
		return repo.StampNotification(ctx, acc.ID, types.StageThird, now)
	}); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if containsID(t, repo, ctx, oldest, newest, acc.ID) {
		t.Fatalf("stamped account must not be a candidate")
	}

	rollback := errors.New("rollback")
	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := repo.MarkForDeletion(ctx, []int64{acc.ID}); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	stored, err := repo.GetByUsername(ctx, strings.ToUpper(acc.Username))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.MarkForDeletion {
		t.Fatalf("rolled back mark must not persist")
	}

	if err := repo.DeleteMarked(ctx, acc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unmarked account must not be deleted, got %v", err)
	}
	if _, err := repo.MarkForDeletion(ctx, []int64{acc.ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := repo.DeleteMarked(ctx, acc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func containsID(t *testing.T, repo *store.AccountRepository, ctx context.Context, oldest, newest time.Time, id int64) bool {
	t.Helper()
	candidates, err := repo.ListNotificationCandidates(ctx, types.StageThird, oldest, newest)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	for _, acc := range candidates {
		if acc.ID == id {
			return true
		}
	}
	return false
}

func call(t *testing.T, method, path string, form url.Values) *http.Response {
	t.Helper()
	body := strings.NewReader("")
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(adminUser, adminPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: expected %d, got %d (%v)", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func errorDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Detail
}

func setEnv(partyURL string) {
	_ = os.Setenv("PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "auth")
	_ = os.Setenv("DB_PASSWORD", "auth")
	_ = os.Setenv("DB_NAME", "ras")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("DB_CONNECT_TIMEOUT", "60s")
	_ = os.Setenv("SECURITY_USER_NAME", adminUser)
	_ = os.Setenv("SECURITY_USER_PASSWORD", adminPassword)
	_ = os.Setenv("PARTY_URL", partyURL)
	_ = os.Setenv("SEND_EMAIL_TO_GOV_NOTIFY", "false")
}

func runMigrations(ctx context.Context, root string) error {
	cfg := config.LoadConfig()
	// db.Open waits for postgres to accept connections.
	conn, err := db.Open(ctx, cfg, zap.NewNop())
	if err != nil {
		return err
	}
	_ = conn.Close()

	migrator, err := migrate.New("file://"+filepath.Join(root, "internal", "db", "migrations"), db.URL(cfg))
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

func startServer(ctx context.Context) (*server.Server, error) {
	app, err := server.NewApp(ctx, config.LoadConfig(), zap.NewNop())
	if err != nil {
		return nil, err
	}
	srv, err := server.New(app)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
