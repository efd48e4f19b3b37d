package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ras-rm/auth-service/internal/account"
	"github.com/ras-rm/auth-service/internal/password"
	"github.com/ras-rm/auth-service/internal/retention"
	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/internal/services/servicetest"
	"github.com/ras-rm/auth-service/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router *chi.Mux
	repo   *servicetest.Repository
	party  *servicetest.Party
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	repo := servicetest.NewRepository()
	tx := servicetest.NewTransactor(repo)
	machine := account.NewMachine(account.DefaultPolicy(), password.NewVault(4), func() time.Time { return now })
	party := servicetest.NewParty()

	accounts := services.NewAccountService(repo, tx, machine, nil)
	batch := services.NewBatchService(repo, tx, retention.DefaultPolicy(), servicetest.NewDispatcher(), party, nil,
		services.WithClock(func() time.Time { return now }))

	router := chi.NewRouter()
	router.Route("/api/account", func(r chi.Router) { AccountRouter(r, accounts, nil) })
	router.Route("/api/v1/tokens", func(r chi.Router) { TokensRouter(r, accounts, nil) })
	router.Route("/api/batch/account", func(r chi.Router) { BatchRouter(r, batch, nil) })
	return testEnv{router: router, repo: repo, party: party}
}

func (e testEnv) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func (e testEnv) seedVerified(t *testing.T, username, pw string) types.Account {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/account/create", url.Values{"username": {username}, "password": {pw}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPut, "/api/account/create", url.Values{"username": {username}, "account_verified": {"true"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	acc, err := e.repo.GetByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return acc
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/account/create", url.Values{"username": {"User@Example.com"}, "password": {"secret"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["account"] != "User@Example.com" || created["created"] != "success" {
		t.Fatalf("unexpected body %v", created)
	}

	rec = env.do(t, http.MethodPost, "/api/account/create", url.Values{"username": {"user@example.com"}, "password": {"x"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/account/create", url.Values{"username": {"other@example.com"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Detail != "Missing 'username' or 'password'" {
		t.Fatalf("unexpected detail %q", got.Detail)
	}
}

func TestUpdateAccount(t *testing.T) {
	env := newTestEnv(t)
	acc := env.seedVerified(t, "user@example.com", "secret")

	rec := env.do(t, http.MethodPut, "/api/account/create", url.Values{"username": {"user@example.com"}, "account_verified": {"maybe"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid boolean, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Detail != "account_verified status is invalid" {
		t.Fatalf("unexpected detail %q", got.Detail)
	}

	rec = env.do(t, http.MethodPut, "/api/account/create", url.Values{"username": {"nobody@example.com"}, "account_verified": {"true"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/account/create", url.Values{"username": {"user@example.com"}, "new_username": {"renamed@example.com"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for rename, got %d", rec.Code)
	}
	stored, _ := env.repo.Account(acc.ID)
	if stored.Username != "renamed@example.com" {
		t.Fatalf("rename not applied: %+v", stored)
	}
}

func TestTokens(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerified(t, "User@Example.com", "secret")

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantDetail string
	}{
		{name: "success", form: url.Values{"username": {"user@example.com"}, "password": {"secret"}}, wantStatus: http.StatusNoContent},
		{name: "wrong password", form: url.Values{"username": {"user@example.com"}, "password": {"bad"}}, wantStatus: http.StatusUnauthorized, wantDetail: "Unauthorized user credentials"},
		{name: "unknown user", form: url.Values{"username": {"nobody@example.com"}, "password": {"secret"}}, wantStatus: http.StatusUnauthorized, wantDetail: detailUnknownUser},
		{name: "missing password", form: url.Values{"username": {"user@example.com"}}, wantStatus: http.StatusBadRequest, wantDetail: "Missing 'username' or 'password'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/tokens/", tt.form)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantDetail == "" {
				return
			}
			got := decodeError(t, rec)
			if got.Title != titleTokens || got.Detail != tt.wantDetail {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}
}

func TestTokensLockedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerified(t, "user@example.com", "secret")

	for i := 0; i < account.DefaultMaxFailedLogins; i++ {
		env.do(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {"user@example.com"}, "password": {"bad"}})
	}
	rec := env.do(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {"user@example.com"}, "password": {"secret"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Detail != "User account locked" {
		t.Fatalf("unexpected detail %q", got.Detail)
	}
}

func TestLongPasswords(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("p", 73)
	env.seedVerified(t, "long@example.com", long)

	rec := env.do(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {"long@example.com"}, "password": {long}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for long password login, got %d (%s)", rec.Code, rec.Body.String())
	}

	longer := strings.Repeat("q", 100)
	rec = env.do(t, http.MethodPut, "/api/account/create", url.Values{"username": {"long@example.com"}, "password": {longer}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for long password change, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/tokens/", url.Values{"username": {"long@example.com"}, "password": {longer}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 after password change, got %d", rec.Code)
	}
}

func TestDeleteUserParsesFormBody(t *testing.T) {
	env := newTestEnv(t)
	acc := env.seedVerified(t, "user@example.com", "secret")

	rec := env.do(t, http.MethodDelete, "/api/account/user", url.Values{"username": {"USER@example.com"}, "force_delete": {"true"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	stored, _ := env.repo.Account(acc.ID)
	if !stored.MarkForDeletion || !stored.ForceDelete {
		t.Fatalf("expected forced soft delete: %+v", stored)
	}

	rec = env.do(t, http.MethodDelete, "/api/account/user", url.Values{"username": {"nobody@example.com"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/account/user", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetAndPatchUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerified(t, "user@example.com", "secret")

	rec := env.do(t, http.MethodPatch, "/api/account/user/user@example.com", url.Values{
		"mark_for_deletion":   {"true"},
		"second_notification": {"2026-05-01T10:00:00Z"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/account/user/user@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var user UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if !user.MarkForDeletion || user.SecondNotification == nil || !user.SecondNotification.Equal(want) {
		t.Fatalf("unexpected projection %+v", user)
	}
	if strings.Contains(rec.Body.String(), "hashed_password") {
		t.Fatalf("password digest must never be exposed")
	}

	rec = env.do(t, http.MethodPatch, "/api/account/user/user@example.com", url.Values{"unknown": {"1"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Detail != "Patch data validation failed" {
		t.Fatalf("unexpected detail %q", got.Detail)
	}

	rec = env.do(t, http.MethodGet, "/api/account/user/nobody@example.com", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBatchEndpoints(t *testing.T) {
	env := newTestEnv(t)
	last := now.Add(-1065 * 24 * time.Hour)
	env.repo.Seed(types.Account{Username: "third@example.com", AccountVerified: true, AccountCreationDate: last, LastLoginDate: &last})
	marked := env.repo.Seed(types.Account{Username: "gone@example.com", AccountVerified: true, AccountCreationDate: now, MarkForDeletion: true})

	rec := env.do(t, http.MethodGet, "/api/batch/account/users/eligible-for-third-notification", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var usernames []string
	if err := json.Unmarshal(rec.Body.Bytes(), &usernames); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(usernames) != 1 || usernames[0] != "third@example.com" {
		t.Fatalf("unexpected eligible list %v", usernames)
	}

	rec = env.do(t, http.MethodPost, "/api/batch/account/users/third-notification", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report services.SweepReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Succeeded != 1 || report.Stage != "third" {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = env.do(t, http.MethodDelete, "/api/batch/account/users/mark-for-deletion", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/batch/account/users", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := env.repo.Account(marked.ID); ok {
		t.Fatalf("marked account should be removed")
	}

	// Nothing left to delete is not a failure.
	rec = env.do(t, http.MethodDelete, "/api/batch/account/users", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with nothing pending, got %d", rec.Code)
	}

	env.repo.ListErr = errors.New("connection reset")
	rec = env.do(t, http.MethodDelete, "/api/batch/account/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on database failure, got %d", rec.Code)
	}
}

func TestHardDeleteOutlivesCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	env.party.Delay = 5 * time.Millisecond
	for _, name := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		env.repo.Seed(types.Account{Username: name, AccountCreationDate: now, MarkForDeletion: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodDelete, "/api/batch/account/users", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(env.party.Deleted) != 3 || env.repo.Len() != 0 {
		t.Fatalf("sweep stopped early: party deleted %v, %d rows left", env.party.Deleted, env.repo.Len())
	}
}
