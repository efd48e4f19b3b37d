package party

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ras-rm/auth-service/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.PartyConfig{URL: srv.URL + "/", Username: "admin", Password: "secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDeleteRespondent(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotUser string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("unexpected method %s", r.Method)
				}
				gotPath = r.URL.Path
				gotUser, _, _ = r.BasicAuth()
				w.WriteHeader(tt.status)
			})

			err := client.DeleteRespondent(context.Background(), "user@example.com")
			if tt.wantErr {
				if !errors.Is(err, ErrPartyService) {
					t.Fatalf("expected ErrPartyService, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if gotPath != "/party-api/v1/respondents/user@example.com" {
				t.Fatalf("unexpected path %q", gotPath)
			}
			if gotUser != "admin" {
				t.Fatalf("expected basic auth user admin, got %q", gotUser)
			}
		})
	}
}

func TestFirstName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req respondentLookup
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email != "user@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"firstName": "Ada"})
	})

	name, err := client.FirstName(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("first name: %v", err)
	}
	if name != "Ada" {
		t.Fatalf("unexpected first name %q", name)
	}
}

func TestFirstNameFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := client.FirstName(context.Background(), "user@example.com"); !errors.Is(err, ErrPartyService) {
		t.Fatalf("expected ErrPartyService, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(config.PartyConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
