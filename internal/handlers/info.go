package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ras-rm/auth-service/internal/logging"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type infoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info reports the service name and version.
func Info(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, infoResponse{Name: logging.ServiceName, Version: version})
	}
}

// Healthz answers 200 when the database answers a ping.
func Healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Auth service health error", "Database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
