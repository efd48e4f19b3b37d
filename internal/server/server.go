package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/handlers"
	"github.com/ras-rm/auth-service/internal/logging"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	app        *App
}

// New constructs a Server serving app. Every API route requires the
// configured basic-auth credential.
func New(app *App) (*Server, error) {
	cfg := app.Config
	if strings.TrimSpace(cfg.Security.Username) == "" || cfg.Security.Password == "" {
		return nil, errors.New("SECURITY_USER_NAME and SECURITY_USER_PASSWORD are required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	basicAuth := middleware.BasicAuth(logging.ServiceName, map[string]string{
		cfg.Security.Username: cfg.Security.Password,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(app.Logger),
	)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Get("/info", handlers.Info(cfg.Version))
		r.Get("/healthz", handlers.Healthz(app.DB))

		r.Group(func(r chi.Router) {
			r.Use(basicAuth)
			r.Route("/api/account", func(r chi.Router) {
				handlers.AccountRouter(r, app.Accounts, app.Logger)
			})
			r.Route("/api/v1/tokens", func(r chi.Router) {
				handlers.TokensRouter(r, app.Accounts, app.Logger)
			})
		})
	})

	// Sweeps run to completion however long they take.
	router.Group(func(r chi.Router) {
		r.Use(basicAuth, noWriteDeadline)
		r.Route("/api/batch/account", func(r chi.Router) {
			handlers.BatchRouter(r, app.Batch, app.Logger)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8041
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		app:        app,
	}, nil
}

// noWriteDeadline lifts the server write timeout for the wrapped routes.
func noWriteDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}

// Router exposes the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.app.Logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases the app connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return multierr.Append(err, s.app.Close())
}
