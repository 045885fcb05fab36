// Package server is the HTTP surface: health, the one-time Google
// authorization flow, and the guest upload endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ccfrost/guestdrive/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxFiles     = 40
	DefaultMaxFileBytes = 20 * 1024 * 1024

	shutdownTimeout = 10 * time.Second
)

// Uploader stores one guest's files.
type Uploader interface {
	Handle(ctx context.Context, guestName string, items []relay.Item) (*relay.Result, error)
}

// Authorizer runs the OAuth authorization code flow.
type Authorizer interface {
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
}

type Options struct {
	Uploader     Uploader
	Authorizer   Authorizer
	MaxFiles     int
	MaxFileBytes int64
	Logger       *slog.Logger
}

type Server struct {
	uploader     Uploader
	auth         Authorizer
	maxFiles     int
	maxFileBytes int64
	logger       *slog.Logger
	validate     *validator.Validate
}

func New(opts Options) *Server {
	s := &Server{
		uploader:     opts.Uploader,
		auth:         opts.Authorizer,
		maxFiles:     opts.MaxFiles,
		maxFileBytes: opts.MaxFileBytes,
		logger:       opts.Logger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.maxFiles <= 0 {
		s.maxFiles = DefaultMaxFiles
	}
	if s.maxFileBytes <= 0 {
		s.maxFileBytes = DefaultMaxFileBytes
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Router returns the handler for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/upload", s.handleUpload)

	r.Route("/auth/google", func(r chi.Router) {
		r.Get("/", s.handleAuthStart)
		r.Get("/callback", s.handleAuthCallback)
	})

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
