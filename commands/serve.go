package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/ccfrost/guestdrive/internal/credential"
	"github.com/ccfrost/guestdrive/internal/relay"
	"github.com/ccfrost/guestdrive/internal/server"
	"github.com/ccfrost/guestdrive/internal/storage"
)

// Serve runs the upload server until ctx is cancelled. Missing settings are
// logged; the operations that need them fail when called.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration", "problem", w)
	}

	creds, err := newManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if cfg.Storage.Backend == config.BackendDrive && creds.State() == credential.Uninitialized {
		logger.Warn("google drive is not authorized yet; visit /auth/google to connect an account")
	}

	backend, err := storage.New(ctx, &cfg, creds, logger)
	if err != nil {
		return err
	}
	r := relay.New(backend, relay.Options{
		ParentID:    storage.ParentFolder(&cfg),
		Concurrency: cfg.Limits.UploadConcurrency,
		Logger:      logger,
	})

	srv := server.New(server.Options{
		Uploader:     r,
		Authorizer:   creds,
		MaxFiles:     cfg.Limits.MaxFiles,
		MaxFileBytes: cfg.Limits.MaxFileBytes,
		Logger:       logger,
	})
	return srv.ListenAndServe(ctx, cfg.Addr())
}
