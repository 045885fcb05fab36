package storage

import (
	"context"
	"log/slog"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/ccfrost/guestdrive/internal/config"
	"golang.org/x/time/rate"
)

// New returns the backend selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, creds TokenSourcer, logger *slog.Logger) (Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendDrive, "":
		rps := cfg.Google.RequestsPerSecond
		if rps <= 0 {
			rps = 5
		}
		burst := max(cfg.Google.Burst, 1)
		logger.Info("using google drive storage", "requestsPerSecond", rps, "burst", burst)
		return NewDriveBackend(ctx, creds, rate.NewLimiter(rate.Limit(rps), burst)), nil
	case config.BackendS3:
		logger.Info("using s3 storage", "endpoint", cfg.Storage.S3.Endpoint, "bucket", cfg.Storage.S3.Bucket)
		b, err := NewS3Backend(cfg.Storage.S3)
		if err != nil {
			logger.Warn("s3 storage unavailable", "error", err)
			return unconfigured{err: err}, nil
		}
		return b, nil
	}
	return nil, apperr.Configurationf("unknown storage backend %q", cfg.Storage.Backend)
}

// ParentFolder is the folder guest folders are created under.
func ParentFolder(cfg *config.Config) string {
	if cfg.Storage.Backend == config.BackendS3 {
		return cfg.Storage.S3.ParentPrefix
	}
	return cfg.Google.DriveParentFolderId
}

// unconfigured is used when the selected backend cannot be built from the
// current settings. Every call fails with err so the server can still start.
type unconfigured struct {
	err error
}

func (u unconfigured) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	return "", false, u.err
}

func (u unconfigured) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return "", u.err
}

func (u unconfigured) CreateFile(ctx context.Context, folderID string, spec FileSpec) (string, error) {
	return "", u.err
}
