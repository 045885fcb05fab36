package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// TokenSourcer hands out the credential used for provider calls.
type TokenSourcer interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// DriveBackend stores uploads in Google Drive. Every API call waits on the
// limiter first.
type DriveBackend struct {
	ctx        context.Context
	creds      TokenSourcer
	limiter    *rate.Limiter
	clientOpts []option.ClientOption

	mu  sync.Mutex
	svc *drive.Service
}

// NewDriveBackend returns a backend that builds its Drive client on first use,
// so the server can start before it has been authorized. ctx is used for
// token refreshes and should live as long as the backend.
func NewDriveBackend(ctx context.Context, creds TokenSourcer, limiter *rate.Limiter, opts ...option.ClientOption) *DriveBackend {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second/5), 10)
	}
	return &DriveBackend{ctx: ctx, creds: creds, limiter: limiter, clientOpts: opts}
}

func (b *DriveBackend) service() (*drive.Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.svc != nil {
		return b.svc, nil
	}

	ts, err := b.creds.TokenSource(b.ctx)
	if err != nil {
		return nil, apperr.Provider("drive credentials unavailable", err)
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, b.clientOpts...)
	svc, err := drive.NewService(b.ctx, opts...)
	if err != nil {
		return nil, apperr.Provider("failed to create drive client", err)
	}
	b.svc = svc
	return svc, nil
}

func (b *DriveBackend) wait(ctx context.Context, what string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error before %s: %w", what, err)
	}
	return nil
}

func (b *DriveBackend) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	svc, err := b.service()
	if err != nil {
		return "", false, err
	}
	if err := b.wait(ctx, "listing folders"); err != nil {
		return "", false, err
	}

	q := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false and name='%s'",
		EscapeQueryValue(parentID), driveFolderMimeType, EscapeQueryValue(name))
	res, err := svc.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", false, apperr.Provider("drive files.list failed", err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

func (b *DriveBackend) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	svc, err := b.service()
	if err != nil {
		return "", err
	}
	if err := b.wait(ctx, "creating folder"); err != nil {
		return "", err
	}

	f, err := svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: driveFolderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", apperr.Provider("drive folder create failed", err)
	}
	return f.Id, nil
}

func (b *DriveBackend) CreateFile(ctx context.Context, folderID string, spec FileSpec) (string, error) {
	svc, err := b.service()
	if err != nil {
		return "", err
	}
	if err := b.wait(ctx, "uploading "+spec.Name); err != nil {
		return "", err
	}

	f, err := svc.Files.Create(&drive.File{
		Name:    spec.Name,
		Parents: []string{folderID},
	}).Media(spec.Body, googleapi.ContentType(spec.MimeType)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", apperr.Provider(fmt.Sprintf("drive upload of %s failed", spec.Name), err)
	}
	return f.Id, nil
}
