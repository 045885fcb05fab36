//go:generate go run github.com/golang/mock/mockgen -destination=zz_generated_mocks_test.go -package=relay github.com/ccfrost/guestdrive/internal/storage Backend

// Package relay takes one guest's upload request and writes it to storage:
// the guest's folder is found or created, then one object per file.
package relay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/ccfrost/guestdrive/internal/scheduler"
	"github.com/ccfrost/guestdrive/internal/storage"
)

const DefaultConcurrency = 4

// Item is one received file.
type Item struct {
	Name     string
	MimeType string
	Data     []byte
}

type Result struct {
	FolderID   string
	FolderName string
	// Objects holds the created object ids in item order.
	Objects []string
}

type Options struct {
	ParentID    string
	Concurrency int
	Logger      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Relay struct {
	backend     storage.Backend
	parentID    string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
	locks       keyedMutex
}

func New(backend storage.Backend, opts Options) *Relay {
	r := &Relay{
		backend:     backend,
		parentID:    opts.ParentID,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if r.concurrency < 1 {
		r.concurrency = DefaultConcurrency
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Handle stores items in the folder for guestName. It succeeds only if the
// folder and every object were created; objects written before a failure are
// left in place.
func (r *Relay) Handle(ctx context.Context, guestName string, items []Item) (*Result, error) {
	name := strings.TrimSpace(guestName)
	if name == "" {
		return nil, apperr.Validationf("name is required")
	}
	if len(items) == 0 {
		return nil, apperr.Validationf("at least one file is required")
	}
	if r.parentID == "" {
		return nil, apperr.Configurationf("parent folder id is not configured")
	}

	folderName := SanitizeFolderName(name)
	folderID, err := r.resolveFolder(ctx, folderName)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("resolved folder", "folder", folderName, "id", folderID)

	stamp := r.now().UnixMilli()
	objects := make([]string, len(items))
	err = scheduler.Run(ctx, items, r.concurrency, func(ctx context.Context, i int, item Item) error {
		id, err := r.backend.CreateFile(ctx, folderID, storage.FileSpec{
			Name:     ObjectName(stamp, i, item.Name),
			MimeType: item.MimeType,
			Body:     bytes.NewReader(item.Data),
			Size:     int64(len(item.Data)),
		})
		if err != nil {
			return err
		}
		objects[i] = id
		return nil
	})
	if err != nil {
		return nil, apperr.Provider("upload failed", err)
	}

	r.logger.Info("stored upload", "folder", folderName, "files", len(items))
	return &Result{FolderID: folderID, FolderName: folderName, Objects: objects}, nil
}

// resolveFolder serializes lookups for the same folder name so concurrent
// requests from one guest do not each create a folder. Requests handled by
// other processes are not covered.
func (r *Relay) resolveFolder(ctx context.Context, folderName string) (string, error) {
	unlock := r.locks.lock(folderName)
	defer unlock()
	return storage.ResolveFolder(ctx, r.backend, r.parentID, folderName)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
