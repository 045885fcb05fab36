//go:generate go run github.com/golang/mock/mockgen -source=${GOFILE} -destination=zz_generated_local_mocks_test.go -package=storage Backend

// Package storage talks to the place guest uploads end up: a Google Drive
// folder tree or an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ccfrost/guestdrive/internal/apperr"
)

// FileSpec describes one object to create.
type FileSpec struct {
	Name     string
	MimeType string
	Body     io.Reader
	Size     int64
}

// Backend defines the storage operations used by the upload relay.
type Backend interface {
	// FindFolder looks for a non-trashed folder named exactly name directly
	// under parentID.
	FindFolder(ctx context.Context, parentID, name string) (id string, found bool, err error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	// CreateFile stores spec inside folderID and returns the new object's id.
	CreateFile(ctx context.Context, folderID string, spec FileSpec) (string, error)
}

// ResolveFolder returns the id of the folder called name under parentID,
// creating it if it does not exist.
func ResolveFolder(ctx context.Context, b Backend, parentID, name string) (string, error) {
	if parentID == "" {
		return "", apperr.Configurationf("parent folder id is not configured")
	}
	id, found, err := b.FindFolder(ctx, parentID, name)
	if err != nil {
		return "", apperr.Provider(fmt.Sprintf("failed to look up folder %q", name), err)
	}
	if found {
		return id, nil
	}
	id, err = b.CreateFolder(ctx, parentID, name)
	if err != nil {
		return "", apperr.Provider(fmt.Sprintf("failed to create folder %q", name), err)
	}
	return id, nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// EscapeQueryValue escapes s for use inside a single-quoted Drive query
// string literal.
func EscapeQueryValue(s string) string {
	return queryEscaper.Replace(s)
}
