package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Backend stores uploads in an S3-compatible bucket. A folder is a
// zero-byte marker object "<parent>/<name>/" and its id is "<parent>/<name>".
type S3Backend struct {
	client *minio.Client
	bucket string
}

func NewS3Backend(cfg config.S3Config) (*S3Backend, error) {
	return newS3Backend(cfg, nil)
}

func newS3Backend(cfg config.S3Config, transport http.RoundTripper) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, apperr.Configurationf("invalid s3 settings: %v", err)
	}
	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

// folderKey returns "<parent>/<name>" and refuses names that would leave the
// parent prefix.
func folderKey(parentID, name string) (string, error) {
	parent := strings.Trim(parentID, "/")
	key := path.Clean(parent + "/" + name)
	if name == "" || strings.Contains(name, "/") || !strings.HasPrefix(key, parent+"/") {
		return "", apperr.Validationf("invalid folder name %q", name)
	}
	return key, nil
}

func (b *S3Backend) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	id, err := folderKey(parentID, name)
	if err != nil {
		return "", false, err
	}
	_, err = b.client.StatObject(ctx, b.bucket, id+"/", minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, apperr.Provider("s3 stat failed", err)
	}
	return id, true, nil
}

func (b *S3Backend) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	id, err := folderKey(parentID, name)
	if err != nil {
		return "", err
	}
	_, err = b.client.PutObject(ctx, b.bucket, id+"/", bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return "", apperr.Provider(fmt.Sprintf("s3 folder create failed for %s", id), err)
	}
	return id, nil
}

func (b *S3Backend) CreateFile(ctx context.Context, folderID string, spec FileSpec) (string, error) {
	key := strings.TrimSuffix(folderID, "/") + "/" + spec.Name
	size := spec.Size
	if size <= 0 {
		size = -1
	}
	contentType := spec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, spec.Body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperr.Provider(fmt.Sprintf("s3 upload of %s failed", spec.Name), err)
	}
	return key, nil
}
