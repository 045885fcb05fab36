// Package client posts prepared media to a guestdrive server, one batch per
// request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ccfrost/guestdrive/internal/batch"
	"github.com/ccfrost/guestdrive/internal/media"
)

const uploadPath = "/api/upload"

// Progress is reported after every committed batch.
type Progress struct {
	BatchesDone  int
	BatchesTotal int
	ItemsDone    int
	ItemsTotal   int
	BytesDone    int64
	BytesTotal   int64
}

type Result struct {
	FolderName       string
	BatchesCommitted int
	ItemsCommitted   int
}

// BatchError reports the batch that failed. Batches before it were stored
// and stay stored.
type BatchError struct {
	Index     int
	Committed int
	Status    int
	Message   string
	Err       error
}

func (e *BatchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("batch %d failed (%d): %s (%d batches already uploaded)", e.Index+1, e.Status, msg, e.Committed)
	}
	return fmt.Sprintf("batch %d failed: %s (%d batches already uploaded)", e.Index+1, msg, e.Committed)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	FolderName string `json:"folderName"`
	Message    string `json:"message"`
}

// SendBatches uploads batches in order, one request at a time, and stops at
// the first failure.
func (c *Client) SendBatches(ctx context.Context, guestName string, batches []batch.Batch[media.PreparedItem], onProgress func(Progress)) (*Result, error) {
	p := Progress{BatchesTotal: len(batches)}
	for _, b := range batches {
		p.ItemsTotal += len(b.Items)
		p.BytesTotal += b.TotalBytes
	}

	res := &Result{}
	for i, b := range batches {
		folder, err := c.sendBatch(ctx, guestName, b)
		if err != nil {
			var be *BatchError
			if !errors.As(err, &be) {
				be = &BatchError{Err: err}
			}
			be.Index = i
			be.Committed = res.BatchesCommitted
			return res, be
		}
		res.FolderName = folder
		res.BatchesCommitted++
		res.ItemsCommitted += len(b.Items)
		c.logger.Debug("batch uploaded", "batch", i+1, "items", len(b.Items), "bytes", b.TotalBytes)

		p.BatchesDone++
		p.ItemsDone += len(b.Items)
		p.BytesDone += b.TotalBytes
		if onProgress != nil {
			onProgress(p)
		}
	}
	return res, nil
}

func (c *Client) sendBatch(ctx context.Context, guestName string, b batch.Batch[media.PreparedItem]) (string, error) {
	body, contentType, err := encodeBatch(guestName, b)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	var out uploadResponse
	jsonErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK || jsonErr != nil || !out.Success {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &BatchError{Status: resp.StatusCode, Message: msg}
	}
	return out.FolderName, nil
}

func encodeBatch(guestName string, b batch.Batch[media.PreparedItem]) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	buf.Grow(int(b.TotalBytes) + 4096)
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("name", strings.TrimSpace(guestName)); err != nil {
		return nil, "", err
	}
	for _, item := range b.Items {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename="%s"`, escapeQuotes(item.Name)))
		h.Set("Content-Type", item.MimeType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(item.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
