package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ccfrost/guestdrive/internal/apperr"
)

const DefaultMaxCount = 20

// VideoPolicy decides what Prepare does with video items.
type VideoPolicy int

const (
	// VideoPassThrough uploads videos unchanged when they fit under the ceiling.
	VideoPassThrough VideoPolicy = iota
	// VideoReject refuses every video.
	VideoReject
)

func (p VideoPolicy) String() string {
	if p == VideoReject {
		return "reject"
	}
	return "passthrough"
}

// ParseVideoPolicy accepts "passthrough" or "reject".
func ParseVideoPolicy(s string) (VideoPolicy, error) {
	switch s {
	case "passthrough", "":
		return VideoPassThrough, nil
	case "reject":
		return VideoReject, nil
	}
	return VideoPassThrough, fmt.Errorf("unknown video policy %q", s)
}

type PrepareOptions struct {
	MaxCount     int
	MaxFileBytes int64
	// TransportCeiling is a body-size limit imposed by whatever carries the
	// upload. Zero means none.
	TransportCeiling int64
	MaxDimension     int
	InitialQuality   float64
	VideoPolicy      VideoPolicy
	// IsolateFailures keeps going after an item fails and reports it in
	// PrepareResult.Failures instead of aborting.
	IsolateFailures bool
	Logger          *slog.Logger
}

// ItemFailure describes one item that could not be prepared.
type ItemFailure struct {
	Index int
	Name  string
	Err   error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Name, f.Err)
}

type PrepareResult struct {
	Items    []PreparedItem
	Failures []ItemFailure
}

// Ceiling is the byte limit applied to each item.
func (o PrepareOptions) Ceiling() int64 {
	limit := o.MaxFileBytes
	if limit <= 0 {
		limit = DefaultMaxFileBytes
	}
	if o.TransportCeiling > 0 && o.TransportCeiling < limit {
		limit = o.TransportCeiling
	}
	return limit
}

// Prepare validates and normalizes items in order. Output order matches input
// order.
func Prepare(ctx context.Context, items []SelectedItem, opts PrepareOptions) (*PrepareResult, error) {
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if len(items) > maxCount {
		return nil, apperr.Validationf("too many files: %d selected, at most %d allowed", len(items), maxCount)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ceiling := opts.Ceiling()
	result := &PrepareResult{Items: make([]PreparedItem, 0, len(items))}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prepared, err := prepareOne(ctx, item, ceiling, opts, logger)
		if err != nil {
			if !opts.IsolateFailures {
				return nil, fmt.Errorf("failed to prepare %s: %w", item.OriginalName, err)
			}
			logger.Warn("skipping item", "index", i, "name", item.OriginalName, "error", err)
			result.Failures = append(result.Failures, ItemFailure{Index: i, Name: item.OriginalName, Err: err})
			continue
		}
		logger.Debug("prepared item", "index", i, "name", prepared.Name, "bytes", len(prepared.Data))
		result.Items = append(result.Items, prepared)
	}
	return result, nil
}

func prepareOne(ctx context.Context, item SelectedItem, ceiling int64, opts PrepareOptions, logger *slog.Logger) (PreparedItem, error) {
	switch {
	case isImage(item.MediaType):
		data, err := Normalize(ctx, bytes.NewReader(item.Data), NormalizeOptions{
			MaxBytes:       ceiling,
			MaxDimension:   opts.MaxDimension,
			InitialQuality: opts.InitialQuality,
			Logger:         logger,
		})
		if err != nil {
			return PreparedItem{}, err
		}
		return PreparedItem{Name: jpegName(item.OriginalName), Data: data, MimeType: "image/jpeg"}, nil

	case isVideo(item.MediaType):
		if opts.VideoPolicy == VideoReject {
			return PreparedItem{}, apperr.Validationf("videos are not accepted: %s", item.OriginalName)
		}
		if int64(len(item.Data)) > ceiling {
			return PreparedItem{}, apperr.SizeLimitf("video %s is %d bytes, over the %d byte limit", item.OriginalName, len(item.Data), ceiling)
		}
		return PreparedItem{Name: item.OriginalName, Data: item.Data, MimeType: item.MediaType}, nil
	}
	return PreparedItem{}, apperr.Validationf("unsupported media type %q for %s", item.MediaType, item.OriginalName)
}
