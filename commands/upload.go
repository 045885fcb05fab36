package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccfrost/guestdrive/internal/batch"
	"github.com/ccfrost/guestdrive/internal/client"
	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/ccfrost/guestdrive/internal/media"
	"github.com/ccfrost/guestdrive/internal/scheduler"
)

const readConcurrency = 3

type UploadOptions struct {
	GuestName string
	Paths     []string

	// IsolateFailures skips files that cannot be prepared instead of
	// aborting the whole selection.
	IsolateFailures bool
	ShowProgress    bool
	Out             io.Writer
}

type UploadResult struct {
	FolderName string
	Uploaded   int
	Skipped    []media.ItemFailure
}

// Upload prepares the selected files, splits them into request-sized batches,
// and sends the batches to the server in order.
func Upload(ctx context.Context, cfg config.Config, opts UploadOptions, logger *slog.Logger) (*UploadResult, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.GuestName) == "" {
		return nil, fmt.Errorf("guest name is required")
	}
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no files selected")
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	policy, err := media.ParseVideoPolicy(cfg.Client.VideoPolicy)
	if err != nil {
		return nil, err
	}

	selected, err := readSelection(ctx, opts.Paths)
	if err != nil {
		return nil, err
	}

	prepared, err := media.Prepare(ctx, selected, media.PrepareOptions{
		MaxCount:         cfg.Client.MaxCount,
		MaxFileBytes:     cfg.Limits.MaxFileBytes,
		TransportCeiling: cfg.Client.TransportCeiling,
		MaxDimension:     cfg.Client.MaxDimension,
		InitialQuality:   cfg.Client.InitialQuality,
		VideoPolicy:      policy,
		IsolateFailures:  opts.IsolateFailures,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	res := &UploadResult{Skipped: prepared.Failures}
	for _, f := range prepared.Failures {
		fmt.Fprintf(out, "skipped %s: %v\n", f.Name, f.Err)
	}
	if len(prepared.Items) == 0 {
		return res, fmt.Errorf("none of the %d selected files could be prepared", len(selected))
	}

	batches := batch.Plan(prepared.Items, cfg.Client.MaxBatchBytes)
	logger.Info("prepared upload", "items", len(prepared.Items), "batches", len(batches))

	var onProgress func(client.Progress)
	if opts.ShowProgress {
		var total int64
		for _, b := range batches {
			total += b.TotalBytes
		}
		bar := NewProgressBar(out, total, "Uploading")
		defer bar.Close()
		onProgress = func(p client.Progress) {
			_ = bar.Set64(p.BytesDone)
		}
	}

	c := client.New(cfg.Client.ServerURL, cfg.Client.Timeout, logger)
	sent, err := c.SendBatches(ctx, opts.GuestName, batches, onProgress)
	if sent != nil {
		res.FolderName = sent.FolderName
		res.Uploaded = sent.ItemsCommitted
	}
	if err != nil {
		var be *client.BatchError
		if errors.As(err, &be) && be.Committed > 0 {
			fmt.Fprintf(out, "%d of %d files were uploaded before the failure\n", res.Uploaded, len(prepared.Items))
		}
		return res, err
	}

	fmt.Fprintf(out, "Uploaded %d files to %s\n", res.Uploaded, res.FolderName)
	return res, nil
}

// readSelection loads the files, keeping the selection order.
func readSelection(ctx context.Context, paths []string) ([]media.SelectedItem, error) {
	items := make([]media.SelectedItem, len(paths))
	err := scheduler.Run(ctx, paths, readConcurrency, func(ctx context.Context, i int, p string) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		name := filepath.Base(p)
		items[i] = media.SelectedItem{
			Data:         data,
			MediaType:    media.DetectMediaType(name, data),
			OriginalName: name,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
