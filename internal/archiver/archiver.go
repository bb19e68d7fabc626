// Package archiver moves aged sensor readings out of the hot table into
// zstd-compressed JSONL files on disk. The readings table stays small enough
// for the per-plot latest queries the engine depends on, while historical
// data remains available for offline analysis.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// ReadingSource is the archival contract on the readings table.
// Satisfied by db.ReadingRepository.
type ReadingSource interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*types.SensorReading, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// Archiver runs the batch archival job.
type Archiver struct {
	readings ReadingSource
	cfg      config.ArchiveConfig
	clock    types.Clock
	logger   *slog.Logger
}

// New creates the archiver.
func New(readings ReadingSource, cfg config.ArchiveConfig, clock types.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		readings: readings,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Result summarizes one archival run.
type Result struct {
	Batches  int
	Archived int64
	Deleted  int64
	Files    []string
}

// Run archives readings older than the configured max age in batches until
// no aged readings remain. Each batch is durably written and fsynced before
// its rows are deleted, so a crash between the two can duplicate a batch in
// the archive but never lose one.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	cutoff := a.clock.Now().Add(-a.cfg.MaxAge)
	if err := os.MkdirAll(a.cfg.Directory, 0o755); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"creating archive directory", err)
	}

	res := &Result{}
	for {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		batch, err := a.readings.ListOlderThan(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		path, err := a.writeBatch(batch)
		if err != nil {
			return res, err
		}

		ids := make([]int64, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		deleted, err := a.readings.DeleteByIDs(ctx, ids)
		if err != nil {
			return res, err
		}

		res.Batches++
		res.Archived += int64(len(batch))
		res.Deleted += deleted
		res.Files = append(res.Files, path)

		a.logger.InfoContext(ctx, "archive batch written",
			slog.String("file", path),
			slog.Int("readings", len(batch)),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.InfoContext(ctx, "archival run complete",
		slog.Int("batches", res.Batches),
		slog.Int64("archived", res.Archived),
		slog.Time("cutoff", cutoff),
	)
	return res, nil
}

// writeBatch writes one batch as zstd-compressed JSONL. The file lands under
// a temporary name and is renamed into place after a successful sync.
func (a *Archiver) writeBatch(batch []*types.SensorReading) (string, error) {
	name := fmt.Sprintf("readings-%s-%06d.jsonl.zst",
		a.clock.Now().UTC().Format("20060102T150405"), batch[0].ID)
	final := filepath.Join(a.cfg.Directory, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"creating archive file", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"creating zstd writer", err)
	}

	enc := json.NewEncoder(zw)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			zw.Close()
			return "", types.NewAppError(types.ErrCodeInternalUnexpected,
				"encoding archive reading", err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"closing zstd writer", err)
	}
	if err := f.Sync(); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"syncing archive file", err)
	}
	if err := f.Close(); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"closing archive file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"finalizing archive file", err)
	}
	return final, nil
}
