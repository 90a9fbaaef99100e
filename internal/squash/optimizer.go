package squash

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/acm19/squash/internal/logger"
)

// DefaultConcurrency is the default number of files compressed at once.
const DefaultConcurrency = 6

// Optimizer defines the interface for optimizing a staged batch.
type Optimizer interface {
	// Optimize compresses every file of batch into the outgoing area. The
	// outcomes follow the order of batch. Per-file failures are reported in
	// their outcome; the error is reserved for setup failures.
	Optimize(ctx context.Context, batch Batch) ([]Outcome, error)
}

// OptimizerConfig holds the optimizer settings.
type OptimizerConfig struct {
	// OutDir is the outgoing area.
	OutDir string
	// Concurrency is the maximum number of files compressed at once.
	Concurrency int
	// Options are passed to the codec.
	Options Options
	// Tagger optionally stamps each output with its original filename.
	Tagger Tagger
}

// batchOptimizer implements the Optimizer interface
type batchOptimizer struct {
	fs         afero.Fs
	codec      Codec
	cfg        OptimizerConfig
	extensions Extensions
}

// NewOptimizer creates a new Optimizer writing through fs.
func NewOptimizer(fs afero.Fs, codec Codec, cfg OptimizerConfig) Optimizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &batchOptimizer{
		fs:         fs,
		codec:      codec,
		cfg:        cfg,
		extensions: NewExtensions(),
	}
}

// Optimize admits files in submission order, never running more than
// Concurrency at once. A started batch is not cancellable.
func (o *batchOptimizer) Optimize(ctx context.Context, batch Batch) ([]Outcome, error) {
	if err := o.fs.MkdirAll(o.cfg.OutDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create outgoing directory: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	logger.Info("Optimizing batch", "files", len(batch), "concurrency", o.cfg.Concurrency, "codec", o.codec.Name())

	outcomes := make([]Outcome, len(batch))
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, file := range batch {
		// Acquire only fails on a done context, which ctx can never be.
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			result, err := o.optimizeFile(ctx, file)
			outcomes[i] = Outcome{File: file, Result: result, Err: err}
		}()
	}
	wg.Wait()

	var before, after int64
	failed := 0
	for _, outcome := range outcomes {
		if outcome.Failed() {
			failed++
			logger.Error("Failed to optimize file", "file", outcome.File.OriginalName, "error", outcome.Err)
			continue
		}
		before += outcome.Result.SizeBefore
		after += outcome.Result.SizeAfter
	}
	logger.Info("Batch optimized",
		"files", len(batch)-failed,
		"failed", failed,
		"before", humanize.IBytes(uint64(before)),
		"after", humanize.IBytes(uint64(after)),
		"duration_seconds", time.Since(start).Seconds())

	return outcomes, nil
}

// optimizeFile reads one staged file, compresses it and writes the output.
func (o *batchOptimizer) optimizeFile(ctx context.Context, file UploadedFile) (*OptimizationResult, error) {
	format, err := o.extensions.FormatOf(file.StoredName)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(o.fs, file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.StoredName, err)
	}

	logger.Debug("Compressing file", "file", file.StoredName, "format", format)
	out, err := o.codec.Compress(ctx, data, format, o.cfg.Options)
	if err != nil {
		var codecErr *CodecError
		if errors.As(err, &codecErr) {
			return nil, &CodecError{Name: file.OriginalName, Format: codecErr.Format, Err: codecErr.Err}
		}
		return nil, err
	}

	name := OptimizedName(file.StoredName)
	path := filepath.Join(o.cfg.OutDir, name)
	if err := afero.WriteFile(o.fs, path, out, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	sizeAfter := int64(len(out))
	if o.cfg.Tagger != nil {
		tagged, err := o.cfg.Tagger.TagOriginalName(path, file.OriginalName)
		if err != nil {
			logger.Warn("Failed to tag original filename", "file", name, "error", err)
		}
		// Tagging rewrites the file, so the size on disk is what gets reported.
		if tagged {
			if info, err := o.fs.Stat(path); err == nil {
				sizeAfter = info.Size()
			}
		}
	}

	logger.Debug("Finished file", "file", name, "before", len(data), "after", sizeAfter)
	return &OptimizationResult{
		StoredName:   file.StoredName,
		OriginalName: file.OriginalName,
		OutputName:   name,
		OutputPath:   path,
		SizeBefore:   int64(len(data)),
		SizeAfter:    sizeAfter,
	}, nil
}
