package squash

import (
	"context"
	"os"

	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
)

// Result is what a processed batch hands to the boundary layer.
type Result struct {
	// Outcomes follow the submission order of the batch.
	Outcomes []Outcome
	// Archive is set when more than one file was bundled.
	Archive *Archive
	// ArchiveErr is set when bundling failed; the optimized files remain available.
	ArchiveErr error
	// MirrorURL is the presigned URL of the mirrored archive, if any.
	MirrorURL string
}

// PipelineConfig holds the pipeline collaborators.
type PipelineConfig struct {
	Intake    *IntakeGuard
	Optimizer Optimizer
	Archiver  ArchiveBuilder
	// Mirror is optional.
	Mirror ArchiveMirror
	// PartialResults reports failed files individually instead of failing
	// the whole batch.
	PartialResults bool
}

// Pipeline runs intake, optimization and bundling for one batch.
type Pipeline struct {
	fs  afero.Fs
	cfg PipelineConfig
}

// NewPipeline creates a Pipeline whose cleanup goes through fs.
func NewPipeline(fs afero.Fs, cfg PipelineConfig) *Pipeline {
	return &Pipeline{fs: fs, cfg: cfg}
}

// Handle stages every part of src and processes the resulting batch.
func (p *Pipeline) Handle(ctx context.Context, src PartSource) (*Result, error) {
	batch, err := p.cfg.Intake.Stage(ctx, src)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, batch)
}

// Process optimizes a staged batch and bundles the outputs when there is more
// than one. Unless partial results are enabled, a single failed file aborts
// the batch and removes its originals and every output already written.
func (p *Pipeline) Process(ctx context.Context, batch Batch) (*Result, error) {
	// Once a batch starts it runs to completion; cleanup of abandoned
	// batches is left to the janitor.
	ctx = context.WithoutCancel(ctx)

	outcomes, err := p.cfg.Optimizer.Optimize(ctx, batch)
	if err != nil {
		p.cfg.Intake.Discard(batch)
		return nil, err
	}

	failed := 0
	var firstErr error
	for _, outcome := range outcomes {
		if outcome.Failed() {
			failed++
			if firstErr == nil {
				firstErr = outcome.Err
			}
		}
	}
	if failed > 0 && !p.cfg.PartialResults {
		logger.Warn("Aborting batch", "files", len(batch), "failed", failed)
		p.cfg.Intake.Discard(batch)
		p.discardOutputs(outcomes)
		return nil, &BatchError{Failed: failed, Err: firstErr}
	}

	result := &Result{Outcomes: outcomes}

	var paths []string
	for _, outcome := range outcomes {
		if !outcome.Failed() {
			paths = append(paths, outcome.Result.OutputPath)
		}
	}
	if len(paths) < 2 {
		return result, nil
	}

	archive, err := p.cfg.Archiver.Bundle(ctx, paths)
	if err != nil {
		logger.Error("Failed to bundle batch", "files", len(paths), "error", err)
		result.ArchiveErr = err
		return result, nil
	}
	result.Archive = &archive

	if p.cfg.Mirror != nil {
		url, err := p.cfg.Mirror.Publish(ctx, archive)
		if err != nil {
			logger.Error("Failed to mirror archive", "archive", archive.Name, "error", err)
		} else {
			result.MirrorURL = url
		}
	}
	return result, nil
}

func (p *Pipeline) discardOutputs(outcomes []Outcome) {
	for _, outcome := range outcomes {
		if outcome.Failed() {
			continue
		}
		if err := p.fs.Remove(outcome.Result.OutputPath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to remove output", "path", outcome.Result.OutputPath, "error", err)
		}
	}
}
