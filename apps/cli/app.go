package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/config"
	"github.com/acm19/squash/internal/logger"
	"github.com/acm19/squash/internal/squash"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	fs     afero.Fs
	codec  squash.Codec
	tagger squash.Tagger
	mirror squash.ArchiveMirror
}

func newApp(ctx context.Context, cfg *config.Config, fs afero.Fs) (*app, error) {
	if cfg.Debug {
		logger.Configure(os.Stderr, true)
	}

	codec, err := squash.NewCodec(cfg.Codec, cfg.CodecPaths())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, fs: fs, codec: codec}

	if cfg.TagOriginalName {
		tagger, err := squash.NewExifTagger(cfg.ExiftoolPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise tagger: %w", err)
		}
		a.tagger = tagger
	}

	if cfg.MirrorEnabled() {
		mirror, err := squash.NewS3Mirror(ctx, fs, cfg.Mirror())
		if err != nil {
			a.close()
			return nil, err
		}
		a.mirror = mirror
	}
	return a, nil
}

func (a *app) close() {
	if a.tagger != nil {
		if err := a.tagger.Close(); err != nil {
			logger.Warn("Failed to close exiftool", "error", err)
		}
	}
}

func (a *app) optimizer(outDir string) squash.Optimizer {
	return squash.NewOptimizer(a.fs, a.codec, squash.OptimizerConfig{
		OutDir:      outDir,
		Concurrency: a.cfg.Concurrency,
		Options:     a.cfg.Options(),
		Tagger:      a.tagger,
	})
}

func (a *app) pipeline() *squash.Pipeline {
	return squash.NewPipeline(a.fs, squash.PipelineConfig{
		Intake:         squash.NewIntakeGuard(a.fs, a.cfg.IncomingDir, a.cfg.Limits()),
		Optimizer:      a.optimizer(a.cfg.OutgoingDir),
		Archiver:       squash.NewArchiveBuilder(a.fs, a.cfg.OutgoingDir),
		Mirror:         a.mirror,
		PartialResults: a.cfg.PartialResults,
	})
}

// janitor sweeps both areas plus the mirrored prefix when enabled.
func (a *app) janitor() *squash.Janitor {
	areas := []squash.Area{
		squash.NewDirArea("incoming", a.fs, a.cfg.IncomingDir),
		squash.NewDirArea("outgoing", a.fs, a.cfg.OutgoingDir),
	}
	if a.mirror != nil {
		areas = append(areas, a.mirror.Area())
	}
	return squash.NewJanitor(a.cfg.RetentionClock(), areas...)
}
