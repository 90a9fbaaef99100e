package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/acm19/squash/internal/config"
	"github.com/acm19/squash/internal/logger"
	"github.com/acm19/squash/internal/server"
	"github.com/acm19/squash/internal/squash"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd(fs afero.Fs) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "squash",
		Short:         "Batch PNG and JPEG optimizer",
		Long:          `Squash compresses batches of PNG and JPEG images, over HTTP or from the command line, and bundles them into ZIP archives.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("codec", squash.CodecAuto, "Codec backend (auto, exec, native)")
	rootCmd.PersistentFlags().Int("concurrency", squash.DefaultConcurrency, "Maximum files compressed at once")
	rootCmd.PersistentFlags().String("incoming-dir", "uploads", "Incoming area")
	rootCmd.PersistentFlags().String("outgoing-dir", "optimized", "Outgoing area")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return config.Load(configPath, cmd.Flags())
	}

	rootCmd.AddCommand(
		newServeCmd(fs, load),
		newOptimizeCmd(fs, load),
		newSweepCmd(fs, load),
	)
	return rootCmd
}

type configLoader func(cmd *cobra.Command) (*config.Config, error)

func newServeCmd(fs afero.Fs, load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long:  `Accepts batches on POST /api/images, serves results under /download and /uploads, and deletes artifacts older than the retention window.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), fs, cfg)
		},
	}
	cmd.Flags().String("listen-addr", ":3000", "Address to listen on")
	cmd.Flags().Bool("partial-results", false, "Report failed files individually instead of failing the batch")
	return cmd
}

func runServe(ctx context.Context, fs afero.Fs, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, fs)
	if err != nil {
		return err
	}
	defer a.close()

	for _, dir := range []string{cfg.IncomingDir, cfg.OutgoingDir} {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	go a.janitor().Run(ctx)

	srv := server.New(server.Config{
		Addr:          cfg.ListenAddr,
		IncomingDir:   cfg.IncomingDir,
		OutgoingDir:   cfg.OutgoingDir,
		MaxBatchBytes: cfg.MaxBatchBytes,
		Debug:         cfg.Debug,
	}, fs, a.pipeline(), a.codec.Name())
	return srv.Run(ctx)
}

func newOptimizeCmd(fs afero.Fs, load configLoader) *cobra.Command {
	var (
		outDir string
		bundle bool
	)
	cmd := &cobra.Command{
		Use:   "optimize FILE...",
		Short: "Optimize local images",
		Long:  `Compresses the given PNG and JPEG files into --out, applying the same batch limits as the service. Originals are left untouched.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, fs)
			if err != nil {
				return err
			}
			defer a.close()
			return runOptimize(cmd.Context(), cmd.OutOrStdout(), a, args, outDir, bundle)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().BoolVar(&bundle, "zip", false, "Bundle the outputs into a ZIP archive")
	cmd.Flags().Int("jpeg-quality", 75, "JPEG quality (1-100)")
	return cmd
}

func runOptimize(ctx context.Context, out io.Writer, a *app, files []string, outDir string, bundle bool) error {
	batch, err := localBatch(a.fs, files)
	if err != nil {
		return err
	}

	candidates := make([]squash.Candidate, 0, len(batch))
	for _, f := range batch {
		candidates = append(candidates, squash.Candidate{Name: f.OriginalName, Size: f.Size})
	}
	guard := squash.NewIntakeGuard(a.fs, a.cfg.IncomingDir, a.cfg.Limits())
	if err := guard.Check(candidates); err != nil {
		return err
	}

	outcomes, err := a.optimizer(outDir).Optimize(ctx, batch)
	if err != nil {
		return err
	}

	var (
		paths         []string
		failed        int
		before, after int64
	)
	for _, outcome := range outcomes {
		if outcome.Failed() {
			failed++
			fmt.Fprintf(out, "%s: failed: %v\n", outcome.File.OriginalName, outcome.Err)
			continue
		}
		r := outcome.Result
		before += r.SizeBefore
		after += r.SizeAfter
		paths = append(paths, r.OutputPath)
		fmt.Fprintf(out, "%s -> %s: %s -> %s\n", r.OriginalName, r.OutputName,
			humanize.IBytes(uint64(r.SizeBefore)), humanize.IBytes(uint64(r.SizeAfter)))
	}
	fmt.Fprintf(out, "%d optimized, %d failed, %s -> %s\n", len(paths), failed,
		humanize.IBytes(uint64(before)), humanize.IBytes(uint64(after)))

	if bundle && len(paths) > 1 {
		archive, err := squash.NewArchiveBuilder(a.fs, outDir).Bundle(ctx, paths)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archive: %s\n", archive.Path)
	}

	if failed > 0 {
		return &squash.BatchError{Failed: failed, Err: firstError(outcomes)}
	}
	return nil
}

// localBatch describes files already on disk as a batch. Their base names
// become the stored names, so they must be unique.
func localBatch(fs afero.Fs, files []string) (squash.Batch, error) {
	extensions := squash.NewExtensions()
	seen := make(map[string]string, len(files))
	batch := make(squash.Batch, 0, len(files))
	for _, file := range files {
		info, err := fs.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s is not a regular file", file)
		}
		base := filepath.Base(file)
		if prev, ok := seen[base]; ok {
			return nil, fmt.Errorf("%s and %s share the same name", prev, file)
		}
		seen[base] = file

		batch = append(batch, squash.UploadedFile{
			OriginalName: base,
			StoredName:   base,
			Path:         file,
			Size:         info.Size(),
			ContentType:  extensions.ContentType(file),
		})
	}
	return batch, nil
}

func firstError(outcomes []squash.Outcome) error {
	for _, outcome := range outcomes {
		if outcome.Failed() {
			return outcome.Err
		}
	}
	return nil
}

func newSweepCmd(fs afero.Fs, load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired artifacts once",
		Long:  `Runs a single cleanup pass over the incoming and outgoing areas (and the mirrored bucket prefix, if configured).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, fs)
			if err != nil {
				return err
			}
			defer a.close()

			failures := 0
			for _, report := range a.janitor().Sweep(cmd.Context()) {
				failures += report.Errors
				fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned %d, deleted %d, errors %d\n",
					report.Area, report.Scanned, report.Deleted, report.Errors)
			}
			if failures > 0 {
				return fmt.Errorf("sweep finished with %d error(s)", failures)
			}
			return nil
		},
	}
}

func main() {
	if err := newRootCmd(afero.NewOsFs()).ExecuteContext(context.Background()); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
