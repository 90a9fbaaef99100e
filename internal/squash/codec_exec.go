package squash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"

	"github.com/acm19/squash/internal/logger"
)

// pngquantQualityTooLow is pngquant's exit status when the result would fall
// below the minimum quality. The input is then kept as is.
const pngquantQualityTooLow = 99

// execCodec shells out to pngquant and jpegoptim, piping bytes through
// stdin/stdout so no temporary files are created.
type execCodec struct {
	paths CodecPaths
}

// NewExecCodec creates a Codec backed by the pngquant and jpegoptim binaries.
func NewExecCodec(paths CodecPaths) Codec {
	return &execCodec{paths: paths}
}

func (c *execCodec) Name() string {
	return CodecExec
}

// Compress runs the format's tool over data.
func (c *execCodec) Compress(ctx context.Context, data []byte, format Format, opts Options) ([]byte, error) {
	if err := checkPayload(data, format); err != nil {
		return nil, err
	}
	if err := checkDimensions(data, format, opts.MaxPixels); err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	switch format {
	case FormatPNG:
		cmd = exec.CommandContext(ctx, c.paths.Pngquant,
			"--quality="+pngquantRange(opts.PNGQuality),
			"--speed", "1",
			"-")
	case FormatJPEG:
		cmd = exec.CommandContext(ctx, c.paths.Jpegoptim,
			fmt.Sprintf("-m%d", opts.JPEGQuality),
			"--stdin", "--stdout")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if format == FormatPNG && errors.As(err, &exitErr) && exitErr.ExitCode() == pngquantQualityTooLow {
		logger.Debug("pngquant could not reach the quality floor, keeping input",
			"quality", pngquantRange(opts.PNGQuality))
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		return data, nil
	}
	if err != nil {
		return nil, &CodecError{Format: format, Err: fmt.Errorf("%s failed: %w, output: %s", cmd.Path, err, bytes.TrimSpace(stderr.Bytes()))}
	}
	if stdout.Len() == 0 {
		return nil, &CodecError{Format: format, Err: fmt.Errorf("%s produced no output", cmd.Path)}
	}
	return stdout.Bytes(), nil
}

// pngquantRange renders a [0,1] quality range as pngquant's "min-max" percent form.
func pngquantRange(q QualityRange) string {
	return fmt.Sprintf("%d-%d", int(math.Round(q.Min*100)), int(math.Round(q.Max*100)))
}
