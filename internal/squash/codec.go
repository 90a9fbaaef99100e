package squash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os/exec"

	"github.com/gabriel-vasile/mimetype"

	"github.com/acm19/squash/internal/logger"
)

// Codec compresses encoded image bytes. Implementations must not touch the
// filesystem and must be safe for concurrent use.
type Codec interface {
	// Compress returns the optimized encoding of data. It fails with
	// *UnsupportedFormatError for formats other than PNG and JPEG and with
	// *CodecError when the payload cannot be compressed.
	Compress(ctx context.Context, data []byte, format Format, opts Options) ([]byte, error)
	// Name identifies the backend.
	Name() string
}

// Codec backends accepted by NewCodec.
const (
	CodecAuto   = "auto"
	CodecExec   = "exec"
	CodecNative = "native"
)

// CodecPaths holds the binaries used by the exec backend.
type CodecPaths struct {
	Pngquant  string
	Jpegoptim string
}

// DefaultCodecPaths resolves both binaries from PATH.
func DefaultCodecPaths() CodecPaths {
	return CodecPaths{Pngquant: "pngquant", Jpegoptim: "jpegoptim"}
}

// NewCodec builds the requested backend. Auto picks exec when both binaries
// can be found and native otherwise.
func NewCodec(backend string, paths CodecPaths) (Codec, error) {
	switch backend {
	case CodecExec:
		return NewExecCodec(paths), nil
	case CodecNative:
		return NewNativeCodec(), nil
	case CodecAuto, "":
		if _, err := exec.LookPath(paths.Pngquant); err != nil {
			logger.Info("pngquant not found, using native codec", "path", paths.Pngquant)
			return NewNativeCodec(), nil
		}
		if _, err := exec.LookPath(paths.Jpegoptim); err != nil {
			logger.Info("jpegoptim not found, using native codec", "path", paths.Jpegoptim)
			return NewNativeCodec(), nil
		}
		return NewExecCodec(paths), nil
	}
	return nil, fmt.Errorf("unknown codec backend %q", backend)
}

var formatMIME = map[Format]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
}

// checkPayload rejects unknown formats and payloads whose content does not
// match the requested format.
func checkPayload(data []byte, format Format) error {
	want, ok := formatMIME[format]
	if !ok {
		return &UnsupportedFormatError{Ext: string(format)}
	}
	if len(data) == 0 {
		return &CodecError{Format: format, Err: errors.New("empty input")}
	}
	if detected := mimetype.Detect(data); !detected.Is(want) {
		return &CodecError{Format: format, Err: fmt.Errorf("content is %s, not %s", detected.String(), want)}
	}
	return nil
}

// checkDimensions reads only the image header and rejects inputs whose
// declared size exceeds maxPixels, before any decoder allocates the canvas.
func checkDimensions(data []byte, format Format, maxPixels int64) error {
	if maxPixels <= 0 {
		return nil
	}

	var (
		cfg image.Config
		err error
	)
	switch format {
	case FormatPNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return &CodecError{Format: format, Err: fmt.Errorf("failed to read header: %w", err)}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return &CodecError{Format: format, Err: fmt.Errorf("image is %dx%d, larger than %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}
	return nil
}
