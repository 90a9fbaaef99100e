package squash

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// gradientPNG returns an uncompressed RGBA gradient.
func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

// noiseJPEG returns a quality 100 JPEG of seeded noise.
func noiseJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

// stageFile writes data into dir and returns it as a batch member.
func stageFile(t *testing.T, fs afero.Fs, dir, original string, data []byte) UploadedFile {
	t.Helper()
	stored, err := StoredName(time.Now(), original)
	require.NoError(t, err)
	path := filepath.Join(dir, stored)
	require.NoError(t, fs.MkdirAll(dir, 0o750))
	require.NoError(t, afero.WriteFile(fs, path, data, 0o640))
	return UploadedFile{
		OriginalName: original,
		StoredName:   stored,
		Path:         path,
		Size:         int64(len(data)),
		ContentType:  NewExtensions().ContentType(original),
	}
}

// stubCodec returns the input with its first byte dropped and records how
// many calls overlap. Inputs equal to fail are rejected.
type stubCodec struct {
	mu      sync.Mutex
	delay   time.Duration
	fail    []byte
	active  int
	maxSeen int
	order   []string
}

func (c *stubCodec) Name() string {
	return "stub"
}

func (c *stubCodec) Compress(_ context.Context, data []byte, format Format, _ Options) ([]byte, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.order = append(c.order, string(data))
	c.mu.Unlock()

	time.Sleep(c.delay)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()

	if c.fail != nil && bytes.Equal(data, c.fail) {
		return nil, &CodecError{Format: format, Err: errors.New("rejected")}
	}
	if len(data) < 2 {
		return data, nil
	}
	return data[1:], nil
}

func (c *stubCodec) started() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// fileExists reports whether path exists on fs.
func fileExists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

// dirNames lists the names in dir, empty when it is missing.
func dirNames(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}
