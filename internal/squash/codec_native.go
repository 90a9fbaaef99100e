package squash

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/jpeg"
	"image/png"
)

const maxPaletteSize = 256

// nativeCodec re-encodes images with the standard library encoders. PNGs are
// reduced to a 256 colour palette unless the quality ceiling is lossless.
type nativeCodec struct{}

// NewNativeCodec creates a pure Go Codec.
func NewNativeCodec() Codec {
	return &nativeCodec{}
}

func (c *nativeCodec) Name() string {
	return CodecNative
}

// Compress decodes data and encodes it again with the format's lossy settings.
func (c *nativeCodec) Compress(_ context.Context, data []byte, format Format, opts Options) ([]byte, error) {
	if err := checkPayload(data, format); err != nil {
		return nil, err
	}
	if err := checkDimensions(data, format, opts.MaxPixels); err != nil {
		return nil, err
	}

	var (
		out []byte
		err error
	)
	switch format {
	case FormatPNG:
		out, err = compressPNG(data, opts.PNGQuality)
	case FormatJPEG:
		out, err = compressJPEG(data, opts.JPEGQuality)
	}
	if err != nil {
		return nil, &CodecError{Format: format, Err: err}
	}
	return out, nil
}

func compressJPEG(data []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func compressPNG(data []byte, quality QualityRange) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}

	out := img
	if _, paletted := img.(*image.Paletted); !paletted && quality.Max < 1 {
		out = quantize(img)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// quantize maps img onto a palette. Images with few colours keep them exactly;
// the rest are dithered onto the Plan 9 palette.
func quantize(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	if exact, ok := exactPalette(img); ok {
		dst := image.NewPaletted(bounds, exact)
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
		return dst
	}

	pal := color.Palette(palette.Plan9)
	if hasAlpha(img) {
		pal = append(append(color.Palette{}, palette.Plan9[:maxPaletteSize-1]...), color.RGBA{})
	}
	dst := image.NewPaletted(bounds, pal)
	draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)
	return dst
}

// exactPalette collects the distinct colours of img in order of appearance,
// giving up past maxPaletteSize.
func exactPalette(img image.Image) (color.Palette, bool) {
	bounds := img.Bounds()
	seen := make(map[color.RGBA64]struct{}, maxPaletteSize)
	var pal color.Palette
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			c := color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)}
			if _, ok := seen[c]; ok {
				continue
			}
			if len(pal) == maxPaletteSize {
				return nil, false
			}
			seen[c] = struct{}{}
			pal = append(pal, c)
		}
	}
	return pal, true
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
