package squash

import (
	"path/filepath"
	"slices"
	"strings"
)

// Extensions defines the interface for file extension operations.
type Extensions interface {
	// IsSupported returns true if the file extension is PNG or JPEG.
	IsSupported(filePath string) bool
	// IsPNG returns true if the file extension is PNG.
	IsPNG(filePath string) bool
	// IsJPEG returns true if the file extension is JPEG (jpg or jpeg).
	IsJPEG(filePath string) bool
	// FormatOf returns the format selected by the file extension.
	FormatOf(filePath string) (Format, error)
	// ContentType returns the canonical media type for the file extension.
	ContentType(filePath string) string
}

// extensions implements the Extensions interface.
type extensions struct {
	pngExts  []string
	jpegExts []string
}

// NewExtensions creates a new Extensions instance.
func NewExtensions() Extensions {
	return &extensions{
		pngExts:  []string{".png"},
		jpegExts: []string{".jpg", ".jpeg"},
	}
}

// IsSupported returns true if the file extension is PNG or JPEG.
func (e *extensions) IsSupported(filePath string) bool {
	return e.IsPNG(filePath) || e.IsJPEG(filePath)
}

// IsPNG returns true if the file extension is PNG.
func (e *extensions) IsPNG(filePath string) bool {
	return slices.Contains(e.pngExts, lowerExt(filePath))
}

// IsJPEG returns true if the file extension is JPEG (jpg or jpeg).
func (e *extensions) IsJPEG(filePath string) bool {
	return slices.Contains(e.jpegExts, lowerExt(filePath))
}

// FormatOf returns the format selected by the file extension.
func (e *extensions) FormatOf(filePath string) (Format, error) {
	switch {
	case e.IsPNG(filePath):
		return FormatPNG, nil
	case e.IsJPEG(filePath):
		return FormatJPEG, nil
	}
	return "", &UnsupportedFormatError{Ext: filepath.Ext(filePath)}
}

// ContentType returns the canonical media type for the file extension.
func (e *extensions) ContentType(filePath string) string {
	switch {
	case e.IsPNG(filePath):
		return "image/png"
	case e.IsJPEG(filePath):
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func lowerExt(filePath string) string {
	return strings.ToLower(filepath.Ext(filePath))
}
