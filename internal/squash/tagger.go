package squash

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/barasher/go-exiftool"

	"github.com/acm19/squash/internal/logger"
)

// ExifOriginalFileName is the tag holding the name the client uploaded.
const ExifOriginalFileName = "OriginalFileName"

// Tagger records the client filename inside an optimized output.
type Tagger interface {
	// TagOriginalName stores originalName in the file's metadata unless a
	// value is already present. It reports whether the file was rewritten.
	TagOriginalName(filePath string, originalName string) (bool, error)
	// Close stops the metadata process.
	Close() error
}

// exifTagger drives one stay-open exiftool process for reads and writes.
// exiftool handles one request at a time, so calls are serialized.
type exifTagger struct {
	mu         sync.Mutex
	et         *exiftool.Exiftool
	extensions Extensions
}

// NewExifTagger starts exiftool from exiftoolPath (empty means PATH). Writes
// replace the file in place without a backup copy.
func NewExifTagger(exiftoolPath string) (Tagger, error) {
	if exiftoolPath == "" {
		exiftoolPath = "exiftool"
	}
	resolved, err := exec.LookPath(exiftoolPath)
	if err != nil {
		return nil, fmt.Errorf("exiftool not found: %w", err)
	}

	et, err := exiftool.NewExiftool(exiftool.SetExiftoolBinaryPath(resolved))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise exiftool: %w", err)
	}
	return &exifTagger{et: et, extensions: NewExtensions()}, nil
}

func (t *exifTagger) TagOriginalName(filePath string, originalName string) (bool, error) {
	if !t.extensions.IsSupported(filePath) {
		logger.Debug("Not tagging unsupported file", "file", filepath.Base(filePath))
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.readTag(filePath); ok {
		logger.Debug("Original name already tagged", "file", filepath.Base(filePath), "original", existing)
		return false, nil
	}

	update := exiftool.EmptyFileMetadata()
	update.File = filePath
	update.SetString(ExifOriginalFileName, originalName)

	written := []exiftool.FileMetadata{update}
	t.et.WriteMetadata(written)
	if err := written[0].Err; err != nil {
		return false, fmt.Errorf("failed to tag %s: %w", filepath.Base(filePath), err)
	}

	logger.Debug("Tagged original name", "file", filepath.Base(filePath), "original", originalName)
	return true, nil
}

// readTag returns the stored original name, if any. Unreadable metadata
// counts as untagged so the write reports the real error.
func (t *exifTagger) readTag(filePath string) (string, bool) {
	infos := t.et.ExtractMetadata(filePath)
	if len(infos) == 0 || infos[0].Err != nil {
		return "", false
	}
	value, err := infos[0].GetString(ExifOriginalFileName)
	if err != nil {
		return "", false
	}
	return value, true
}

func (t *exifTagger) Close() error {
	return t.et.Close()
}
