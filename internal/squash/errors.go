package squash

import (
	"errors"
	"fmt"
)

// ErrPathTraversal is returned when a requested name resolves outside its directory.
var ErrPathTraversal = errors.New("path escapes its directory")

// ValidationError rejects a whole batch before processing. Reason is safe to
// show to clients.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid batch: " + e.Reason
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedFormatError is returned for files outside PNG and JPEG.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format %q", e.Ext)
}

// CodecError is returned when the compressor rejects a file.
type CodecError struct {
	Name   string
	Format Format
	Err    error
}

func (e *CodecError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s codec failed: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("%s codec failed for %s: %v", e.Format, e.Name, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// ArchiveIOError is returned when an archive cannot be built.
type ArchiveIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArchiveIOError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveIOError) Unwrap() error {
	return e.Err
}

// BatchError aborts a whole batch after one or more files failed to optimize.
type BatchError struct {
	Failed int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d file(s) failed to optimize: %v", e.Failed, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
