package squash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
)

// FieldName is the multipart field carrying the batch images.
const FieldName = "images"

// Candidate describes one batch member before anything is written.
type Candidate struct {
	Name string
	Size int64
}

// Part is one member of an incoming multipart batch.
type Part struct {
	FieldName   string
	FileName    string
	ContentType string
	Body        io.Reader
}

// PartSource yields the parts of a batch in order and returns io.EOF at the end.
type PartSource interface {
	NextPart() (*Part, error)
}

// IntakeGuard validates batches and stages accepted files in the incoming area.
type IntakeGuard struct {
	fs         afero.Fs
	dir        string
	limits     Limits
	extensions Extensions
	now        func() time.Time
}

// NewIntakeGuard creates an IntakeGuard staging into dir on fs.
func NewIntakeGuard(fs afero.Fs, dir string, limits Limits) *IntakeGuard {
	return &IntakeGuard{
		fs:         fs,
		dir:        dir,
		limits:     limits,
		extensions: NewExtensions(),
		now:        time.Now,
	}
}

// Check validates a candidate batch without touching the filesystem.
func (g *IntakeGuard) Check(candidates []Candidate) error {
	if len(candidates) == 0 {
		return newValidationError("no images uploaded")
	}
	for _, c := range candidates {
		if !g.extensions.IsSupported(c.Name) {
			return newValidationError("%s is not a PNG or JPEG image", SanitizeName(c.Name))
		}
	}
	if len(candidates) > g.limits.MaxFiles {
		return g.tooManyFiles()
	}

	var total int64
	for _, c := range candidates {
		total += c.Size
	}
	if total > g.limits.MaxBatchBytes {
		return g.tooLarge()
	}
	return nil
}

// Stage streams every file of src into the incoming area. The batch is all or
// nothing: on any violation or error the files already staged are removed.
func (g *IntakeGuard) Stage(ctx context.Context, src PartSource) (Batch, error) {
	if err := g.fs.MkdirAll(g.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create incoming directory: %w", err)
	}

	var (
		batch Batch
		total int64
	)
	fail := func(err error) (Batch, error) {
		g.Discard(batch)
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		part, err := src.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("failed to read batch: %w", err))
		}
		if part.FieldName != FieldName || part.FileName == "" {
			continue
		}

		if !g.extensions.IsSupported(part.FileName) {
			return fail(newValidationError("%s is not a PNG or JPEG image", SanitizeName(part.FileName)))
		}
		if len(batch) == g.limits.MaxFiles {
			return fail(g.tooManyFiles())
		}

		file, err := g.stageOne(part, g.limits.MaxBatchBytes-total)
		if err != nil {
			return fail(err)
		}
		batch = append(batch, file)
		total += file.Size
		logger.Debug("Staged upload", "original", file.OriginalName, "stored", file.StoredName, "size", humanize.IBytes(uint64(file.Size)))
	}

	if len(batch) == 0 {
		return nil, newValidationError("no images uploaded")
	}
	logger.Info("Batch accepted", "files", len(batch), "size", humanize.IBytes(uint64(total)))
	return batch, nil
}

// stageOne writes one part, failing once more than budget bytes arrive.
func (g *IntakeGuard) stageOne(part *Part, budget int64) (UploadedFile, error) {
	storedName, err := StoredName(g.now(), part.FileName)
	if err != nil {
		return UploadedFile{}, err
	}
	path := filepath.Join(g.dir, storedName)

	f, err := g.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("failed to create staged file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(part.Body, budget+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		g.remove(path)
		return UploadedFile{}, fmt.Errorf("failed to stage %s: %w", storedName, copyErr)
	case closeErr != nil:
		g.remove(path)
		return UploadedFile{}, fmt.Errorf("failed to stage %s: %w", storedName, closeErr)
	case n > budget:
		g.remove(path)
		return UploadedFile{}, g.tooLarge()
	}

	contentType := part.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = g.extensions.ContentType(part.FileName)
	}

	return UploadedFile{
		OriginalName: filepath.Base(part.FileName),
		StoredName:   storedName,
		Path:         path,
		Size:         n,
		ContentType:  contentType,
	}, nil
}

// Discard removes the staged files of a batch.
func (g *IntakeGuard) Discard(batch Batch) {
	for _, f := range batch {
		g.remove(f.Path)
	}
}

func (g *IntakeGuard) remove(path string) {
	if err := g.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Error("Failed to remove staged file", "path", path, "error", err)
	}
}

func (g *IntakeGuard) tooManyFiles() *ValidationError {
	return newValidationError("too many files: at most %d per batch", g.limits.MaxFiles)
}

func (g *IntakeGuard) tooLarge() *ValidationError {
	return newValidationError("batch is larger than %s", humanize.IBytes(uint64(g.limits.MaxBatchBytes)))
}
