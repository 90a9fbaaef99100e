package squash

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
)

// ArchiveBuilder defines the interface for bundling optimized files.
type ArchiveBuilder interface {
	// Bundle writes every file of paths into a new ZIP archive in the outgoing
	// area, flattening directories. Failures return *ArchiveIOError and leave
	// no archive behind.
	Bundle(ctx context.Context, paths []string) (Archive, error)
}

// zipArchiveBuilder implements the ArchiveBuilder interface
type zipArchiveBuilder struct {
	fs    afero.Fs
	dir   string
	newID func() (string, error)
}

// NewArchiveBuilder creates a new ArchiveBuilder writing into dir on fs.
func NewArchiveBuilder(fs afero.Fs, dir string) ArchiveBuilder {
	return &zipArchiveBuilder{
		fs:    fs,
		dir:   dir,
		newID: NewArchiveID,
	}
}

// Bundle streams paths into <id>.zip. The archive is written under a hidden
// part name and only renamed into place once it has been finalized.
func (b *zipArchiveBuilder) Bundle(ctx context.Context, paths []string) (Archive, error) {
	id, err := b.newID()
	if err != nil {
		return Archive{}, &ArchiveIOError{Op: "create", Path: b.dir, Err: err}
	}
	name := id + ".zip"
	finalPath := filepath.Join(b.dir, name)
	partPath := filepath.Join(b.dir, "."+name+".part")

	f, err := b.fs.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Archive{}, &ArchiveIOError{Op: "create", Path: partPath, Err: err}
	}

	entries, err := b.write(ctx, f, paths)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = &ArchiveIOError{Op: "finalize", Path: partPath, Err: closeErr}
	}
	if err != nil {
		b.discard(partPath)
		return Archive{}, err
	}

	if err := b.fs.Rename(partPath, finalPath); err != nil {
		b.discard(partPath)
		return Archive{}, &ArchiveIOError{Op: "finalize", Path: finalPath, Err: err}
	}

	logger.Info("Archive created", "archive", name, "entries", len(entries))
	return Archive{
		ID:      id,
		Name:    name,
		Path:    finalPath,
		Entries: entries,
	}, nil
}

// write streams every path into a ZIP written to w, compressed at the maximum
// deflate level.
func (b *zipArchiveBuilder) write(ctx context.Context, w io.Writer, paths []string) ([]string, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	namer := newEntryNamer()
	entries := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, &ArchiveIOError{Op: "write", Path: path, Err: err}
		}
		entry := namer.next(filepath.Base(path))
		if err := b.addFile(zw, path, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := zw.Close(); err != nil {
		return nil, &ArchiveIOError{Op: "finalize", Path: b.dir, Err: err}
	}
	return entries, nil
}

// addFile copies one file into the archive under entry.
func (b *zipArchiveBuilder) addFile(zw *zip.Writer, path, entry string) error {
	src, err := b.fs.Open(path)
	if err != nil {
		return &ArchiveIOError{Op: "read", Path: path, Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return &ArchiveIOError{Op: "read", Path: path, Err: err}
	}

	header := &zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return &ArchiveIOError{Op: "write", Path: path, Err: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		return &ArchiveIOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (b *zipArchiveBuilder) discard(path string) {
	if err := b.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Error("Failed to remove partial archive", "path", path, "error", err)
	}
}

// entryNamer hands out unique entry names. A repeated base name gets a numeric
// suffix before its extension: photo.png, photo-1.png, photo-2.png.
type entryNamer struct {
	used map[string]struct{}
}

func newEntryNamer() *entryNamer {
	return &entryNamer{used: make(map[string]struct{})}
}

func (n *entryNamer) next(base string) string {
	name := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		if _, taken := n.used[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	n.used[name] = struct{}{}
	return name
}
