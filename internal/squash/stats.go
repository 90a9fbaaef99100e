package squash

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// AreaUsage summarizes the regular files held by a storage area.
type AreaUsage struct {
	Files int
	Bytes int64
}

// Usage counts the regular files directly inside dir, excluding dot files.
// A missing directory is empty.
func Usage(fs afero.Fs, dir string) (AreaUsage, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return AreaUsage{}, nil
		}
		return AreaUsage{}, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var usage AreaUsage
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Mode().IsRegular() {
			continue
		}
		usage.Files++
		usage.Bytes += entry.Size()
	}
	return usage, nil
}
