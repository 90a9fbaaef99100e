package squash

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// SanitizeName reduces a client supplied filename to a safe base name. Only
// the final path segment is kept, whitespace runs become a single underscore
// and the extension is lower-cased.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}

	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = whitespaceRun.ReplaceAllString(stem, "_")
	stem = unsafeChars.ReplaceAllString(stem, "")
	stem = strings.TrimLeft(stem, ".")
	if stem == "" {
		stem = "image"
	}
	return stem + unsafeChars.ReplaceAllString(ext, "")
}

// StoredName derives a collision resistant stored name from the current time,
// a random component and the sanitized client name.
func StoredName(now time.Time, original string) (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), suffix, SanitizeName(original)), nil
}

// OptimizedName returns the output name for a stored file: the stem with "-opt"
// appended, extension preserved.
func OptimizedName(storedName string) string {
	base := filepath.Base(storedName)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-opt" + ext
}

// NewArchiveID returns 16 hex characters from crypto/rand.
func NewArchiveID() (string, error) {
	return randomHex(8)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
