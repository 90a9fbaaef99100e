package squash

import "time"

// Format is the raster format a file is optimized as.
type Format string

const (
	// FormatPNG selects the palette-quantizing PNG path.
	FormatPNG Format = "png"
	// FormatJPEG selects the JPEG re-encoding path.
	FormatJPEG Format = "jpeg"
)

// QualityRange bounds the acceptable PNG quality, both ends in [0, 1].
type QualityRange struct {
	Min float64
	Max float64
}

// Options is the closed codec configuration. Only the field matching the
// format being compressed is consulted.
type Options struct {
	// JPEGQuality is the JPEG quality level (1-100).
	JPEGQuality int
	// PNGQuality is the accepted PNG quality range.
	PNGQuality QualityRange
	// MaxPixels caps the declared width*height of an input. Zero disables the check.
	MaxPixels int64
}

// DefaultMaxPixels is 50 megapixels, about 200 MiB once decoded to RGBA.
const DefaultMaxPixels = 50_000_000

// DefaultOptions returns the default codec options.
func DefaultOptions() Options {
	return Options{
		JPEGQuality: 75,
		PNGQuality:  QualityRange{Min: 0.6, Max: 0.8},
		MaxPixels:   DefaultMaxPixels,
	}
}

// Limits bounds a batch at intake.
type Limits struct {
	// MaxFiles is the maximum number of files per batch.
	MaxFiles int
	// MaxBatchBytes is the maximum aggregate size of a batch.
	MaxBatchBytes int64
}

// DefaultLimits returns the default intake limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      20,
		MaxBatchBytes: 100 << 20,
	}
}

// RetentionClock holds the cleanup schedule. It is rebuilt at every process start.
type RetentionClock struct {
	// Retention is the maximum age an artifact may reach.
	Retention time.Duration
	// SweepInterval is the time between two sweeps.
	SweepInterval time.Duration
}

// DefaultRetentionClock returns the default cleanup schedule.
func DefaultRetentionClock() RetentionClock {
	return RetentionClock{
		Retention:     5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// UploadedFile is one accepted member of a batch, staged in the incoming area.
type UploadedFile struct {
	// OriginalName is the client supplied filename.
	OriginalName string
	// StoredName is the collision resistant name in the incoming area.
	StoredName string
	// Path is the location of the staged file.
	Path string
	// Size is the staged size in bytes.
	Size int64
	// ContentType is the declared media type.
	ContentType string
}

// Batch is the ordered set of files accepted by one intake call.
type Batch []UploadedFile

// TotalSize returns the aggregate size of the batch.
func (b Batch) TotalSize() int64 {
	var total int64
	for _, f := range b {
		total += f.Size
	}
	return total
}

// OptimizationResult describes one successfully optimized file.
type OptimizationResult struct {
	StoredName   string
	OriginalName string
	OutputName   string
	OutputPath   string
	SizeBefore   int64
	SizeAfter    int64
}

// Outcome is the slot for one batch member: exactly one of Result or Err is set.
type Outcome struct {
	File   UploadedFile
	Result *OptimizationResult
	Err    error
}

// Failed reports whether the file could not be optimized.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Archive is a bundled set of optimized outputs in the outgoing area.
type Archive struct {
	// ID is 16 random hex characters.
	ID string
	// Name is the archive filename, derived from ID.
	Name string
	// Path is the location of the archive.
	Path string
	// Entries lists entry names in the order they were written.
	Entries []string
}
