package squash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
)

// AreaEntry is one direct entry of a storage area.
type AreaEntry struct {
	Name    string
	ModTime time.Time
	Regular bool
}

// Area is a storage location swept by the Janitor.
type Area interface {
	// Name identifies the area in logs and reports.
	Name() string
	// List returns the direct entries of the area.
	List(ctx context.Context) ([]AreaEntry, error)
	// Remove deletes one entry. A missing entry yields an error matching fs.ErrNotExist.
	Remove(ctx context.Context, name string) error
}

// AreaReport is the outcome of sweeping one area.
type AreaReport struct {
	Area    string
	Scanned int
	Deleted int
	Errors  int
}

// Janitor deletes artifacts older than the retention window from every area.
type Janitor struct {
	areas []Area
	clock RetentionClock
	now   func() time.Time
}

// NewJanitor creates a Janitor sweeping areas on clock's schedule.
func NewJanitor(clock RetentionClock, areas ...Area) *Janitor {
	return &Janitor{
		areas: areas,
		clock: clock,
		now:   time.Now,
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.clock.SweepInterval)
	defer ticker.Stop()

	logger.Info("Janitor started", "areas", len(j.areas), "retention", j.clock.Retention, "interval", j.clock.SweepInterval)
	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			logger.Info("Janitor stopped")
			return
		}
	}
}

// Sweep makes one pass over every area. Areas are independent: a failure in
// one is logged and the next area is still swept.
func (j *Janitor) Sweep(ctx context.Context) []AreaReport {
	now := j.now()
	reports := make([]AreaReport, 0, len(j.areas))
	for _, area := range j.areas {
		reports = append(reports, j.sweepArea(ctx, area, now))
	}
	return reports
}

func (j *Janitor) sweepArea(ctx context.Context, area Area, now time.Time) AreaReport {
	report := AreaReport{Area: area.Name()}

	entries, err := area.List(ctx)
	if err != nil {
		logger.Error("Failed to list area", "area", area.Name(), "error", err)
		report.Errors++
		return report
	}

	for _, entry := range entries {
		if !entry.Regular {
			continue
		}
		report.Scanned++
		if now.Sub(entry.ModTime) <= j.clock.Retention {
			continue
		}

		if err := area.Remove(ctx, entry.Name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logger.Error("Failed to delete expired file", "area", area.Name(), "file", entry.Name, "error", err)
			report.Errors++
			continue
		}
		report.Deleted++
		logger.Debug("Deleted expired file", "area", area.Name(), "file", entry.Name, "age", now.Sub(entry.ModTime))
	}

	if report.Deleted > 0 || report.Errors > 0 {
		logger.Info("Swept area", "area", area.Name(), "scanned", report.Scanned, "deleted", report.Deleted, "errors", report.Errors)
	}
	return report
}

// dirArea is a flat directory on an afero filesystem.
type dirArea struct {
	name string
	fs   afero.Fs
	dir  string
}

// NewDirArea creates an Area over the direct entries of dir.
func NewDirArea(name string, fs afero.Fs, dir string) Area {
	return &dirArea{name: name, fs: fs, dir: dir}
}

func (a *dirArea) Name() string {
	return a.name
}

// List returns the direct entries of the directory. A missing directory is empty.
func (a *dirArea) List(_ context.Context) ([]AreaEntry, error) {
	infos, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", a.dir, err)
	}

	entries := make([]AreaEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, AreaEntry{
			Name:    info.Name(),
			ModTime: info.ModTime(),
			Regular: info.Mode().IsRegular(),
		})
	}
	return entries, nil
}

func (a *dirArea) Remove(_ context.Context, name string) error {
	return a.fs.Remove(filepath.Join(a.dir, name))
}
