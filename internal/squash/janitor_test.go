package squash

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// agedFile writes a file whose modification time is age before now.
func agedFile(t *testing.T, fs afero.Fs, path string, now time.Time, age time.Duration) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0o640))
	mtime := now.Add(-age)
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

func newTestJanitor(now time.Time, areas ...Area) *Janitor {
	j := NewJanitor(DefaultRetentionClock(), areas...)
	j.now = func() time.Time { return now }
	return j
}

func TestJanitor_Sweep(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agedFile(t, fs, "/incoming/old.png", now, 6*time.Minute)
	agedFile(t, fs, "/incoming/young.png", now, time.Minute)
	agedFile(t, fs, "/outgoing/old-opt.png", now, time.Hour)
	agedFile(t, fs, "/outgoing/abc.zip", now, 4*time.Minute)
	require.NoError(t, fs.MkdirAll("/outgoing/subdir", 0o750))
	require.NoError(t, fs.Chtimes("/outgoing/subdir", now.Add(-time.Hour), now.Add(-time.Hour)))

	janitor := newTestJanitor(now,
		NewDirArea("incoming", fs, "/incoming"),
		NewDirArea("outgoing", fs, "/outgoing"))

	reports := janitor.Sweep(context.Background())

	assert.Equal(t, []AreaReport{
		{Area: "incoming", Scanned: 2, Deleted: 1},
		{Area: "outgoing", Scanned: 2, Deleted: 1},
	}, reports)
	assert.False(t, fileExists(t, fs, "/incoming/old.png"))
	assert.True(t, fileExists(t, fs, "/incoming/young.png"))
	assert.False(t, fileExists(t, fs, "/outgoing/old-opt.png"))
	assert.True(t, fileExists(t, fs, "/outgoing/abc.zip"))
	assert.True(t, fileExists(t, fs, "/outgoing/subdir"), "directories are never swept")
}

func TestJanitor_Sweep_ExactlyAtRetention(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agedFile(t, fs, "/incoming/edge.png", now, 5*time.Minute)

	newTestJanitor(now, NewDirArea("incoming", fs, "/incoming")).Sweep(context.Background())

	assert.True(t, fileExists(t, fs, "/incoming/edge.png"))
}

func TestJanitor_Sweep_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agedFile(t, fs, "/incoming/old.png", now, 10*time.Minute)
	agedFile(t, fs, "/incoming/young.png", now, time.Second)
	janitor := newTestJanitor(now, NewDirArea("incoming", fs, "/incoming"))

	first := janitor.Sweep(context.Background())
	second := janitor.Sweep(context.Background())

	assert.Equal(t, 1, first[0].Deleted)
	assert.Equal(t, AreaReport{Area: "incoming", Scanned: 1}, second[0])
	assert.Equal(t, []string{"young.png"}, dirNames(t, fs, "/incoming"))
}

func TestJanitor_Sweep_MissingDirectory(t *testing.T) {
	janitor := newTestJanitor(time.Now(), NewDirArea("incoming", afero.NewMemMapFs(), "/nowhere"))

	reports := janitor.Sweep(context.Background())

	assert.Equal(t, []AreaReport{{Area: "incoming"}}, reports)
}

// brokenArea fails every operation.
type brokenArea struct {
	listErr   error
	removeErr error
	entries   []AreaEntry
}

func (b *brokenArea) Name() string { return "broken" }

func (b *brokenArea) List(context.Context) ([]AreaEntry, error) {
	return b.entries, b.listErr
}

func (b *brokenArea) Remove(context.Context, string) error {
	return b.removeErr
}

func TestJanitor_Sweep_AreaFailureDoesNotBlockOthers(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agedFile(t, fs, "/outgoing/old.png", now, time.Hour)

	janitor := newTestJanitor(now,
		&brokenArea{listErr: errors.New("permission denied")},
		NewDirArea("outgoing", fs, "/outgoing"))

	reports := janitor.Sweep(context.Background())

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Errors)
	assert.Equal(t, 1, reports[1].Deleted)
	assert.False(t, fileExists(t, fs, "/outgoing/old.png"))
}

func TestJanitor_Sweep_RemoveErrors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := []AreaEntry{{Name: "a.png", ModTime: now.Add(-time.Hour), Regular: true}}

	vanished := newTestJanitor(now, &brokenArea{entries: old, removeErr: afero.ErrFileNotFound}).Sweep(context.Background())
	assert.Equal(t, AreaReport{Area: "broken", Scanned: 1}, vanished[0], "a file removed concurrently is not an error")

	failed := newTestJanitor(now, &brokenArea{entries: old, removeErr: errors.New("busy")}).Sweep(context.Background())
	assert.Equal(t, AreaReport{Area: "broken", Scanned: 1, Errors: 1}, failed[0])
}

func TestJanitor_Run(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/incoming"
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "old.png"), []byte("x"), 0o640))
	janitor := NewJanitor(RetentionClock{Retention: time.Nanosecond, SweepInterval: 10 * time.Millisecond},
		NewDirArea("incoming", fs, dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		ok, _ := afero.Exists(fs, filepath.Join(dir, "old.png"))
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancellation")
	}
}
