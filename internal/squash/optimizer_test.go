package squash

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizer_BoundedConcurrency(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := &stubCodec{delay: 20 * time.Millisecond}
	optimizer := NewOptimizer(fs, codec, OptimizerConfig{OutDir: "/outgoing", Concurrency: 6})

	var batch Batch
	for i := 0; i < 12; i++ {
		batch = append(batch, stageFile(t, fs, "/incoming", fmt.Sprintf("img%02d.png", i), []byte(fmt.Sprintf("payload-%02d", i))))
	}

	outcomes, err := optimizer.Optimize(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 12)

	assert.LessOrEqual(t, codec.maxSeen, 6, "at most six files may be compressed at once")
	assert.Greater(t, codec.maxSeen, 1, "files should be compressed in parallel")
	for i, outcome := range outcomes {
		require.False(t, outcome.Failed(), "file %d failed: %v", i, outcome.Err)
		assert.Equal(t, batch[i], outcome.File, "outcomes must follow submission order")
	}
}

func TestOptimizer_AdmitsInSubmissionOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := &stubCodec{delay: 5 * time.Millisecond}
	optimizer := NewOptimizer(fs, codec, OptimizerConfig{OutDir: "/outgoing", Concurrency: 1})

	var batch Batch
	var want []string
	for i := 0; i < 5; i++ {
		payload := fmt.Sprintf("payload-%d", i)
		want = append(want, payload)
		batch = append(batch, stageFile(t, fs, "/incoming", fmt.Sprintf("img%d.png", i), []byte(payload)))
	}

	_, err := optimizer.Optimize(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, want, codec.started())
}

func TestOptimizer_WritesOutputs(t *testing.T) {
	fs := afero.NewMemMapFs()
	optimizer := NewOptimizer(fs, NewNativeCodec(), OptimizerConfig{OutDir: "/outgoing", Options: DefaultOptions()})
	input := gradientPNG(t, 32, 32)
	file := stageFile(t, fs, "/incoming", "photo.png", input)

	outcomes, err := optimizer.Optimize(context.Background(), Batch{file})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Failed())

	result := outcomes[0].Result
	assert.Equal(t, file.StoredName, result.StoredName)
	assert.Equal(t, "photo.png", result.OriginalName)
	assert.Equal(t, OptimizedName(file.StoredName), result.OutputName)
	assert.Equal(t, filepath.Join("/outgoing", result.OutputName), result.OutputPath)
	assert.Equal(t, int64(len(input)), result.SizeBefore)

	written, err := afero.ReadFile(fs, result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(written)), result.SizeAfter)
	assert.Less(t, result.SizeAfter, result.SizeBefore)
}

func TestOptimizer_IsolatesFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	codec := &stubCodec{fail: []byte("bad")}
	optimizer := NewOptimizer(fs, codec, OptimizerConfig{OutDir: "/outgoing"})

	batch := Batch{
		stageFile(t, fs, "/incoming", "good1.png", []byte("good-1")),
		stageFile(t, fs, "/incoming", "broken.png", []byte("bad")),
		stageFile(t, fs, "/incoming", "good2.jpg", []byte("good-2")),
	}

	outcomes, err := optimizer.Optimize(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.False(t, outcomes[0].Failed())
	assert.False(t, outcomes[2].Failed())
	require.True(t, outcomes[1].Failed())

	var codecErr *CodecError
	require.True(t, errors.As(outcomes[1].Err, &codecErr))
	assert.Equal(t, "broken.png", codecErr.Name)
	assert.Nil(t, outcomes[1].Result)

	assert.Len(t, dirNames(t, fs, "/outgoing"), 2)
}

func TestOptimizer_MissingStagedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	optimizer := NewOptimizer(fs, &stubCodec{}, OptimizerConfig{OutDir: "/outgoing"})
	file := UploadedFile{OriginalName: "gone.png", StoredName: "1-abcd-gone.png", Path: "/incoming/1-abcd-gone.png"}

	outcomes, err := optimizer.Optimize(context.Background(), Batch{file})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed())
}

func TestOptimizer_SetupFailure(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	optimizer := NewOptimizer(fs, &stubCodec{}, OptimizerConfig{OutDir: "/outgoing"})

	_, err := optimizer.Optimize(context.Background(), Batch{{StoredName: "a.png", Path: "/incoming/a.png"}})
	assert.Error(t, err)
}

func TestOptimizer_IgnoresCancellationOnceStarted(t *testing.T) {
	fs := afero.NewMemMapFs()
	optimizer := NewOptimizer(fs, &stubCodec{delay: time.Millisecond}, OptimizerConfig{OutDir: "/outgoing", Concurrency: 1})
	batch := Batch{
		stageFile(t, fs, "/incoming", "a.png", []byte("aa")),
		stageFile(t, fs, "/incoming", "b.png", []byte("bb")),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := optimizer.Optimize(ctx, batch)
	require.NoError(t, err)
	for _, outcome := range outcomes {
		assert.False(t, outcome.Failed())
	}
}

// recordingTagger pretends to rewrite every output with a trailer.
type recordingTagger struct {
	fs     afero.Fs
	tagged map[string]string
}

func (r *recordingTagger) TagOriginalName(filePath, originalName string) (bool, error) {
	data, err := afero.ReadFile(r.fs, filePath)
	if err != nil {
		return false, err
	}
	if err := afero.WriteFile(r.fs, filePath, append(data, []byte(originalName)...), 0o640); err != nil {
		return false, err
	}
	r.tagged[filepath.Base(filePath)] = originalName
	return true, nil
}

func (r *recordingTagger) Close() error {
	return nil
}

func TestOptimizer_TaggedSizeMatchesDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	tagger := &recordingTagger{fs: fs, tagged: make(map[string]string)}
	optimizer := NewOptimizer(fs, &stubCodec{}, OptimizerConfig{OutDir: "/outgoing", Tagger: tagger})
	file := stageFile(t, fs, "/incoming", "holiday.png", []byte("payload"))

	outcomes, err := optimizer.Optimize(context.Background(), Batch{file})
	require.NoError(t, err)
	result := outcomes[0].Result
	require.NotNil(t, result)

	assert.Equal(t, "holiday.png", tagger.tagged[result.OutputName])
	info, err := fs.Stat(result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), result.SizeAfter)
	assert.Equal(t, int64(len("ayload")+len("holiday.png")), result.SizeAfter)
}
