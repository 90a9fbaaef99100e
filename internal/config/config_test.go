package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm19/squash/internal/squash"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "uploads", cfg.IncomingDir)
	assert.Equal(t, "optimized", cfg.OutgoingDir)
	assert.Equal(t, squash.DefaultLimits(), cfg.Limits())
	assert.Equal(t, squash.DefaultOptions(), cfg.Options())
	assert.Equal(t, squash.DefaultRetentionClock(), cfg.RetentionClock())
	assert.Equal(t, squash.DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, squash.CodecAuto, cfg.Codec)
	assert.False(t, cfg.PartialResults)
	assert.False(t, cfg.MirrorEnabled())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squash.yaml")
	content := `
incoming_dir: /data/in
outgoing_dir: /data/out
max_files: 5
retention: 10m
png_quality_min: 0.5
png_quality_max: 0.9
s3_bucket: archives-bucket
s3_prefix: batches
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.IncomingDir)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, squash.QualityRange{Min: 0.5, Max: 0.9}, cfg.Options().PNGQuality)
	assert.True(t, cfg.MirrorEnabled())
	assert.Equal(t, squash.MirrorConfig{Bucket: "archives-bucket", Prefix: "batches", Retention: 10 * time.Minute}, cfg.Mirror())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 2\n"), 0o644))
	t.Setenv("SQUASH_CONCURRENCY", "9")
	t.Setenv("SQUASH_PARTIAL_RESULTS", "true")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Concurrency)
	assert.True(t, cfg.PartialResults)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SQUASH_JPEG_QUALITY", "60")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("jpeg-quality", 75, "")
	flags.String("listen-addr", ":3000", "")
	flags.String("out", ".", "")
	require.NoError(t, flags.Parse([]string{"--jpeg-quality", "90"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, ":3000", cfg.ListenAddr, "unchanged flags keep the configured value")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("", nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max files", func(c *Config) { c.MaxFiles = 0 }},
		{"negative batch bytes", func(c *Config) { c.MaxBatchBytes = -1 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero retention", func(c *Config) { c.Retention = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"jpeg quality too high", func(c *Config) { c.JPEGQuality = 101 }},
		{"jpeg quality zero", func(c *Config) { c.JPEGQuality = 0 }},
		{"inverted png range", func(c *Config) { c.PNGQualityMin, c.PNGQualityMax = 0.9, 0.1 }},
		{"png range above one", func(c *Config) { c.PNGQualityMax = 1.5 }},
		{"negative max pixels", func(c *Config) { c.MaxPixels = -1 }},
		{"unknown codec", func(c *Config) { c.Codec = "webp" }},
		{"same areas", func(c *Config) { c.OutgoingDir = c.IncomingDir }},
		{"empty incoming", func(c *Config) { c.IncomingDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
