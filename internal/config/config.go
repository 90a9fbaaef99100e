package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/acm19/squash/internal/squash"
)

// EnvPrefix is prepended to every environment variable, e.g. SQUASH_CONCURRENCY.
const EnvPrefix = "SQUASH"

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	IncomingDir string `mapstructure:"incoming_dir"`
	OutgoingDir string `mapstructure:"outgoing_dir"`

	MaxFiles      int   `mapstructure:"max_files"`
	MaxBatchBytes int64 `mapstructure:"max_batch_bytes"`
	Concurrency   int   `mapstructure:"concurrency"`

	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	JPEGQuality   int     `mapstructure:"jpeg_quality"`
	PNGQualityMin float64 `mapstructure:"png_quality_min"`
	PNGQualityMax float64 `mapstructure:"png_quality_max"`
	MaxPixels     int64   `mapstructure:"max_pixels"`

	Codec         string `mapstructure:"codec"`
	PngquantPath  string `mapstructure:"pngquant_path"`
	JpegoptimPath string `mapstructure:"jpegoptim_path"`

	TagOriginalName bool   `mapstructure:"tag_original_name"`
	ExiftoolPath    string `mapstructure:"exiftool_path"`

	PartialResults bool `mapstructure:"partial_results"`

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	limits := squash.DefaultLimits()
	clock := squash.DefaultRetentionClock()
	opts := squash.DefaultOptions()
	paths := squash.DefaultCodecPaths()

	v.SetDefault("listen_addr", ":3000")
	v.SetDefault("incoming_dir", "uploads")
	v.SetDefault("outgoing_dir", "optimized")
	v.SetDefault("max_files", limits.MaxFiles)
	v.SetDefault("max_batch_bytes", limits.MaxBatchBytes)
	v.SetDefault("concurrency", squash.DefaultConcurrency)
	v.SetDefault("retention", clock.Retention)
	v.SetDefault("sweep_interval", clock.SweepInterval)
	v.SetDefault("jpeg_quality", opts.JPEGQuality)
	v.SetDefault("png_quality_min", opts.PNGQuality.Min)
	v.SetDefault("png_quality_max", opts.PNGQuality.Max)
	v.SetDefault("max_pixels", opts.MaxPixels)
	v.SetDefault("codec", squash.CodecAuto)
	v.SetDefault("pngquant_path", paths.Pngquant)
	v.SetDefault("jpegoptim_path", paths.Jpegoptim)
	v.SetDefault("tag_original_name", false)
	v.SetDefault("exiftool_path", "exiftool")
	v.SetDefault("partial_results", false)
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_prefix", "archives")
	v.SetDefault("s3_region", "")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("debug", false)
}

// Load reads the configuration from defaults, the optional file at path,
// SQUASH_* environment variables and flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags binds every flag whose name (dashes as underscores) is a config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !slices.Contains(v.AllKeys(), key) {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = fmt.Errorf("failed to bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.IncomingDir == "" {
		errs = append(errs, errors.New("incoming_dir is required"))
	}
	if c.OutgoingDir == "" {
		errs = append(errs, errors.New("outgoing_dir is required"))
	}
	if c.IncomingDir != "" && c.IncomingDir == c.OutgoingDir {
		errs = append(errs, errors.New("incoming_dir and outgoing_dir must differ"))
	}
	if c.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("max_files must be positive, got %d", c.MaxFiles))
	}
	if c.MaxBatchBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_bytes must be positive, got %d", c.MaxBatchBytes))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be within 1-100, got %d", c.JPEGQuality))
	}
	if c.PNGQualityMin < 0 || c.PNGQualityMax > 1 || c.PNGQualityMin > c.PNGQualityMax {
		errs = append(errs, fmt.Errorf("png quality range [%g, %g] must satisfy 0 <= min <= max <= 1", c.PNGQualityMin, c.PNGQualityMax))
	}
	if c.MaxPixels < 0 {
		errs = append(errs, fmt.Errorf("max_pixels must not be negative, got %d", c.MaxPixels))
	}
	switch c.Codec {
	case squash.CodecAuto, squash.CodecExec, squash.CodecNative:
	default:
		errs = append(errs, fmt.Errorf("codec must be one of auto, exec, native, got %q", c.Codec))
	}
	return errors.Join(errs...)
}

// Limits returns the intake limits.
func (c *Config) Limits() squash.Limits {
	return squash.Limits{MaxFiles: c.MaxFiles, MaxBatchBytes: c.MaxBatchBytes}
}

// Options returns the codec options.
func (c *Config) Options() squash.Options {
	return squash.Options{
		JPEGQuality: c.JPEGQuality,
		PNGQuality:  squash.QualityRange{Min: c.PNGQualityMin, Max: c.PNGQualityMax},
		MaxPixels:   c.MaxPixels,
	}
}

// RetentionClock returns the cleanup schedule.
func (c *Config) RetentionClock() squash.RetentionClock {
	return squash.RetentionClock{Retention: c.Retention, SweepInterval: c.SweepInterval}
}

// CodecPaths returns the exec codec binaries.
func (c *Config) CodecPaths() squash.CodecPaths {
	return squash.CodecPaths{Pngquant: c.PngquantPath, Jpegoptim: c.JpegoptimPath}
}

// MirrorEnabled reports whether archives are copied to a bucket.
func (c *Config) MirrorEnabled() bool {
	return c.S3Bucket != ""
}

// Mirror returns the archive mirror settings.
func (c *Config) Mirror() squash.MirrorConfig {
	return squash.MirrorConfig{
		Bucket:    c.S3Bucket,
		Prefix:    c.S3Prefix,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		Retention: c.Retention,
	}
}
