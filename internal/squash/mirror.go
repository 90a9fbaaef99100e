package squash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
)

// S3Client is the part of the S3 API used by the archive mirror.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs temporary GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// MirrorConfig configures the archive mirror.
type MirrorConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// Retention bounds both the object expiry and the presigned URL lifetime.
	Retention time.Duration
}

// ArchiveMirror defines the interface for copying archives to a bucket.
type ArchiveMirror interface {
	// Publish uploads archive and returns a presigned URL valid for the retention window.
	Publish(ctx context.Context, archive Archive) (string, error)
	// Area exposes the mirrored prefix to the Janitor.
	Area() Area
}

// s3Mirror implements the ArchiveMirror interface
type s3Mirror struct {
	client    S3Client
	presigner Presigner
	fs        afero.Fs
	cfg       MirrorConfig
	now       func() time.Time
}

// NewS3Mirror creates an ArchiveMirror from the default AWS configuration. A
// custom Endpoint switches to path-style addressing for S3 compatible stores.
func NewS3Mirror(ctx context.Context, fs afero.Fs, cfg MirrorConfig) (ArchiveMirror, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Info("Archive mirror enabled", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "endpoint", cfg.Endpoint)
	return newS3Mirror(client, s3.NewPresignClient(client), fs, cfg), nil
}

func newS3Mirror(client S3Client, presigner Presigner, fs afero.Fs, cfg MirrorConfig) *s3Mirror {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &s3Mirror{
		client:    client,
		presigner: presigner,
		fs:        fs,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Publish uploads the archive with an Expires header at the end of the retention window.
func (m *s3Mirror) Publish(ctx context.Context, archive Archive) (string, error) {
	file, err := m.fs.Open(archive.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	key := path.Join(m.cfg.Prefix, archive.Name)
	logger.Debug("Uploading archive", "bucket", m.cfg.Bucket, "key", key)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/zip"),
		Expires:     aws.Time(m.now().Add(m.cfg.Retention)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to S3: %w", err)
	}

	req, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(m.cfg.Retention))
	if err != nil {
		return "", fmt.Errorf("failed to presign archive URL: %w", err)
	}

	logger.Info("Archive mirrored", "bucket", m.cfg.Bucket, "key", key)
	return req.URL, nil
}

// Area returns the mirrored prefix as a sweepable area.
func (m *s3Mirror) Area() Area {
	return &bucketArea{client: m.client, bucket: m.cfg.Bucket, prefix: m.cfg.Prefix}
}

// bucketArea is a flat key prefix in a bucket.
type bucketArea struct {
	client S3Client
	bucket string
	prefix string
}

func (a *bucketArea) Name() string {
	return "s3://" + path.Join(a.bucket, a.prefix)
}

// List returns the objects directly under the prefix. Keys nested deeper are
// reported as non-regular so they are never swept.
func (a *bucketArea) List(ctx context.Context) ([]AreaEntry, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(a.bucket)}
	if a.prefix != "" {
		input.Prefix = aws.String(a.prefix + "/")
	}

	var entries []AreaEntry
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", a.Name(), err)
		}
		for _, obj := range page.Contents {
			entries = append(entries, a.entry(obj))
		}
	}
	return entries, nil
}

func (a *bucketArea) entry(obj types.Object) AreaEntry {
	name := aws.ToString(obj.Key)
	if a.prefix != "" {
		name = strings.TrimPrefix(name, a.prefix+"/")
	}
	return AreaEntry{
		Name:    name,
		ModTime: aws.ToTime(obj.LastModified),
		Regular: name != "" && !strings.Contains(name, "/"),
	}
}

func (a *bucketArea) Remove(ctx context.Context, name string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path.Join(a.prefix, name)),
	})
	if isNotFoundError(err) {
		return fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return err
}

// isNotFoundError checks if the error is a missing key or bucket
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
