// Package projectstore stores uploaded Terraform project archives and
// stage artifacts in S3 or S3-compatible object storage.
package projectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config configures a project store.
//
// Authentication follows the AWS SDK v2 default chain (environment,
// shared config/credentials, instance role) unless explicit keys are set.
// For S3-compatible backends (MinIO, Wasabi, Spaces), set Endpoint and
// typically ForcePathStyle.
type Config struct {
	// Bucket is the bucket holding project archives (required).
	Bucket string

	// Region is the AWS region. Empty defers to environment/profile
	// resolution; us-east-1 is applied as the AWS fallback.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared-config profile. Empty uses the default.
	Profile string

	// AccessKeyID / SecretAccessKey are explicit credentials. Both must
	// be set together; they take precedence over the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path). Required
	// for most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("project store: bucket is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return errors.New("project store: access key id and secret must be provided together")
	}
	return nil
}

// ErrNotFound is returned when the requested archive key does not exist.
var ErrNotFound = errors.New("project archive not found")

// Store reads and writes project archives in one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates a project store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	// Only apply explicit region if the caller set one; let the SDK
	// resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Custom endpoints keep whatever region resolved; AWS S3 falls back.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// Put stores an archive under key.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put project archive %s: %w", key, err)
	}
	return nil
}

// Get fetches an archive by key. Missing keys yield ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get project archive %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read project archive %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head project archive %s: %w", key, err)
	}
	return true, nil
}

// isNotFound classifies S3 API errors that mean the key is absent.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
