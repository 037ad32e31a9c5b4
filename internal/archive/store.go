// Package archive mirrors quarantined bad buffer lines to an S3-compatible
// object store so an operator can inspect malformed device traffic without
// holding it on local disk indefinitely. It is entirely optional: nothing
// in internal/buffer depends on it, and the worker wires it in only when
// an archive bucket is configured.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config selects the bucket and, for S3-compatible stores other than AWS,
// an explicit endpoint. AccessKey/SecretKey are optional — when empty the
// AWS SDK's default credential chain (env, shared config, instance role)
// is used instead.
type Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Store saves archived bad-line files to S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewStore builds a Store from Config.
func NewStore(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "archive-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	return err
}

// Save uploads data under key, namespaced beneath the configured prefix.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	objKey := s.objectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}

func (s *Store) objectKey(key string) string {
	if s.prefix != "" {
		return s.prefix + "/bad-lines/" + key
	}
	return "bad-lines/" + key
}
