package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the object storage settings for avatars.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // optional, for MinIO and other S3-compatible services
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // prefix of the URLs handed to clients
	KeyPrefix     string
}

// S3AvatarStore uploads avatars to an S3 bucket.
type S3AvatarStore struct {
	client        *s3.Client
	bucket        string
	keyPrefix     string
	publicBaseURL string
}

// NewS3AvatarStore builds an S3 client from cfg.
func NewS3AvatarStore(ctx context.Context, cfg S3Config) (*S3AvatarStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket cannot be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3AvatarStore{
		client:        client,
		bucket:        cfg.Bucket,
		keyPrefix:     strings.Trim(cfg.KeyPrefix, "/"),
		publicBaseURL: base,
	}, nil
}

// Save uploads body as key and returns its public URL.
func (s *S3AvatarStore) Save(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error) {
	objectKey := key
	if s.keyPrefix != "" {
		objectKey = s.keyPrefix + "/" + key
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}
	return s.publicBaseURL + "/" + objectKey, nil
}
