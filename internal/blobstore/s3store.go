package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	errMissingS3Client = errors.New("blobstore: s3 client is required")
	errMissingBucket   = errors.New("blobstore: bucket is required")
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3StoreConfig configures an S3-backed store.
type S3StoreConfig struct {
	Client        S3API
	Bucket        string
	PublicBaseURL string
}

// S3Store keeps blobs in a single bucket, one key prefix per namespace.
type S3Store struct {
	client  S3API
	bucket  string
	baseURL string
}

func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, errMissingS3Client
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	return &S3Store{client: cfg.Client, bucket: bucket, baseURL: baseURL}, nil
}

// NewS3Client loads the default AWS credential chain. A non-empty endpoint
// switches to path-style addressing for S3-compatible services.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	options := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Store) Upload(ctx context.Context, namespace Namespace, objectPath string, data []byte, contentType string) error {
	if err := validateObjectPath(objectPath); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(namespace, objectPath)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("blobstore: put object: %w", err)
	}
	return nil
}

func (s *S3Store) PublicURL(namespace Namespace, objectPath string) string {
	return joinPublicURL(s.baseURL, namespace, objectPath)
}

func (s *S3Store) ObjectPath(namespace Namespace, publicURL string) (string, error) {
	return splitPublicURL(s.baseURL, namespace, publicURL)
}

func (s *S3Store) Delete(ctx context.Context, namespace Namespace, objectPath string) error {
	if err := validateObjectPath(objectPath); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(namespace, objectPath)),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete object: %w", err)
	}
	return nil
}

func objectKey(namespace Namespace, objectPath string) string {
	return string(namespace) + "/" + objectPath
}
