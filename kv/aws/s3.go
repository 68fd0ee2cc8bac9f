package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yacchi/bettershare/kv"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps each key in the JSON object "<prefix><key>.json".
type S3Store struct {
	base
	bucket string
	prefix string
	client S3API

	clientInit    sync.Once
	clientInitErr error
}

var _ kv.Backend = (*S3Store)(nil)

// S3Option configures an S3Store.
type S3Option func(*S3Store)

func (S3Option) awsStoreOption() {}

// WithS3Client sets the client. This overrides WithAWSConfig.
func WithS3Client(client S3API) S3Option {
	return func(s *S3Store) {
		s.client = client
	}
}

// NewS3Store creates an S3 backend.
//
// Example:
//
//	s := aws.NewS3Store("my-bucket", "bettershare/")
//	s := aws.NewS3Store("my-bucket", "", aws.WithAWSConfig(cfg))
func NewS3Store(bucket, prefix string, opts ...Option) *S3Store {
	s := &S3Store{bucket: bucket, prefix: prefix}
	for _, opt := range opts {
		switch o := opt.(type) {
		case ClientOption:
			o(&s.cfg)
		case S3Option:
			o(s)
		}
	}
	s.base.get = s.Get
	s.init()
	return s
}

// ensureClient creates a default S3 client if one was not provided.
func (s *S3Store) ensureClient(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	s.clientInit.Do(func() {
		cfg, err := loadAWSConfig(ctx, &s.cfg)
		if err != nil {
			s.clientInitErr = err
			return
		}
		s.client = s3.NewFromConfig(cfg)
	})
	return s.clientInitErr
}

// ObjectKey returns the object key that holds key.
func (s *S3Store) ObjectKey(key string) string {
	return s.prefix + key + ".json"
}

// Get implements kv.KeyValueStore.
func (s *S3Store) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, kv.ErrClosed
	}
	if err := s.ensureClient(ctx); err != nil {
		return nil, false, err
	}

	objectKey := s.ObjectKey(key)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get object s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read object body: %w", err)
	}
	v, err := kv.Decode(string(data))
	if err != nil {
		return nil, false, fmt.Errorf("object s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return v, true, nil
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// Set implements kv.KeyValueStore.
func (s *S3Store) Set(ctx context.Context, key string, value any) error {
	n, text, err := s.prepare(ctx, value)
	if err != nil {
		return err
	}
	if err := s.ensureClient(ctx); err != nil {
		return err
	}

	objectKey := s.ObjectKey(key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader([]byte(text)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	s.notifier.Written(key, n)
	return nil
}
