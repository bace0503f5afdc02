package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Presigner signs GET requests.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStore stores receipt files in S3.
type ObjectStore struct {
	api     S3API
	presign S3Presigner
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
}

// NewObjectStore creates an ObjectStore.
func NewObjectStore(api S3API, presign S3Presigner, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ObjectStore {
	return &ObjectStore{api: api, presign: presign, cb: cb, cfg: cfg}
}

// NewS3ObjectStore builds an ObjectStore on an AWS config.
func NewS3ObjectStore(awsCfg aws.Config, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ObjectStore {
	api := s3.NewFromConfig(awsCfg)
	return NewObjectStore(api, s3.NewPresignClient(api), cb, cfg)
}

// Put uploads body under key. The body is buffered so retries can resend it.
func (s *ObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) (string, error) {
	ctx, span := tracer.Start(ctx, "ObjectStore.Put")
	defer span.End()
	span.SetAttributes(attribute.String("s3.bucket", bucket), attribute.String("s3.key", key))

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading upload body: %w", err)
	}
	return resilience.Execute(ctx, s.cb, s.cfg, "s3", func(ctx context.Context) (string, error) {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
			Metadata:      metadata,
		})
		if err != nil {
			return "", err
		}
		return key, nil
	})
}

// PresignedURL returns a GET URL valid for ttl.
func (s *ObjectStore) PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "ObjectStore.PresignedURL")
	defer span.End()

	return resilience.Execute(ctx, s.cb, s.cfg, "s3", func(ctx context.Context) (string, error) {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	})
}
