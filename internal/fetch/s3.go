package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
)

// S3GetClient abstracts the S3 GetObject operation for testability.
type S3GetClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads objects from a bucket, optionally under a key prefix.
type S3 struct {
	client S3GetClient
	bucket string
	prefix string
}

// NewS3 connects anonymously; the AirNow and NOAA archives are public.
func NewS3(ctx context.Context, region, bucket, prefix string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3WithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewS3WithClient(client S3GetClient, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	full := joinKey(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isMissing(err) {
			metrics.RemoteGetsTotal.WithLabelValues("s3", "not_found").Inc()
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, full, ErrNotFound)
		}
		metrics.RemoteGetsTotal.WithLabelValues("s3", "error").Inc()
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, full, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, full, err)
	}
	metrics.RemoteGetsTotal.WithLabelValues("s3", "ok").Inc()
	return data, nil
}

func isMissing(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "AccessDenied":
			// anonymous reads of a missing key surface as AccessDenied
			return true
		}
	}
	return false
}
