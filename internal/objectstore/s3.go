package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// S3ClientAPI defines the S3 operations used by the backend.
// This allows for fakes in tests.
type S3ClientAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetBucketVersioning(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
}

// S3Config configures the S3 backend
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional custom endpoint for MinIO or LocalStack
	AccessKeyID     string
	SecretAccessKey string
	KMSKeyID        string // aws:kms encryption when set, AES256 otherwise
	RequestsPerSec  float64
}

// S3 stores objects in a bucket with server-side encryption on every write
type S3 struct {
	client   S3ClientAPI
	bucket   string
	kmsKeyID string
	limiter  *rate.Limiter
}

// S3Option is a functional option for the S3 backend
type S3Option func(*S3)

// WithS3Client sets a custom S3 client (for testing)
func WithS3Client(client S3ClientAPI) S3Option {
	return func(s *S3) {
		s.client = client
	}
}

// NewS3 creates an S3 backend. Without WithS3Client the default AWS credential chain is used,
// optionally overridden by static keys.
func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		burst = int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	s := &S3{
		bucket:   cfg.Bucket,
		kmsKeyID: cfg.KMSKeyID,
		limiter:  rate.NewLimiter(limit, burst),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var configOpts []func(*config.LoadOptions) error
		configOpts = append(configOpts, config.WithRegion(region))

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		endpoint := cfg.Endpoint
		s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// failures surface after one attempt; the manager's fallback chain decides what is next
			o.Retryer = aws.NopRetryer{}
			if endpoint != "" {
				o.BaseEndpoint = &endpoint
				o.UsePathStyle = true
			}
		})
	}

	return s, nil
}

// Name returns the backend name
func (s *S3) Name() string {
	return "s3://" + s.bucket
}

// Get downloads an object
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.handleError(err, key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Put uploads an object with server-side encryption
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = s.encryption()

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.handleError(err, key)
	}
	return nil
}

// Copy performs a server-side copy, re-applying the encryption settings to dst
func (s *S3) Copy(ctx context.Context, src, dst string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(s.bucket + "/" + src),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = s.encryption()

	if _, err := s.client.CopyObject(ctx, input); err != nil {
		return s.handleError(err, src)
	}
	return nil
}

// Delete removes an object
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.handleError(err, key)
	}
	return nil
}

// List returns every object under prefix, following continuation tokens
func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.handleError(err, prefix)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Exists checks for an object without downloading it
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.handleError(err, key)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Versioning reports the bucket versioning status: Enabled, Suspended or Disabled
func (s *S3) Versioning(ctx context.Context) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := s.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return "", s.handleError(err, "")
	}
	if out.Status == "" {
		return "Disabled", nil
	}
	return string(out.Status), nil
}

func (s *S3) encryption() (types.ServerSideEncryption, *string) {
	if s.kmsKeyID != "" {
		return types.ServerSideEncryptionAwsKms, aws.String(s.kmsKeyID)
	}
	return types.ServerSideEncryptionAes256, nil
}

// handleError maps S3 errors to backend errors
func (s *S3) handleError(err error, key string) error {
	if isNotFoundError(err) {
		return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 %s on s3://%s/%s: %s: %w", apiErr.ErrorCode(), s.bucket, key, apiErr.ErrorMessage(), err)
	}
	return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
