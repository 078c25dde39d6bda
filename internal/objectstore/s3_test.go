package objectstore_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/objectstore"
	"github.com/systmms/cookieguard/tests/fakes"
)

func newTestS3(t *testing.T, kms string) (*objectstore.S3, *fakes.FakeS3Client) {
	t.Helper()
	fake := fakes.NewFakeS3Client()
	s, err := objectstore.NewS3(context.Background(), objectstore.S3Config{
		Bucket:   "cookie-bucket",
		KMSKeyID: kms,
	}, objectstore.WithS3Client(fake))
	require.NoError(t, err)
	return s, fake
}

func TestNewS3RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := objectstore.NewS3(context.Background(), objectstore.S3Config{}, objectstore.WithS3Client(fakes.NewFakeS3Client()))
	assert.Error(t, err)
}

func TestS3PutAppliesServerSideEncryption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kms     string
		wantSSE s3types.ServerSideEncryption
	}{
		{"aes256 by default", "", s3types.ServerSideEncryptionAes256},
		{"kms when key configured", "alias/cookies", s3types.ServerSideEncryptionAwsKms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, fake := newTestS3(t, tt.kms)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, "credentials/active", []byte("token")))
			obj := fake.Object("credentials/active")
			require.NotNil(t, obj)
			assert.Equal(t, tt.wantSSE, obj.ServerSideEncryption)
			assert.Equal(t, tt.kms, obj.SSEKMSKeyID)

			require.NoError(t, s.Copy(ctx, "credentials/active", "credentials/archive/x"))
			copied := fake.Object("credentials/archive/x")
			require.NotNil(t, copied)
			assert.Equal(t, tt.wantSSE, copied.ServerSideEncryption)
			assert.Equal(t, []byte("token"), copied.Body)
		})
	}
}

func TestS3GetNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestS3(t, "")
	_, err := s.Get(context.Background(), "credentials/backup")
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	err = s.Copy(context.Background(), "credentials/backup", "credentials/active")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	exists, err := s.Exists(context.Background(), "credentials/backup")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3GetAPIError(t *testing.T) {
	t.Parallel()

	s, fake := newTestS3(t, "")
	fake.Errors["credentials/active"] = &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}

	_, err := s.Get(context.Background(), "credentials/active")
	require.Error(t, err)
	assert.False(t, errors.Is(err, objectstore.ErrNotFound))
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestS3ListPaginates(t *testing.T) {
	t.Parallel()

	s, fake := newTestS3(t, "")
	fake.PageSize = 2
	for i := 0; i < 5; i++ {
		fake.AddObject(fmt.Sprintf("credentials/archive/%d", i), []byte("x"))
	}
	fake.AddObject("credentials/active", []byte("y"))

	objects, err := s.List(context.Background(), "credentials/archive/")
	require.NoError(t, err)
	assert.Len(t, objects, 5)
	assert.Equal(t, 3, fake.CallCount("ListObjectsV2"))
	assert.Equal(t, "credentials/archive/0", objects[0].Key)
}

func TestS3DeleteAndExists(t *testing.T) {
	t.Parallel()

	s, fake := newTestS3(t, "")
	fake.AddObject("credentials/archive/old", []byte("x"))
	ctx := context.Background()

	exists, err := s.Exists(ctx, "credentials/archive/old")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "credentials/archive/old"))
	assert.Nil(t, fake.Object("credentials/archive/old"))
}

func TestS3Versioning(t *testing.T) {
	t.Parallel()

	s, fake := newTestS3(t, "")
	status, err := s.Versioning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Disabled", status)

	fake.VersioningStatus = s3types.BucketVersioningStatusEnabled
	status, err = s.Versioning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Enabled", status)
}

func TestS3ThrottleHonorsContext(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeS3Client()
	s, err := objectstore.NewS3(context.Background(), objectstore.S3Config{
		Bucket:         "b",
		RequestsPerSec: 0.001,
	}, objectstore.WithS3Client(fake))
	require.NoError(t, err)

	// first call consumes the only token
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Get(ctx, "k")
	assert.Error(t, err)
	assert.Equal(t, 0, fake.CallCount("GetObject"))
}

func TestS3FailedRequestsAreNotRetried(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>SlowDown</Code><Message>Please reduce your request rate.</Message></Error>`))
	}))
	t.Cleanup(srv.Close)

	s, err := objectstore.NewS3(context.Background(), objectstore.S3Config{
		Bucket:          "cookie-bucket",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func(ctx context.Context) error
	}{
		{"get", func(ctx context.Context) error {
			_, err := s.Get(ctx, "credentials/active")
			return err
		}},
		{"put", func(ctx context.Context) error {
			return s.Put(ctx, "credentials/active", []byte("token"))
		}},
		{"copy", func(ctx context.Context) error {
			return s.Copy(ctx, "credentials/active", "credentials/backup")
		}},
	}

	// subtests share the request counter, so they run in order
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			before := requests.Load()
			start := time.Now()
			err := tt.call(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SlowDown")
			assert.Equal(t, int64(1), requests.Load()-before)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}
