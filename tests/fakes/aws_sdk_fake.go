package fakes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// FakeS3Object is a stored object in FakeS3Client
type FakeS3Object struct {
	Body                 []byte
	ServerSideEncryption s3types.ServerSideEncryption
	SSEKMSKeyID          string
	LastModified         time.Time
}

// FakeS3Client is an in-memory implementation of the S3 operations used by objectstore.S3
type FakeS3Client struct {
	mu sync.Mutex

	// Objects maps keys to stored objects
	Objects map[string]*FakeS3Object
	// Errors maps keys to errors returned by any call on that key
	Errors map[string]error
	// PageSize limits ListObjectsV2 pages so pagination is exercised
	PageSize int
	// VersioningStatus is returned by GetBucketVersioning
	VersioningStatus s3types.BucketVersioningStatus
	// Calls counts operations by name
	Calls map[string]int
}

// NewFakeS3Client creates a new fake S3 client
func NewFakeS3Client() *FakeS3Client {
	return &FakeS3Client{
		Objects:  make(map[string]*FakeS3Object),
		Errors:   make(map[string]error),
		PageSize: 1000,
		Calls:    make(map[string]int),
	}
}

// AddObject stores an object directly
func (f *FakeS3Client) AddObject(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[key] = &FakeS3Object{Body: append([]byte(nil), body...), LastModified: time.Now()}
}

// Object returns a stored object or nil
func (f *FakeS3Client) Object(key string) *FakeS3Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Objects[key]
}

// CallCount returns how many times op was invoked
func (f *FakeS3Client) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *FakeS3Client) record(op, key string) error {
	f.Calls[op]++
	return f.Errors[key]
}

// GetObject mocks the GetObject operation
func (f *FakeS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	if err := f.record("GetObject", key); err != nil {
		return nil, err
	}
	obj, ok := f.Objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), obj.Body...))),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		LastModified:  aws.Time(obj.LastModified),
	}, nil
}

// PutObject mocks the PutObject operation
func (f *FakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	if err := f.record("PutObject", key); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.Objects[key] = &FakeS3Object{
		Body:                 body,
		ServerSideEncryption: params.ServerSideEncryption,
		SSEKMSKeyID:          aws.ToString(params.SSEKMSKeyId),
		LastModified:         time.Now(),
	}
	return &s3.PutObjectOutput{ServerSideEncryption: params.ServerSideEncryption}, nil
}

// CopyObject mocks the CopyObject operation. CopySource is "bucket/key".
func (f *FakeS3Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := aws.ToString(params.CopySource)
	srcKey := source
	if i := strings.Index(source, "/"); i >= 0 {
		srcKey = source[i+1:]
	}
	if err := f.record("CopyObject", srcKey); err != nil {
		return nil, err
	}
	dstKey := aws.ToString(params.Key)
	if err := f.Errors[dstKey]; err != nil {
		return nil, err
	}
	src, ok := f.Objects[srcKey]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	f.Objects[dstKey] = &FakeS3Object{
		Body:                 append([]byte(nil), src.Body...),
		ServerSideEncryption: params.ServerSideEncryption,
		SSEKMSKeyID:          aws.ToString(params.SSEKMSKeyId),
		LastModified:         time.Now(),
	}
	return &s3.CopyObjectOutput{}, nil
}

// DeleteObject mocks the DeleteObject operation. Like S3, deleting a missing key succeeds.
func (f *FakeS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	if err := f.record("DeleteObject", key); err != nil {
		return nil, err
	}
	delete(f.Objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

// HeadObject mocks the HeadObject operation
func (f *FakeS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	if err := f.record("HeadObject", key); err != nil {
		return nil, err
	}
	obj, ok := f.Objects[key]
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Body))),
		LastModified:  aws.Time(obj.LastModified),
	}, nil
}

// ListObjectsV2 mocks the ListObjectsV2 operation with continuation tokens
func (f *FakeS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(params.Prefix)
	if err := f.record("ListObjectsV2", prefix); err != nil {
		return nil, err
	}

	var keys []string
	for k := range f.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		start = sort.SearchStrings(keys, token)
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{
		KeyCount:    aws.Int32(int32(end - start)),
		IsTruncated: aws.Bool(end < len(keys)),
	}
	for _, k := range keys[start:end] {
		obj := f.Objects[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.Body))),
			LastModified: aws.Time(obj.LastModified),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

// GetBucketVersioning mocks the GetBucketVersioning operation
func (f *FakeS3Client) GetBucketVersioning(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetBucketVersioning", ""); err != nil {
		return nil, err
	}
	return &s3.GetBucketVersioningOutput{Status: f.VersioningStatus}, nil
}

// FakeSSMClient is a mock implementation of the SSM GetParameter operation
type FakeSSMClient struct {
	// Parameters maps parameter names to values
	Parameters map[string]string
	// Errors maps parameter names to errors to return
	Errors map[string]error
	// LastDecrypt records the WithDecryption flag of the last call
	LastDecrypt bool
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		Errors:     make(map[string]error),
	}
}

// GetParameter mocks the GetParameter operation
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(params.Name)
	f.LastDecrypt = aws.ToBool(params.WithDecryption)

	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	value, exists := f.Parameters[name]
	if !exists {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(fmt.Sprintf("parameter %s not found", name))}
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  params.Name,
			Type:  ssmtypes.ParameterTypeSecureString,
			Value: aws.String(value),
		},
	}, nil
}

// FakeSecretsManagerClient is a mock implementation of the Secrets Manager GetSecretValue operation
type FakeSecretsManagerClient struct {
	// Secrets maps secret names to string values
	Secrets map[string]string
	// Binary maps secret names to binary values
	Binary map[string][]byte
	// Errors maps secret names to errors to return
	Errors map[string]error
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]string),
		Binary:  make(map[string][]byte),
		Errors:  make(map[string]error),
	}
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	name := aws.ToString(params.SecretId)

	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	if value, ok := f.Secrets[name]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: params.SecretId, SecretString: aws.String(value)}, nil
	}
	if value, ok := f.Binary[name]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: params.SecretId, SecretBinary: value}, nil
	}
	return nil, &smtypes.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

// FakeSTSClient is a mock implementation of the STS GetCallerIdentity operation
type FakeSTSClient struct {
	Account string
	Arn     string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
		UserId:  aws.String("AIDAFAKE"),
	}, nil
}
