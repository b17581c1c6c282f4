package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(b)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.delErr != nil {
		return nil, f.delErr
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func withFakeS3(t *testing.T, fake *fakeS3) *s3.Options {
	t.Helper()
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew
	})

	applied := &s3.Options{}
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		applied.Region = cfg.Region
		for _, fn := range optFns {
			fn(applied)
		}
		return fake
	}
	return applied
}

func TestS3_RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	applied := withFakeS3(t, fake)
	ctx := context.Background()

	s, err := NewS3(ctx, S3Options{Region: "us-east-1", Bucket: "archives", BaseEndpoint: "http://127.0.0.1:9000/"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", applied.Region)
	assert.Equal(t, "http://127.0.0.1:9000/", aws.ToString(applied.BaseEndpoint))
	assert.True(t, applied.UsePathStyle)

	require.NoError(t, s.Put(ctx, "files/f1", []byte("abc"), "text/plain"))
	got, err := s.Get(ctx, "files/f1")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	require.NoError(t, s.Delete(ctx, "files/f1"))
	_, err = s.Get(ctx, "files/f1")
	assert.True(t, IsNotFound(err))
}

func TestNewS3_ConfigError(t *testing.T) {
	withFakeS3(t, &fakeS3{})
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no region")
	}

	_, err := NewS3(context.Background(), S3Options{})
	assert.ErrorContains(t, err, "no region")
}

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("status"),
		},
	}
}

func TestClassifyS3(t *testing.T) {
	assert.NoError(t, classifyS3("op", "k", nil))
	assert.True(t, IsNotFound(classifyS3("op", "k", &types.NoSuchKey{})))
	assert.True(t, IsNotFound(classifyS3("op", "k", &smithy.GenericAPIError{Code: "NotFound"})))
	assert.True(t, common.IsTransient(classifyS3("op", "k", responseError(503))))
	assert.True(t, common.IsTransient(classifyS3("op", "k", responseError(429))))
	assert.False(t, common.IsTransient(classifyS3("op", "k", responseError(403))))
	assert.False(t, common.IsTransient(classifyS3("op", "k", context.Canceled)))
	assert.True(t, common.IsTransient(classifyS3("op", "k", errors.New("dial tcp: connection refused"))))
}

func TestS3_DeleteMissingIsOK(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, delErr: &smithy.GenericAPIError{Code: "NoSuchKey"}}
	withFakeS3(t, fake)

	s, err := NewS3(context.Background(), S3Options{Bucket: "b"})
	require.NoError(t, err)
	assert.NoError(t, s.Delete(context.Background(), "gone"))
}
