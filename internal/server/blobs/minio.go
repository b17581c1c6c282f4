package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures the MinIO backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type minioAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// getMinioObject is a seam: *minio.Object cannot be built outside the SDK.
var getMinioObject = func(ctx context.Context, c *minio.Client, bucket, key string) (io.ReadCloser, error) {
	return c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// Minio stores blobs in a MinIO bucket, creating it on start.
type Minio struct {
	client minioAPI
	raw    *minio.Client
	bucket string
}

func NewMinio(ctx context.Context, opts MinioOptions) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	m := &Minio{client: client, raw: client, bucket: opts.Bucket}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return classifyMinio("bucket exists", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return classifyMinio("make bucket", m.bucket, err)
	}
	return nil
}

func (m *Minio) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return classifyMinio("put object", key, err)
}

func (m *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := getMinioObject(ctx, m.raw, m.bucket, key)
	if err != nil {
		return nil, classifyMinio("get object", key, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinio("read object", key, err)
	}
	return b, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	err := classifyMinio("remove object", key, m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
	if IsNotFound(err) {
		return nil
	}
	return err
}

func classifyMinio(op, key string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return notFound(key)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case resp.StatusCode != 0 && resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, err)
	default:
		return common.Transient(op, err)
	}
}
