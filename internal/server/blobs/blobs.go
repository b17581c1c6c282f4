// Package blobs stores opaque payloads by key: uploaded files and compressed
// archives. Backends are S3, MinIO, a local directory and memory.
package blobs

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophzip/internal/common"
)

// Store is the blob store contract. Get of a missing key returns a
// NotFoundError; Delete of a missing key succeeds. Infrastructure failures
// are reported as TransientStoreError.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func notFound(key string) error {
	return common.NewNotFoundError("blob", key)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
