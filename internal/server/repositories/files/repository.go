// Package files persists File records.
package files

import (
	"context"

	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// Repository is the metadata-store contract for files.
type Repository interface {
	// Insert stores a new file. A duplicate id yields a ConflictError.
	Insert(ctx context.Context, f *models.File) error
	// Get returns the file or a NotFoundError.
	Get(ctx context.Context, id string) (*models.File, error)
	// CompareAndSwap replaces the mutable fields of f.ID only if the stored
	// state equals expected and the stored archive id is unset or equal to
	// f.ArchiveID. A lost race yields a ConflictError.
	CompareAndSwap(ctx context.Context, expected models.FileState, f *models.File) error
	// Delete removes the record or returns a NotFoundError.
	Delete(ctx context.Context, id string) error
	// List pages through files ordered by creation time.
	List(ctx context.Context, p models.ListParams) ([]*models.File, error)
}
