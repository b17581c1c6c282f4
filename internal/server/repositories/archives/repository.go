// Package archives persists Archive records.
package archives

import (
	"context"

	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// Repository is the metadata-store contract for archives.
type Repository interface {
	Insert(ctx context.Context, a *models.Archive) error
	Get(ctx context.Context, id string) (*models.Archive, error)
	// CompareAndSwap replaces the mutable fields of a.ID only if the stored
	// state equals expected. A lost race yields a ConflictError.
	CompareAndSwap(ctx context.Context, expected models.ArchiveState, a *models.Archive) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, p models.ListParams) ([]*models.Archive, error)
	// IncrementDownloadCount bumps the counter of an idle archive.
	IncrementDownloadCount(ctx context.Context, id string) error
}
