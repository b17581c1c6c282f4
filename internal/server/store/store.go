// Package store is the metadata store used by the orchestrator: File and
// Archive repositories plus a unit-of-work that commits all or nothing.
package store

import (
	"context"

	"github.com/dmitrijs2005/gophzip/internal/server/repositories/archives"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/files"
)

// Store gives access to the repositories. Inside InTx, fn receives a Store
// whose repositories share one transaction; if fn returns an error nothing
// it wrote is kept.
type Store interface {
	Files() files.Repository
	Archives() archives.Repository
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
