// Package leases provides single-owner job leases keyed by archive id.
package leases

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// Repository hands out expiring leases. Acquire by the current owner
// extends the lease, which is how heartbeats renew it.
type Repository interface {
	// Acquire reports whether owner now holds archiveID for ttl.
	Acquire(ctx context.Context, archiveID, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, archiveID, owner string) error
	// Get returns the live lease or a NotFoundError.
	Get(ctx context.Context, archiveID string) (*models.Lease, error)
}
