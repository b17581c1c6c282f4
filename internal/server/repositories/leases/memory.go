package leases

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// MemoryRepository is a process-local lease table for single-instance
// deployments and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	leases map[string]models.Lease
	now    func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{leases: make(map[string]models.Lease), now: now}
}

func (r *MemoryRepository) Acquire(_ context.Context, archiveID, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cur, ok := r.leases[archiveID]; ok && cur.Owner != owner && cur.ExpiresAt.After(now) {
		return false, nil
	}
	r.leases[archiveID] = models.Lease{ArchiveID: archiveID, Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryRepository) Release(_ context.Context, archiveID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.leases[archiveID]; ok && cur.Owner == owner {
		delete(r.leases, archiveID)
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, archiveID string) (*models.Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.leases[archiveID]
	if !ok || !cur.ExpiresAt.After(r.now()) {
		return nil, common.NewNotFoundError("lease", archiveID)
	}
	return &cur, nil
}
