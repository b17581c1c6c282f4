package leases

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_ExpiryHandsOver(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository(func() time.Time { return now })
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "a1", "w1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = repo.Acquire(ctx, "a1", "w2", 10*time.Second)
	assert.False(t, ok)

	now = now.Add(11 * time.Second)
	_, err = repo.Get(ctx, "a1")
	assert.ErrorIs(t, err, common.ErrNotFound, "expired lease is not live")

	ok, _ = repo.Acquire(ctx, "a1", "w2", 10*time.Second)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, repo.Release(ctx, "a1", "w1"))
	l, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "w2", l.Owner)
}
