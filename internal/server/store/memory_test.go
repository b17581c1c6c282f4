package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedFile(t *testing.T, s Store, id string, created time.Time) {
	t.Helper()
	require.NoError(t, s.Files().Insert(context.Background(), &models.File{
		ID: id, Filename: id + ".txt", State: models.FileUploading, StorageKey: models.FileStorageKey(id),
		CreatedAt: created, UpdatedAt: created,
	}))
}

func TestMemory_InTxRollsBackOnError(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f1", t0)

	err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
		f, err := tx.Files().Get(ctx, "f1")
		require.NoError(t, err)
		f.State = models.FileArchiving
		f.ArchiveID = "a1"
		require.NoError(t, tx.Files().CompareAndSwap(ctx, models.FileUploading, f))
		require.NoError(t, tx.Archives().Insert(ctx, &models.Archive{ID: "a1", State: models.ArchiveQueued}))
		return errors.New("later step failed")
	})
	require.Error(t, err)

	f, err := s.Files().Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileUploading, f.State)
	assert.Empty(t, f.ArchiveID)

	_, err = s.Archives().Get(ctx, "a1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemory_CommitFaultRollsBack(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	s.SetFaultHook(func(op, id string) error {
		if op == "commit" {
			return common.Transient("commit", errors.New("connection reset"))
		}
		return nil
	})

	err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.Archives().Insert(ctx, &models.Archive{ID: "a1"})
	})
	assert.True(t, common.IsTransient(err))

	s.SetFaultHook(nil)
	_, err = s.Archives().Get(ctx, "a1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemory_CompareAndSwap_SingleWinner(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f1", t0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &models.File{ID: "f1", State: models.FileArchiving, ArchiveID: string(rune('a' + i))}
			if s.Files().CompareAndSwap(ctx, models.FileUploading, next) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemory_CompareAndSwap_ArchiveIDImmutable(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f1", t0)

	require.NoError(t, s.Files().CompareAndSwap(ctx, models.FileUploading,
		&models.File{ID: "f1", State: models.FileArchiving, ArchiveID: "a1"}))

	err := s.Files().CompareAndSwap(ctx, models.FileArchiving,
		&models.File{ID: "f1", State: models.FileFailed, ArchiveID: "a2"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f1", t0)

	f, err := s.Files().Get(ctx, "f1")
	require.NoError(t, err)
	f.State = models.FileDeleted

	again, err := s.Files().Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileUploading, again.State)
}

func TestMemory_ListPagingAndFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f3", t0.Add(2*time.Second))
	seedFile(t, s, "f1", t0)
	seedFile(t, s, "f2", t0.Add(time.Second))

	all, err := s.Files().List(ctx, models.ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"f1", "f2", "f3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pageTwo, err := s.Files().List(ctx, models.ListParams{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, pageTwo, 1)
	assert.Equal(t, "f3", pageTwo[0].ID)

	beyond, err := s.Files().List(ctx, models.ListParams{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	none, err := s.Files().List(ctx, models.ListParams{State: string(models.FileFailed)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_IncrementDownloadCount(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Archives().Insert(ctx, &models.Archive{ID: "a1", State: models.ArchiveIdle}))
	require.NoError(t, s.Archives().Insert(ctx, &models.Archive{ID: "a2", State: models.ArchiveQueued}))

	require.NoError(t, s.Archives().IncrementDownloadCount(ctx, "a1"))
	require.NoError(t, s.Archives().IncrementDownloadCount(ctx, "a1"))
	assert.ErrorIs(t, s.Archives().IncrementDownloadCount(ctx, "a2"), common.ErrConflict)

	a, err := s.Archives().Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.DownloadCount)
}

func TestMemory_FaultHookTargetsOperation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedFile(t, s, "f1", t0)

	s.SetFaultHook(func(op, id string) error {
		if op == "files.get" && id == "f1" {
			return common.Transient("get", errors.New("timeout"))
		}
		return nil
	})

	_, err := s.Files().Get(ctx, "f1")
	assert.True(t, common.IsTransient(err))

	_, err = s.Files().List(ctx, models.ListParams{})
	assert.NoError(t, err)
}
