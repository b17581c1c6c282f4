package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/archives"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/files"
)

// FaultHook is consulted before every repository operation of a Memory
// store. A non-nil result fails the operation without touching data.
type FaultHook func(op, id string) error

// Memory is an in-process Store. InTx holds the store lock for the whole
// unit and restores a snapshot when fn fails.
type Memory struct {
	mu       sync.Mutex
	files    map[string]*models.File
	archives map[string]*models.Archive
	hook     FaultHook
}

func NewMemory() *Memory {
	return &Memory{
		files:    make(map[string]*models.File),
		archives: make(map[string]*models.Archive),
	}
}

// SetFaultHook installs h; nil removes it.
func (m *Memory) SetFaultHook(h FaultHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

func (m *Memory) Files() files.Repository       { return &memFiles{m: m} }
func (m *Memory) Archives() archives.Repository { return &memArchives{m: m} }

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("begin", ""); err != nil {
		return err
	}

	snapFiles, snapArchives := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.files, m.archives = snapFiles, snapArchives
		return err
	}
	if err := m.fault("commit", ""); err != nil {
		m.files, m.archives = snapFiles, snapArchives
		return err
	}
	return nil
}

func (m *Memory) snapshot() (map[string]*models.File, map[string]*models.Archive) {
	fs := make(map[string]*models.File, len(m.files))
	for k, v := range m.files {
		fs[k] = v.Clone()
	}
	as := make(map[string]*models.Archive, len(m.archives))
	for k, v := range m.archives {
		as[k] = v.Clone()
	}
	return fs, as
}

func (m *Memory) fault(op, id string) error {
	if m.hook == nil {
		return nil
	}
	return m.hook(op, id)
}

// lock runs fn under the store lock unless the caller already holds it.
func (m *Memory) lock(held bool, fn func() error) error {
	if !held {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn()
}

type memTx struct {
	m *Memory
}

func (t *memTx) Files() files.Repository       { return &memFiles{m: t.m, held: true} }
func (t *memTx) Archives() archives.Repository { return &memArchives{m: t.m, held: true} }

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

type memFiles struct {
	m    *Memory
	held bool
}

func (r *memFiles) Insert(_ context.Context, f *models.File) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("files.insert", f.ID); err != nil {
			return err
		}
		if _, ok := r.m.files[f.ID]; ok {
			return common.NewConflictError("file", f.ID, "already exists")
		}
		r.m.files[f.ID] = f.Clone()
		return nil
	})
}

func (r *memFiles) Get(_ context.Context, id string) (out *models.File, err error) {
	err = r.m.lock(r.held, func() error {
		if err := r.m.fault("files.get", id); err != nil {
			return err
		}
		f, ok := r.m.files[id]
		if !ok {
			return common.NewNotFoundError("file", id)
		}
		out = f.Clone()
		return nil
	})
	return out, err
}

func (r *memFiles) CompareAndSwap(_ context.Context, expected models.FileState, f *models.File) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("files.cas", f.ID); err != nil {
			return err
		}
		cur, ok := r.m.files[f.ID]
		if !ok || cur.State != expected || (cur.ArchiveID != "" && cur.ArchiveID != f.ArchiveID) {
			return common.NewConflictError("file", f.ID, "no longer "+string(expected))
		}
		next := cur.Clone()
		next.State = f.State
		next.ArchiveID = f.ArchiveID
		next.ErrorMessage = f.ErrorMessage
		next.UpdatedAt = f.UpdatedAt
		r.m.files[f.ID] = next
		return nil
	})
}

func (r *memFiles) Delete(_ context.Context, id string) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("files.delete", id); err != nil {
			return err
		}
		if _, ok := r.m.files[id]; !ok {
			return common.NewNotFoundError("file", id)
		}
		delete(r.m.files, id)
		return nil
	})
}

func (r *memFiles) List(_ context.Context, p models.ListParams) (out []*models.File, err error) {
	p = p.Normalized()
	err = r.m.lock(r.held, func() error {
		if err := r.m.fault("files.list", ""); err != nil {
			return err
		}
		all := make([]*models.File, 0, len(r.m.files))
		for _, f := range r.m.files {
			if p.State == "" || string(f.State) == p.State {
				all = append(all, f.Clone())
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}
			return all[i].ID < all[j].ID
		})
		out = page(all, p)
		return nil
	})
	return out, err
}

type memArchives struct {
	m    *Memory
	held bool
}

func (r *memArchives) Insert(_ context.Context, a *models.Archive) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.insert", a.ID); err != nil {
			return err
		}
		if _, ok := r.m.archives[a.ID]; ok {
			return common.NewConflictError("archive", a.ID, "already exists")
		}
		r.m.archives[a.ID] = a.Clone()
		return nil
	})
}

func (r *memArchives) Get(_ context.Context, id string) (out *models.Archive, err error) {
	err = r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.get", id); err != nil {
			return err
		}
		a, ok := r.m.archives[id]
		if !ok {
			return common.NewNotFoundError("archive", id)
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r *memArchives) CompareAndSwap(_ context.Context, expected models.ArchiveState, a *models.Archive) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.cas", a.ID); err != nil {
			return err
		}
		cur, ok := r.m.archives[a.ID]
		if !ok || cur.State != expected {
			return common.NewConflictError("archive", a.ID, "no longer "+string(expected))
		}
		next := cur.Clone()
		src := a.Clone()
		next.State = src.State
		next.Size = src.Size
		next.ErrorMessage = src.ErrorMessage
		next.UpdatedAt = src.UpdatedAt
		next.CompletedAt = src.CompletedAt
		r.m.archives[a.ID] = next
		return nil
	})
}

func (r *memArchives) Delete(_ context.Context, id string) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.delete", id); err != nil {
			return err
		}
		if _, ok := r.m.archives[id]; !ok {
			return common.NewNotFoundError("archive", id)
		}
		delete(r.m.archives, id)
		return nil
	})
}

func (r *memArchives) List(_ context.Context, p models.ListParams) (out []*models.Archive, err error) {
	p = p.Normalized()
	err = r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.list", ""); err != nil {
			return err
		}
		all := make([]*models.Archive, 0, len(r.m.archives))
		for _, a := range r.m.archives {
			if p.State == "" || string(a.State) == p.State {
				all = append(all, a.Clone())
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}
			return all[i].ID < all[j].ID
		})
		out = page(all, p)
		return nil
	})
	return out, err
}

func (r *memArchives) IncrementDownloadCount(_ context.Context, id string) error {
	return r.m.lock(r.held, func() error {
		if err := r.m.fault("archives.increment", id); err != nil {
			return err
		}
		cur, ok := r.m.archives[id]
		if !ok || cur.State != models.ArchiveIdle {
			return common.NewConflictError("archive", id, "not idle")
		}
		cur.DownloadCount++
		return nil
	})
}

func page[T any](all []T, p models.ListParams) []T {
	if p.Offset >= len(all) {
		return make([]T, 0)
	}
	end := p.Offset + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[p.Offset:end]
}
