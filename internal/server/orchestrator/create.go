package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/statemachine"
	"github.com/dmitrijs2005/gophzip/internal/server/store"
)

const maxArchiveName = 255

type createOptions struct {
	format models.Format
}

// CreateOption customizes a single CreateArchive call.
type CreateOption func(*createOptions)

// WithFormat overrides the configured archive format.
func WithFormat(f models.Format) CreateOption {
	return func(o *createOptions) { o.format = f }
}

// CreateArchive claims fileIDs for a new archive and queues its
// compression job. Either every file is claimed and the archive exists in
// queued state, or nothing changed.
func (o *Orchestrator) CreateArchive(ctx context.Context, name string, fileIDs []string, opts ...CreateOption) (string, error) {
	co := createOptions{format: o.opts.Format}
	for _, opt := range opts {
		opt(&co)
	}
	if err := validateCreate(name, fileIDs, co.format); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)

	id := o.newID()
	attempt := 0
	err := o.withRetry(ctx, "create archive", func(ctx context.Context) error {
		attempt++
		return o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
			// A failed attempt may still have committed before its reply was lost.
			if attempt > 1 {
				if done, err := archiveExists(ctx, tx, id); err != nil || done {
					return err
				}
			}
			return o.claim(ctx, tx, id, name, fileIDs, co.format)
		})
	})
	if err != nil {
		return "", err
	}

	o.log.Info(ctx, "archive queued", "archive_id", id, "files", len(fileIDs), "format", string(co.format))
	o.submit(ctx, id)
	o.publish(ctx, events.ArchiveQueued, id, map[string]any{"name": name, "file_ids": fileIDs})
	return id, nil
}

func archiveExists(ctx context.Context, tx store.Store, id string) (bool, error) {
	_, err := tx.Archives().Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func validateCreate(name string, fileIDs []string, format models.Format) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return common.NewValidationError("name", "must not be empty")
	}
	if len(name) > maxArchiveName {
		return common.NewValidationError("name", fmt.Sprintf("must be at most %d bytes", maxArchiveName))
	}
	if len(fileIDs) == 0 {
		return common.NewValidationError("file_ids", "must not be empty")
	}
	seen := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		if strings.TrimSpace(id) == "" {
			return common.NewValidationError("file_ids", "must not contain empty ids")
		}
		if _, ok := seen[id]; ok {
			return common.NewValidationError("file_ids", fmt.Sprintf("duplicate id %s", id))
		}
		seen[id] = struct{}{}
	}
	if !format.Valid() {
		return common.NewValidationError("format", fmt.Sprintf("unsupported archive format %q", format))
	}
	return nil
}

// claim runs inside one unit of work. Files are claimed in sorted id order
// so concurrent creations contend in the same order; any failure rolls back
// the claims already made.
func (o *Orchestrator) claim(ctx context.Context, tx store.Store, archiveID, name string, fileIDs []string, format models.Format) error {
	now := o.now()

	sorted := append([]string(nil), fileIDs...)
	sort.Strings(sorted)

	for _, fid := range sorted {
		f, err := tx.Files().Get(ctx, fid)
		if err != nil {
			return err
		}
		next, err := statemachine.ClaimFile(f, archiveID, now)
		if err != nil {
			return err
		}
		if err := tx.Files().CompareAndSwap(ctx, models.FileUploading, next); err != nil {
			return err
		}
	}

	a := &models.Archive{
		ID:         archiveID,
		Name:       name,
		FileIDs:    append([]string(nil), fileIDs...),
		State:      models.ArchiveQueued,
		Format:     format,
		StorageKey: models.ArchiveStorageKey(archiveID, format),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return tx.Archives().Insert(ctx, a)
}
