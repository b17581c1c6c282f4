package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/store"
)

// Download is a served archive blob.
type Download struct {
	Archive     *models.Archive
	Data        []byte
	ContentType string
	Filename    string
}

func (o *Orchestrator) GetArchive(ctx context.Context, id string) (*models.Archive, error) {
	var a *models.Archive
	err := o.withRetry(ctx, "get archive", func(ctx context.Context) error {
		var err error
		a, err = o.store.Archives().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o.present(a), nil
}

func (o *Orchestrator) ListArchives(ctx context.Context, p models.ListParams) ([]*models.Archive, error) {
	if p.State != "" && !models.ArchiveState(p.State).Valid() {
		return nil, common.NewValidationError("state", fmt.Sprintf("unknown archive state %q", p.State))
	}
	if p.Offset < 0 {
		return nil, common.NewValidationError("offset", "must not be negative")
	}

	filter := p.Normalized()
	if filter.State == string(models.ArchiveDownloading) {
		return o.listDownloading(ctx, filter)
	}

	var out []*models.Archive
	err := o.withRetry(ctx, "list archives", func(ctx context.Context) error {
		var err error
		out, err = o.store.Archives().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, a := range out {
		out[i] = o.present(a)
	}
	return out, nil
}

// listDownloading pages over idle archives, since downloading is never
// persisted, and applies offset and limit to the ones with downloads in
// flight.
func (o *Orchestrator) listDownloading(ctx context.Context, p models.ListParams) ([]*models.Archive, error) {
	out := []*models.Archive{}
	skip := p.Offset
	err := o.eachArchive(ctx, models.ArchiveIdle, func(a *models.Archive) error {
		if len(out) == p.Limit {
			return nil
		}
		a = o.present(a)
		if a.State != models.ArchiveDownloading {
			return nil
		}
		if skip > 0 {
			skip--
			return nil
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadArchive returns the compressed blob of an idle archive. The
// archive counts as downloading while the blob is read.
func (o *Orchestrator) DownloadArchive(ctx context.Context, id string) (*Download, error) {
	var a *models.Archive
	err := o.withRetry(ctx, "get archive", func(ctx context.Context) error {
		var err error
		a, err = o.store.Archives().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a.State != models.ArchiveIdle {
		return nil, &common.PreconditionError{Kind: "archive", ID: id, Required: string(models.ArchiveIdle), Actual: string(a.State)}
	}

	o.downloads.begin(id)
	defer o.downloads.end(id)

	var data []byte
	err = o.withRetry(ctx, "read archive", func(ctx context.Context) error {
		var err error
		data, err = o.blobs.Get(ctx, a.StorageKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", id, err)
	}
	if a.Size != nil && *a.Size != int64(len(data)) {
		return nil, fmt.Errorf("archive %s blob is %d bytes, recorded size is %d", id, len(data), *a.Size)
	}

	if err := o.store.Archives().IncrementDownloadCount(ctx, id); err != nil {
		o.log.Warn(ctx, "download count not updated", "archive_id", id, "error", err)
	} else {
		a.DownloadCount++
	}
	o.publish(ctx, events.ArchiveDownloaded, id, map[string]any{"size": len(data)})

	return &Download{
		Archive:     a,
		Data:        data,
		ContentType: a.Format.ContentType(),
		Filename:    downloadName(a),
	}, nil
}

func downloadName(a *models.Archive) string {
	name := sanitizeFilename(a.Name)
	if name == "" {
		name = "archive"
	}
	ext := "." + string(a.Format)
	if strings.HasSuffix(strings.ToLower(name), ext) {
		return name
	}
	return name + ext
}

// DeleteArchive removes a finished archive: its blob, its record and any
// member files left in failed state. Archives still being compressed or
// downloaded cannot be deleted.
func (o *Orchestrator) DeleteArchive(ctx context.Context, id string) error {
	a, err := o.GetArchive(ctx, id)
	if err != nil {
		return err
	}
	if a.State != models.ArchiveIdle && a.State != models.ArchiveFailed {
		return &common.PreconditionError{Kind: "archive", ID: id, Required: "idle or failed", Actual: string(a.State)}
	}

	log := o.log.With("archive_id", id)
	if a.State == models.ArchiveIdle {
		if err := o.finalizeFiles(ctx, a, log); err != nil {
			return err
		}
	}

	var removed []*models.File
	err = o.withRetry(ctx, "delete archive", func(ctx context.Context) error {
		removed = removed[:0]
		return o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
			cur, err := tx.Archives().Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.State != models.ArchiveIdle && cur.State != models.ArchiveFailed {
				return &common.PreconditionError{Kind: "archive", ID: id, Required: "idle or failed", Actual: string(cur.State)}
			}
			for _, fid := range cur.FileIDs {
				f, err := tx.Files().Get(ctx, fid)
				if errors.Is(err, common.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if f.ArchiveID != id || f.State != models.FileFailed {
					continue
				}
				if err := tx.Files().Delete(ctx, fid); err != nil {
					return err
				}
				removed = append(removed, f)
			}
			return tx.Archives().Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}

	// Records are gone; leftover payloads are only garbage.
	keys := []string{a.StorageKey}
	for _, f := range removed {
		keys = append(keys, f.StorageKey)
	}
	for _, key := range keys {
		err := o.withRetry(ctx, "delete blob", func(ctx context.Context) error {
			return o.blobs.Delete(ctx, key)
		})
		if err != nil {
			log.Warn(ctx, "blob not deleted", "key", key, "error", err)
		}
	}

	log.Info(ctx, "archive deleted", "failed_files_removed", len(removed))
	o.publish(ctx, events.ArchiveDeleted, id, nil)
	return nil
}
