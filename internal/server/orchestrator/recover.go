package orchestrator

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// RecoveryReport summarizes one Recover pass.
type RecoveryReport struct {
	// Resubmitted counts archives handed back to the job queue.
	Resubmitted int
	// Skipped counts pending archives owned by a live lease or already queued.
	Skipped int
}

// Recover finds work a crashed or overloaded instance left behind and
// queues it again: archives that are still queued or compressing without a
// live lease, and idle archives whose originals were not removed yet.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	seen := make(map[string]struct{})

	for _, st := range []models.ArchiveState{models.ArchiveQueued, models.ArchiveCompressing} {
		err := o.eachArchive(ctx, st, func(a *models.Archive) error {
			seen[a.ID] = struct{}{}
			owned, err := o.owned(ctx, a.ID)
			if err != nil {
				return err
			}
			if owned {
				rep.Skipped++
				return nil
			}
			if o.submit(ctx, a.ID) {
				rep.Resubmitted++
			}
			return nil
		})
		if err != nil {
			return rep, err
		}
	}

	for _, st := range []models.FileState{models.FileArchiving, models.FileDeleting} {
		err := o.eachFile(ctx, st, func(f *models.File) error {
			if f.ArchiveID == "" {
				return nil
			}
			if _, ok := seen[f.ArchiveID]; ok {
				return nil
			}
			seen[f.ArchiveID] = struct{}{}

			a, err := o.GetArchive(ctx, f.ArchiveID)
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if a.State != models.ArchiveIdle && a.State != models.ArchiveDownloading {
				return nil
			}
			if o.active(a.ID) {
				rep.Skipped++
				return nil
			}
			if o.submit(ctx, a.ID) {
				rep.Resubmitted++
			}
			return nil
		})
		if err != nil {
			return rep, err
		}
	}

	if rep.Resubmitted > 0 {
		o.log.Info(ctx, "recovered pending archives", "resubmitted", rep.Resubmitted, "skipped", rep.Skipped)
	}
	return rep, nil
}

// owned reports whether the archive is already queued here or leased by a
// live job anywhere.
func (o *Orchestrator) owned(ctx context.Context, archiveID string) (bool, error) {
	if o.active(archiveID) {
		return true, nil
	}
	err := o.withRetry(ctx, "get lease", func(ctx context.Context) error {
		_, err := o.leases.Get(ctx, archiveID)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// eachArchive pages through archives in state st. Collecting the ids first
// keeps paging stable while jobs move archives out of st.
func (o *Orchestrator) eachArchive(ctx context.Context, st models.ArchiveState, fn func(*models.Archive) error) error {
	var all []*models.Archive
	p := models.ListParams{Limit: models.MaxListLimit, State: string(st)}
	for {
		var batch []*models.Archive
		err := o.withRetry(ctx, "list archives", func(ctx context.Context) error {
			var err error
			batch, err = o.store.Archives().List(ctx, p)
			return err
		})
		if err != nil {
			return err
		}
		all = append(all, batch...)
		if len(batch) < p.Limit {
			break
		}
		p.Offset += len(batch)
	}
	for _, a := range all {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) eachFile(ctx context.Context, st models.FileState, fn func(*models.File) error) error {
	var all []*models.File
	p := models.ListParams{Limit: models.MaxListLimit, State: string(st)}
	for {
		var batch []*models.File
		err := o.withRetry(ctx, "list files", func(ctx context.Context) error {
			var err error
			batch, err = o.store.Files().List(ctx, p)
			return err
		})
		if err != nil {
			return err
		}
		all = append(all, batch...)
		if len(batch) < p.Limit {
			break
		}
		p.Offset += len(batch)
	}
	for _, f := range all {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
