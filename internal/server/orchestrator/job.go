package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/compression"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/statemachine"
	"github.com/dmitrijs2005/gophzip/internal/server/store"
	"github.com/dustin/go-humanize"
)

var errLeaseLost = errors.New("lease lost")

// RunCompressionJob compresses the archive's files, stores the blob, marks
// the archive idle and removes the originals. A lease makes this instance
// the only runner. Idle and failed archives are not compressed again; for an
// idle archive only leftover originals are removed.
func (o *Orchestrator) RunCompressionJob(ctx context.Context, archiveID string) error {
	log := o.log.With("archive_id", archiveID)

	var acquired bool
	err := o.withRetry(ctx, "acquire lease", func(ctx context.Context) error {
		ok, err := o.leases.Acquire(ctx, archiveID, o.opts.Owner, o.opts.LeaseTTL)
		acquired = ok
		return err
	})
	if err != nil {
		return fmt.Errorf("acquire lease for archive %s: %w", archiveID, err)
	}
	if !acquired {
		return fmt.Errorf("archive %s: %w", archiveID, common.ErrLeaseHeld)
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		o.heartbeat(jobCtx, archiveID, cancel, log)
	}()
	defer func() {
		cancel(nil)
		<-hbDone
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.AttemptTimeout)
		defer rcancel()
		if err := o.leases.Release(rctx, archiveID, o.opts.Owner); err != nil {
			log.Warn(rctx, "lease not released", "error", err)
		}
	}()

	err = o.runJob(jobCtx, archiveID, log)
	if cause := context.Cause(jobCtx); errors.Is(cause, errLeaseLost) && err != nil {
		return fmt.Errorf("archive %s: %w: %w", archiveID, errLeaseLost, err)
	}
	return err
}

// heartbeat renews the lease every TTL/3. When the lease is taken over, or
// cannot be renewed for a whole TTL, the job context is cancelled.
func (o *Orchestrator) heartbeat(ctx context.Context, archiveID string, cancel context.CancelCauseFunc, log logging.Logger) {
	interval := o.opts.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	renewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		actx, acancel := context.WithTimeout(ctx, interval)
		ok, err := o.leases.Acquire(actx, archiveID, o.opts.Owner, o.opts.LeaseTTL)
		acancel()

		switch {
		case err == nil && ok:
			renewed = time.Now()
		case err == nil:
			log.Warn(ctx, "lease taken over, stopping job")
			cancel(errLeaseLost)
			return
		default:
			if ctx.Err() != nil {
				return
			}
			log.Warn(ctx, "lease renewal failed", "error", err)
			if time.Since(renewed) >= o.opts.LeaseTTL {
				cancel(errLeaseLost)
				return
			}
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, archiveID string, log logging.Logger) error {
	var a *models.Archive
	err := o.withRetry(ctx, "load archive", func(ctx context.Context) error {
		var err error
		a, err = o.store.Archives().Get(ctx, archiveID)
		return err
	})
	if err != nil {
		return err
	}

	switch a.State {
	case models.ArchiveFailed:
		log.Debug(ctx, "archive already failed, nothing to do")
		return nil
	case models.ArchiveIdle, models.ArchiveDownloading:
		return o.finalizeFiles(ctx, a, log)
	}

	snapshot, err := o.snapshot(ctx, a)
	if err != nil {
		return o.fail(ctx, a.ID, err, log)
	}

	if a.State == models.ArchiveQueued {
		next, err := statemachine.TransitionArchive(a, models.ArchiveQueued, models.ArchiveCompressing, o.now())
		if err != nil {
			return err
		}
		err = o.withRetry(ctx, "start compression", func(ctx context.Context) error {
			return o.store.Archives().CompareAndSwap(ctx, models.ArchiveQueued, next)
		})
		if err != nil {
			if errors.Is(err, common.ErrConflict) || ctx.Err() != nil {
				return err
			}
			return o.fail(ctx, a.ID, err, log)
		}
		a = next
		o.publish(ctx, events.ArchiveCompressing, a.ID, nil)
	} else {
		log.Info(ctx, "resuming interrupted compression")
	}

	data, err := o.build(ctx, a, snapshot)
	if err != nil {
		return o.fail(ctx, a.ID, err, log)
	}

	done, err := statemachine.CompleteArchive(a, int64(len(data)), o.now())
	if err != nil {
		return o.fail(ctx, a.ID, err, log)
	}
	// The blob is stored, so keep trying to record it rather than fail.
	err = o.untilDone(ctx, "complete archive", func(ctx context.Context) error {
		return o.store.Archives().CompareAndSwap(ctx, models.ArchiveCompressing, done)
	})
	if err != nil {
		return err
	}

	log.Info(ctx, "archive compressed", "size", humanize.Bytes(uint64(len(data))), "files", len(snapshot))
	o.publish(ctx, events.ArchiveCompleted, a.ID, map[string]any{"size": len(data), "format": string(a.Format)})

	return o.finalizeFiles(ctx, done, log)
}

// snapshot loads every member file and checks it is still claimed by a.
func (o *Orchestrator) snapshot(ctx context.Context, a *models.Archive) ([]*models.File, error) {
	out := make([]*models.File, 0, len(a.FileIDs))
	for _, fid := range a.FileIDs {
		var f *models.File
		err := o.withRetry(ctx, "load file", func(ctx context.Context) error {
			var err error
			f, err = o.store.Files().Get(ctx, fid)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("load file %s: %w", fid, err)
		}
		if f.State != models.FileArchiving || f.ArchiveID != a.ID {
			return nil, fmt.Errorf("file %s is %s and not claimed by archive %s", f.ID, f.State, a.ID)
		}
		out = append(out, f)
	}
	return out, nil
}

// build reads the payloads, compresses them and stores the archive blob.
func (o *Orchestrator) build(ctx context.Context, a *models.Archive, files []*models.File) ([]byte, error) {
	engine, ok := o.engines[a.Format]
	if !ok {
		return nil, common.Compression(fmt.Errorf("unsupported archive format %q", a.Format))
	}

	entries := make([]compression.Entry, 0, len(files))
	for _, f := range files {
		var data []byte
		err := o.withRetry(ctx, "read file", func(ctx context.Context) error {
			var err error
			data, err = o.blobs.Get(ctx, f.StorageKey)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", f.ID, err)
		}
		entries = append(entries, compression.Entry{Name: f.Filename, Data: data, ModTime: f.CreatedAt})
	}

	data, err := engine.Compress(ctx, entries)
	if err != nil {
		return nil, err
	}

	err = o.withRetry(ctx, "store archive", func(ctx context.Context) error {
		return o.blobs.Put(ctx, a.StorageKey, data, a.Format.ContentType())
	})
	if err != nil {
		return nil, fmt.Errorf("store archive blob: %w", err)
	}
	return data, nil
}

// finalizeFiles removes the originals of an idle archive. A file is marked
// deleting before its payload and record go away, so a crash in between is
// finished by the next job run.
func (o *Orchestrator) finalizeFiles(ctx context.Context, a *models.Archive, log logging.Logger) error {
	var errs []error
	for _, fid := range a.FileIDs {
		if err := o.finalizeFile(ctx, a.ID, fid); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn(ctx, "original not removed", "file_id", fid, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("finalize archive %s: %w", a.ID, errors.Join(errs...))
	}
	return nil
}

func (o *Orchestrator) finalizeFile(ctx context.Context, archiveID, fileID string) error {
	var f *models.File
	err := o.withRetry(ctx, "load file", func(ctx context.Context) error {
		var err error
		f, err = o.store.Files().Get(ctx, fileID)
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.ArchiveID != archiveID {
		return nil
	}

	switch f.State {
	case models.FileArchiving:
		next, err := statemachine.TransitionFile(f, models.FileArchiving, models.FileDeleting, o.now())
		if err != nil {
			return err
		}
		err = o.withRetry(ctx, "mark file deleting", func(ctx context.Context) error {
			return o.store.Files().CompareAndSwap(ctx, models.FileArchiving, next)
		})
		if err != nil {
			return err
		}
		f = next
	case models.FileDeleting:
	default:
		return nil
	}

	if _, err := statemachine.TransitionFile(f, models.FileDeleting, models.FileDeleted, o.now()); err != nil {
		return err
	}
	err = o.withRetry(ctx, "delete file payload", func(ctx context.Context) error {
		return o.blobs.Delete(ctx, f.StorageKey)
	})
	if err != nil {
		return err
	}
	err = o.withRetry(ctx, "delete file record", func(ctx context.Context) error {
		err := o.store.Files().Delete(ctx, f.ID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	o.publish(ctx, events.FileDeleted, f.ID, map[string]any{"archive_id": archiveID})
	return nil
}

// fail records cause on the archive and its claimed files unless the job
// was cancelled, in which case the work is left for recovery.
func (o *Orchestrator) fail(ctx context.Context, archiveID string, cause error, log logging.Logger) error {
	if ctx.Err() != nil {
		return cause
	}
	return o.markFailed(ctx, archiveID, cause, log)
}

// markFailed moves the archive and every file it still holds in archiving
// to failed with the same message, in one unit of work. It retries until
// the failure is durable or ctx ends.
func (o *Orchestrator) markFailed(ctx context.Context, archiveID string, cause error, log logging.Logger) error {
	msg := cause.Error()
	var failed []string

	err := o.untilDone(ctx, "record failure", func(ctx context.Context) error {
		failed = failed[:0]
		return o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
			now := o.now()
			a, err := tx.Archives().Get(ctx, archiveID)
			if err != nil {
				return err
			}
			if a.State == models.ArchiveFailed {
				return nil
			}
			next, err := statemachine.FailArchive(a, msg, now)
			if err != nil {
				return err
			}
			if err := tx.Archives().CompareAndSwap(ctx, a.State, next); err != nil {
				return err
			}

			for _, fid := range a.FileIDs {
				f, err := tx.Files().Get(ctx, fid)
				if errors.Is(err, common.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if f.ArchiveID != archiveID || f.State != models.FileArchiving {
					continue
				}
				nf, err := statemachine.FailFile(f, msg, now)
				if err != nil {
					return err
				}
				if err := tx.Files().CompareAndSwap(ctx, models.FileArchiving, nf); err != nil {
					return err
				}
				failed = append(failed, fid)
			}
			return nil
		})
	})
	if err != nil {
		log.Error(ctx, "job failure not recorded", "cause", msg, "error", err)
		return fmt.Errorf("record failure of archive %s (%s): %w", archiveID, msg, err)
	}

	log.Warn(ctx, "archive failed", "cause", msg, "files", len(failed))
	o.publish(ctx, events.ArchiveFailed, archiveID, map[string]any{"error": msg})
	for _, fid := range failed {
		o.publish(ctx, events.FileFailed, fid, map[string]any{"archive_id": archiveID, "error": msg})
	}
	return &common.JobFailedError{ArchiveID: archiveID, Err: cause}
}
