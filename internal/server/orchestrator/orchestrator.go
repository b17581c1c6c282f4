// Package orchestrator drives files and archives through their lifecycle:
// claiming files for an archive, running the compression job, recording
// failures, serving downloads and recovering work left behind by a crash.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/blobs"
	"github.com/dmitrijs2005/gophzip/internal/server/compression"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/leases"
	"github.com/dmitrijs2005/gophzip/internal/server/store"
	"github.com/google/uuid"
)

// Submitter queues a compression job without blocking. The worker pool
// implements it.
type Submitter interface {
	Submit(key string) error
	Active(key string) bool
}

// Options tune the orchestrator. Zero values fall back to the defaults
// below.
type Options struct {
	Format         models.Format
	RetryBase      time.Duration
	RetryCap       time.Duration
	RetryAttempts  int
	AttemptTimeout time.Duration
	LeaseTTL       time.Duration
	Owner          string
	MaxUploadSize  int64
	// PublishTimeout bounds each lifecycle event publish.
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = models.FormatZip
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 5
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.Owner == "" {
		o.Owner = uuid.NewString()
	}
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = 100 << 20
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	return o
}

// Dependencies are the stores and sinks the orchestrator works against.
type Dependencies struct {
	Store  store.Store
	Leases leases.Repository
	Blobs  blobs.Store
	Events events.Publisher
	Logger logging.Logger
}

type Orchestrator struct {
	store   store.Store
	leases  leases.Repository
	blobs   blobs.Store
	events  events.Publisher
	log     logging.Logger
	engines map[models.Format]compression.Engine
	opts    Options

	mu        sync.RWMutex
	submitter Submitter

	downloads *downloadTracker

	now   func() time.Time
	newID func() string
}

func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	if deps.Store == nil || deps.Leases == nil || deps.Blobs == nil {
		return nil, errors.New("orchestrator: store, leases and blobs are required")
	}
	opts = opts.withDefaults()
	if !opts.Format.Valid() {
		return nil, common.NewValidationError("format", fmt.Sprintf("unsupported archive format %q", opts.Format))
	}

	engines := make(map[models.Format]compression.Engine, 2)
	for _, f := range []models.Format{models.FormatZip, models.FormatTarGz} {
		e, err := compression.New(f)
		if err != nil {
			return nil, err
		}
		engines[f] = e
	}

	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	return &Orchestrator{
		store:     deps.Store,
		leases:    deps.Leases,
		blobs:     deps.Blobs,
		events:    deps.Events,
		log:       deps.Logger.With("module", "orchestrator"),
		engines:   engines,
		opts:      opts,
		downloads: newDownloadTracker(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// SetSubmitter attaches the job queue. Until it is set, created archives
// stay queued and wait for Recover.
func (o *Orchestrator) SetSubmitter(s Submitter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitter = s
}

// Owner is the lease owner token of this instance.
func (o *Orchestrator) Owner() string { return o.opts.Owner }

func (o *Orchestrator) submit(ctx context.Context, archiveID string) bool {
	o.mu.RLock()
	s := o.submitter
	o.mu.RUnlock()
	if s == nil {
		o.log.Warn(ctx, "no job queue attached, archive left queued", "archive_id", archiveID)
		return false
	}
	if err := s.Submit(archiveID); err != nil {
		o.log.Warn(ctx, "job not submitted, recovery will pick it up", "archive_id", archiveID, "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) active(archiveID string) bool {
	o.mu.RLock()
	s := o.submitter
	o.mu.RUnlock()
	return s != nil && s.Active(archiveID)
}

// publish never fails the caller. It is detached from ctx cancellation but
// bounded by PublishTimeout.
func (o *Orchestrator) publish(ctx context.Context, t events.EventType, key string, data map[string]any) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PublishTimeout)
	defer cancel()
	if err := o.events.Publish(pctx, events.NewEvent(t, key, data)); err != nil {
		o.log.Warn(ctx, "event not published", "type", string(t), "key", key, "error", err)
	}
}

// downloadTracker counts in-flight downloads per archive. A positive count
// is reported as the downloading state.
type downloadTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func newDownloadTracker() *downloadTracker {
	return &downloadTracker{counts: make(map[string]int)}
}

func (d *downloadTracker) begin(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[id]++
}

func (d *downloadTracker) end(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts[id] <= 1 {
		delete(d.counts, id)
		return
	}
	d.counts[id]--
}

func (d *downloadTracker) active(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[id] > 0
}

// present overlays the in-process downloading marker on an idle archive.
func (o *Orchestrator) present(a *models.Archive) *models.Archive {
	if a.State == models.ArchiveIdle && o.downloads.active(a.ID) {
		a.State = models.ArchiveDownloading
	}
	return a
}
