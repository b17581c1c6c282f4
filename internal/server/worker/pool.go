// Package worker runs compression jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrDuplicate  = errors.New("job already queued or running")
	ErrNotRunning = errors.New("worker pool is not running")
)

// Handler processes one job key.
type Handler func(ctx context.Context, key string) error

// Pool executes handler for submitted keys with a fixed number of workers.
// A key that is queued or running is not accepted again.
type Pool struct {
	workers int
	queue   chan string
	handler Handler
	log     logging.Logger

	mu      sync.Mutex
	active  map[string]struct{}
	ctx     context.Context
	group   *errgroup.Group
	started bool
}

func NewPool(workers, queueSize int, handler Handler, log logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		workers: workers,
		queue:   make(chan string, queueSize),
		handler: handler,
		log:     log.With("module", "worker"),
		active:  make(map[string]struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled; jobs still
// in the queue at that point are dropped.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	p.ctx, p.group = gctx, g
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Submit enqueues key without blocking.
func (p *Pool) Submit(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.ctx.Err() != nil {
		return ErrNotRunning
	}
	if _, ok := p.active[key]; ok {
		return ErrDuplicate
	}
	select {
	case p.queue <- key:
		p.active[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Active reports whether key is queued or running.
func (p *Pool) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[key]
	return ok
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-p.queue:
			p.run(ctx, id, key)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, key string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(ctx, "job panicked", "worker", id, "key", key, "panic", fmt.Sprint(r))
		}
		p.mu.Lock()
		delete(p.active, key)
		p.mu.Unlock()
	}()

	p.log.Debug(ctx, "job started", "worker", id, "key", key)
	if err := p.handler(ctx, key); err != nil {
		p.log.Warn(ctx, "job finished with error", "worker", id, "key", key, "error", err)
		return
	}
	p.log.Debug(ctx, "job finished", "worker", id, "key", key)
}
