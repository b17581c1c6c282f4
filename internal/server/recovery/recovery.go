// Package recovery periodically requeues archive jobs that no live worker
// owns, e.g. after a crash or when the job queue was full.
package recovery

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/orchestrator"
)

// Recoverer runs one recovery pass.
type Recoverer interface {
	Recover(ctx context.Context) (orchestrator.RecoveryReport, error)
}

// Service calls Recover once on start and then on every tick.
type Service struct {
	r        Recoverer
	interval time.Duration
	log      logging.Logger
	done     chan struct{}
}

func NewService(r Recoverer, interval time.Duration, log logging.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		r:        r,
		interval: interval,
		log:      log.With("module", "recovery"),
		done:     make(chan struct{}),
	}
}

// Start runs the loop in a background goroutine until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.log.Info(ctx, "recovery service started", "interval", s.interval.String())

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.run(ctx)
		for {
			select {
			case <-ticker.C:
				s.run(ctx)
			case <-ctx.Done():
				s.log.Info(context.WithoutCancel(ctx), "recovery service stopping")
				return
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (s *Service) Wait() {
	<-s.done
}

func (s *Service) run(ctx context.Context) {
	rep, err := s.r.Recover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error(ctx, "recovery pass failed", "error", err)
		return
	}
	s.log.Debug(ctx, "recovery pass complete", "resubmitted", rep.Resubmitted, "skipped", rep.Skipped)
}
