package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecoverer struct {
	calls atomic.Int32
	err   error
}

func (c *countingRecoverer) Recover(context.Context) (orchestrator.RecoveryReport, error) {
	c.calls.Add(1)
	return orchestrator.RecoveryReport{Resubmitted: 1}, c.err
}

func TestService_RunsImmediatelyAndOnTick(t *testing.T) {
	r := &countingRecoverer{}
	s := NewService(r, 5*time.Millisecond, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()

	after := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load(), "no passes after stop")
}

func TestService_KeepsRunningAfterErrors(t *testing.T) {
	r := &countingRecoverer{err: errors.New("db down")}
	s := NewService(r, 5*time.Millisecond, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestNewService_DefaultInterval(t *testing.T) {
	s := NewService(&countingRecoverer{}, 0, logging.Nop())
	assert.Equal(t, time.Minute, s.interval)
}
