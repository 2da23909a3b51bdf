// Package jobs runs background work such as attachment extraction outside
// the request that started it.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

const (
	// DefaultConcurrency is the number of jobs run at once.
	DefaultConcurrency = 4
	// backlogFactor bounds admitted jobs, running or waiting, to this many
	// times the concurrency.
	backlogFactor = 4
)

var (
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("job runner stopped")
	// ErrBusy is returned by Submit when the backlog is full.
	ErrBusy = errors.New("job runner busy")
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Runner executes jobs on a bounded number of goroutines. Jobs outlive the
// request that submitted them and are cancelled only by Shutdown. Waiting
// jobs hold their input in memory, so admission is bounded too.
type Runner struct {
	sem    *semaphore.Weighted
	admit  *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logger.Logger

	mu      sync.Mutex
	stopped bool
}

// NewRunner creates a runner allowing concurrency jobs at once.
func NewRunner(concurrency int, log *logger.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		admit:  semaphore.NewWeighted(int64(concurrency * backlogFactor)),
		ctx:    ctx,
		cancel: cancel,
		logger: log,
	}
}

// Submit queues fn under name and returns the job id. It never blocks: a
// full backlog yields ErrBusy.
func (r *Runner) Submit(name string, fn Func) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return "", ErrStopped
	}
	if !r.admit.TryAcquire(1) {
		metrics.RecordJob(name, "rejected", 0)
		return "", ErrBusy
	}

	id := uuid.Must(uuid.NewV7()).String()
	r.wg.Add(1)
	go r.run(id, name, fn)
	return id, nil
}

func (r *Runner) run(id, name string, fn Func) {
	defer r.wg.Done()
	defer r.admit.Release(1)

	log := r.logger.With(zap.String("job_id", id), zap.String("job", name))
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		metrics.RecordJob(name, "cancelled", 0)
		log.Debug("job cancelled before start")
		return
	}
	defer r.sem.Release(1)

	start := time.Now()
	err := fn(r.ctx)
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordJob(name, "failure", duration)
		log.Warn("job failed", zap.Error(err), zap.Float64("duration_s", duration))
		return
	}
	metrics.RecordJob(name, "success", duration)
	log.Debug("job finished", zap.Float64("duration_s", duration))
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first the remaining jobs are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
