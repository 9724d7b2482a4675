package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// activityJob is one best-effort write to the activity log.
type activityJob struct {
	name string
	run  func(ctx context.Context) error
}

// activityLog runs activity writes on a worker pool so that request
// handling never waits on them. Before Start and after Shutdown, and
// whenever the queue is full, jobs run on the caller's goroutine.
type activityLog struct {
	cfg    Config
	logger *log.Logger

	mu      sync.RWMutex
	started bool
	queue   chan activityJob
	wg      sync.WaitGroup
}

func newActivityLog(cfg Config) *activityLog {
	return &activityLog{cfg: cfg, logger: cfg.Logger}
}

func (a *activityLog) start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("activity log already started")
	}

	a.queue = make(chan activityJob, a.cfg.QueueSize)
	for i := 0; i < a.cfg.NumWorkers; i++ {
		a.wg.Add(1)
		go a.worker(a.queue)
	}
	a.started = true
	a.logger.Debug("activity workers started", "workers", a.cfg.NumWorkers, "queue", a.cfg.QueueSize)
	return nil
}

func (a *activityLog) worker(queue <-chan activityJob) {
	defer a.wg.Done()
	for job := range queue {
		a.run(job)
	}
}

func (a *activityLog) run(job activityJob) {
	// Activity writes outlive the request that produced them.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.run(ctx); err != nil {
		a.logger.Warn("activity write failed", "job", job.name, "err", err)
	}
}

// submit queues job, or runs it inline when the pool is not accepting work.
func (a *activityLog) submit(job activityJob) {
	a.mu.RLock()
	if a.started {
		select {
		case a.queue <- job:
			a.mu.RUnlock()
			return
		default:
			a.logger.Debug("activity queue full, writing inline", "job", job.name)
		}
	}
	a.mu.RUnlock()
	a.run(job)
}

// shutdown stops accepting jobs and waits for queued ones until ctx is done.
func (a *activityLog) shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("activity drain interrupted: %w", ctx.Err())
	}
}
