package notify

import (
	"context"
	"sync"
	"time"

	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/log"
)

// Job is one unit of deferred notification work.
type Job func(ctx context.Context)

// Dispatcher runs notification work on a bounded worker pool so webhook
// handlers and API requests return without waiting on Twilio. A full queue
// drops the job with a logged error rather than blocking the caller.
type Dispatcher struct {
	jobs    chan Job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Dispatcher{jobs: make(chan Job, queueDepth)}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(workers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.started = true

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Logger.Info().
		Str("component", "notify").
		Int("workers", workers).
		Int("queue_depth", cap(d.jobs)).
		Msg("Notification dispatcher started")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, config.TwilioTimeout+5*time.Second)
			job(jobCtx)
			cancel()
		}
	}
}

// Enqueue submits a job without blocking. Returns false when the queue is
// saturated; the job is dropped and the drop logged.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.jobs <- job:
		return true
	default:
		log.Logger.Error().
			Str("component", "notify").
			Int("queue_depth", cap(d.jobs)).
			Msg("Notification queue saturated, dropping job")
		return false
	}
}

// Stop cancels in-flight work and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.started = false
}
