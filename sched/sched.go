// Package sched drives the job cycle: a beat publishes the check job on a
// fixed interval, the check job fans out to per-strategy jobs, and the
// runner executes registered handlers, swallowing their errors at the job
// boundary so a failed cycle never takes the scheduler down.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/metrics"
	"github.com/rustyeddy/htbot/pkg/id"
)

// Handler is one job body. Returned errors are logged and counted, never
// propagated.
type Handler func(ctx context.Context) error

// Bus carries job triggers between the beat, the fan-out, and the workers.
type Bus interface {
	// Publish triggers the named job.
	Publish(ctx context.Context, job string) error

	// Subscribe binds the named job to fn. At-least-once delivery;
	// handlers must be idempotent.
	Subscribe(job string, fn func(ctx context.Context)) error

	Close() error
}

// Inproc delivers jobs synchronously inside the publishing process. Single
// worker only; cross-process deployments use the NATS bus.
type Inproc struct {
	mu       sync.RWMutex
	handlers map[string]func(ctx context.Context)
}

func NewInproc() *Inproc {
	return &Inproc{handlers: make(map[string]func(ctx context.Context))}
}

func (b *Inproc) Publish(ctx context.Context, job string) error {
	b.mu.RLock()
	fn, ok := b.handlers[job]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no subscriber for job %q", job)
	}
	fn(ctx)
	return nil
}

func (b *Inproc) Subscribe(job string, fn func(ctx context.Context)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[job]; dup {
		return fmt.Errorf("job %q already subscribed", job)
	}
	b.handlers[job] = fn
	return nil
}

func (b *Inproc) Close() error { return nil }

// Runner owns the job registry: it wraps every handler with a run id, run
// and error counters, and the log-and-swallow error policy.
type Runner struct {
	bus  Bus
	log  zerolog.Logger
	jobs map[string]Handler
}

func NewRunner(bus Bus, log zerolog.Logger) *Runner {
	return &Runner{bus: bus, log: log, jobs: make(map[string]Handler)}
}

// Register adds a named job. Must be called before Start.
func (r *Runner) Register(name string, h Handler) {
	r.jobs[name] = h
}

// Start subscribes every registered job on the bus.
func (r *Runner) Start() error {
	for name, h := range r.jobs {
		name, h := name, h
		err := r.bus.Subscribe(name, func(ctx context.Context) {
			r.run(ctx, name, h)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, name string, h Handler) {
	runID := id.New()
	log := r.log.With().Str("job", name).Str("run", runID).Logger()

	metrics.JobRuns.WithLabelValues(name).Inc()
	start := time.Now()

	if err := h(log.WithContext(ctx)); err != nil {
		metrics.JobErrors.WithLabelValues(name).Inc()
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Dur("took", time.Since(start)).Msg("job done")
}

// Beat publishes job on a fixed interval until ctx is cancelled.
func Beat(ctx context.Context, bus Bus, interval time.Duration, job string, log zerolog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := bus.Publish(ctx, job); err != nil {
				log.Warn().Err(err).Str("job", job).Msg("beat publish")
			}
		}
	}
}

// FanOut returns a handler that triggers the given jobs in order.
func FanOut(bus Bus, jobs ...string) Handler {
	return func(ctx context.Context) error {
		for _, job := range jobs {
			if err := bus.Publish(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}
}
