package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"storeops/internal/bulk"
	"storeops/internal/config"
	"storeops/internal/models"
	"storeops/internal/queue"
)

// Processor drives deferred bulk jobs: it polls the queue, loads each job,
// and runs the same execution routine the inline path uses. Jobs are never
// retried on executor errors; per-item failures live in Progress. A crashed
// worker's lease expires and the job is re-delivered; the engine resumes an
// interrupted run and drops a finished one, so re-delivery never re-applies
// mutations.
type Processor struct {
	cfg    config.Config
	queue  *queue.RedisQueue
	engine *bulk.Engine
}

// NewProcessor wires a worker loop.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, engine *bulk.Engine) *Processor {
	return &Processor{cfg: cfg, queue: q, engine: engine}
}

// Run polls until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
			log.Printf("reclaimed %d expired job lease(s)", len(reclaimed))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.runOne(ctx, jobID)
	}
}

func (p *Processor) runOne(ctx context.Context, jobID string) {
	job, err := p.engine.Jobs().Load(ctx, jobID)
	if err != nil {
		// Expired or bogus id; nothing to execute, drop the lease.
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("job %s: load failed: %v", jobID, err)
		}
		p.ack(ctx, jobID)
		return
	}

	// Keep the lease alive while the batch runs; a slow job must not lapse
	// into re-delivery while its worker is still executing.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.keepLeaseAlive(hbCtx, jobID)
	err = p.engine.Execute(ctx, job)
	stopHeartbeat()
	if err != nil {
		// Execution errors here are systemic (store unavailable, record
		// missing), not per-item failures.
		log.Printf("job %s: execute failed: %v", jobID, err)
	}
	p.ack(ctx, jobID)
}

func (p *Processor) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		log.Printf("job %s: ack failed: %v", jobID, err)
	}
}

func (p *Processor) keepLeaseAlive(ctx context.Context, jobID string) {
	interval := p.cfg.JobVisibility / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, jobID); err != nil {
				log.Printf("job %s: extend lease: %v", jobID, err)
			}
		}
	}
}
