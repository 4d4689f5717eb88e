/**
 * @description
 * This file implements the submission queue and the bounded worker pool that
 * drains it. The queue is unbounded and strictly FIFO; enqueueing never
 * blocks. The pool size is fixed for the life of the process, and a panic
 * inside a job takes down neither the worker slot nor its siblings.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/redeemworks/redeem-service/internal/metrics"
)

const panicCooldown = 5 * time.Second

// WorkerPool owns the job queue and its workers.
type WorkerPool struct {
	runner *Runner

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*domain.Job
	stopped   bool
	cancelled map[uuid.UUID]bool               // queued jobs flagged for cancellation
	running   map[uuid.UUID]context.CancelFunc // in-flight jobs by batch id

	workers int
	wg      sync.WaitGroup

	// cooldown is swapped in tests to avoid real sleeps after a panic.
	cooldown func(d time.Duration)
}

// NewWorkerPool creates a pool with a fixed number of workers. Start must be
// called before jobs are processed.
func NewWorkerPool(runner *Runner, workers int) *WorkerPool {
	p := &WorkerPool{
		runner:    runner,
		workers:   workers,
		cancelled: make(map[uuid.UUID]bool),
		running:   make(map[uuid.UUID]context.CancelFunc),
		cooldown:  time.Sleep,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
	log.Printf("level=info component=worker_pool msg=\"workers started\" count=%d", p.workers)
}

// Enqueue appends a job to the tail of the queue. It never blocks and returns
// the 1-based queue position.
func (p *WorkerPool) Enqueue(job *domain.Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0
	}
	p.queue = append(p.queue, job)
	position := len(p.queue)
	metrics.QueueDepth.Set(float64(position))
	p.cond.Signal()
	return position
}

// QueueDepth reports the number of jobs waiting (not running).
func (p *WorkerPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Workers reports the fixed pool size.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Cancel flags a job for cancellation. A running job has its context
// cancelled after the in-flight attempt; a queued job is drained as cancelled
// when a worker reaches it. Returns false when the batch id is unknown.
func (p *WorkerPool) Cancel(batchID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.running[batchID]; ok {
		cancel()
		return true
	}
	for _, job := range p.queue {
		if job.BatchID == batchID {
			p.cancelled[batchID] = true
			return true
		}
	}
	return false
}

// Stop wakes all workers and lets them exit once the context is done. Queued
// jobs are not drained.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *WorkerPool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		job, ok := p.pop(ctx)
		if !ok {
			return
		}
		if p.runJob(ctx, id, job) {
			p.cooldown(panicCooldown)
		}
	}
}

// pop blocks until a job is available or the pool stops.
func (p *WorkerPool) pop(ctx context.Context) (*domain.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.stopped || ctx.Err() != nil {
			return nil, false
		}
		p.cond.Wait()
	}
	job := p.queue[0]
	p.queue = p.queue[1:]
	metrics.QueueDepth.Set(float64(len(p.queue)))
	return job, true
}

// runJob executes one job with panic recovery and reports whether a panic
// occurred.
func (p *WorkerPool) runJob(ctx context.Context, id int, job *domain.Job) (panicked bool) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancelled[job.BatchID] {
		delete(p.cancelled, job.BatchID)
		cancel()
	}
	p.running[job.BatchID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, job.BatchID)
		p.mu.Unlock()

		if r := recover(); r != nil {
			panicked = true
			log.Printf("level=error component=worker_pool worker=%d batch_id=%s msg=\"job panicked\" panic=%v", id, job.BatchID, r)
		}
	}()

	log.Printf("level=info component=worker_pool worker=%d batch_id=%s msg=\"job started\" codes=%d", id, job.BatchID, len(job.Codes))
	p.runner.Run(jobCtx, job)
	return false
}
