package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crmhub/src/infrastructure/log"
)

// ErrQueueFull is returned by Dispatch when the job queue is at capacity.
var ErrQueueFull = errors.New("ingestion queue is full")

// Job is one unit of work owned by exactly one pool worker. Run returns the
// aggregate result or an unrecoverable error; the worker finalizes the task
// either way.
type Job struct {
	TaskID string
	Total  int
	Run    func(ctx context.Context) (*Result, error)
}

// Pool runs ingestion jobs on a bounded set of workers so long imports never
// consume request-handling capacity. The submitting caller gets a task id
// immediately and is never blocked on completion.
type Pool struct {
	queue      chan Job
	registry   *Registry
	events     *Events
	workers    int
	jobTimeout time.Duration
	wg         sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth.
// jobTimeout of zero means jobs have no end-to-end deadline.
func NewPool(workers, queueDepth int, jobTimeout time.Duration, registry *Registry, events *Events) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool{
		queue:      make(chan Job, queueDepth),
		registry:   registry,
		events:     events,
		workers:    workers,
		jobTimeout: jobTimeout,
	}
}

// Start launches the workers. The context bounds every job's lifetime;
// cancelling it fails queued jobs instead of leaving them pending forever.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Dispatch queues a job without blocking. The caller must fail the task
// itself when ErrQueueFull comes back.
func (p *Pool) Dispatch(job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Shutdown() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := log.WithValues("worker", id)

	for job := range p.queue {
		if err := ctx.Err(); err != nil {
			p.registry.Fail(job.TaskID, "server shutting down before processing started")
			p.events.Failed(job.TaskID, err.Error())
			continue
		}

		p.registry.Start(job.TaskID)
		p.events.Started(job.TaskID, job.Total)
		logger.Info("ingestion task started", "task_id", job.TaskID, "total", job.Total)

		result, err := p.runJob(ctx, job)
		if err != nil {
			p.registry.Fail(job.TaskID, err.Error())
			p.events.Failed(job.TaskID, err.Error())
			logger.Error(err, "ingestion task failed", "task_id", job.TaskID)
			continue
		}

		p.registry.Complete(job.TaskID, result)
		p.events.Completed(job.TaskID, result.SuccessCount, result.FailedCount)
		logger.Info("ingestion task completed", "task_id", job.TaskID,
			"success", result.SuccessCount, "failed", result.FailedCount)
	}
}

// runJob executes the job body with a recover boundary. A panic anywhere in
// the run must still leave the task in a terminal, inspectable state.
func (p *Pool) runJob(ctx context.Context, job Job) (result *Result, err error) {
	jctx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("ingestion worker panicked: %v", r)
		}
	}()

	return job.Run(jctx)
}
