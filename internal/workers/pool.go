// Package workers provides the bounded worker pool that runs cr4wler's
// per-address deep-phase work. Jobs are queued with Submit, executed by a
// fixed number of goroutines, and reported on the Results channel, which is
// closed once the pool has been closed and every queued job has finished.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the number of extra attempts for a failed job.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for running jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config  Config
	metrics *metrics.PrometheusMetrics

	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics records job outcomes and durations on m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New creates a new worker pool with the given configuration. Sizes below
// one are raised to one.
func New(config Config, opts ...Option) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = config.Size
	}

	p := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Cancelling ctx stops running jobs and makes
// the workers exit without draining the queue.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(ctx)

		logging.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}

		go func() {
			p.wg.Wait()
			close(p.results)
			close(p.done)
		}()
	})
}

// Submit queues job, blocking while the queue is full. It fails once the
// pool is closed or when ctx or the pool context ends first.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("worker pool is closed")
	}
	if p.ctx == nil {
		return fmt.Errorf("worker pool is not started")
	}

	select {
	case p.jobs <- job:
		logging.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the channel job results are delivered on. Callers must
// drain it; workers block when it is full.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs. Jobs already queued still run, and Results
// is closed after the last one finishes.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	<-p.done
}

// Shutdown closes the pool and waits for queued jobs, cancelling whatever
// is still running after ShutdownTimeout.
func (p *Pool) Shutdown() error {
	p.Close()
	if p.ctx == nil {
		return nil
	}

	timeout := p.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}

	select {
	case <-p.done:
		logging.Debug("Worker pool shutdown completed")
		p.cancel()
		return nil
	case <-time.After(timeout):
		logging.Warn("Worker pool shutdown timeout, cancelling running jobs")
		p.cancel()
		<-p.done
		return fmt.Errorf("worker pool shutdown timed out after %s", timeout)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			result := p.execute(id, job)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// execute runs job with retries. A panicking job is reported as failed.
func (p *Pool) execute(workerID int, job Job) Result {
	start := time.Now()
	result := Result{JobID: job.ID(), JobType: job.Type()}

attempts:
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result.Retries = attempt
		result.Error = p.attempt(job)
		if result.Error == nil || p.ctx.Err() != nil {
			break
		}
		if attempt < p.config.MaxRetries {
			logging.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", result.Error)
			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				break attempts
			}
		}
	}
	result.Duration = time.Since(start)

	status := metrics.StatusSuccess
	if result.Error != nil {
		status = metrics.StatusError
		logging.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"worker_id", workerID,
			"error", result.Error)
	}
	p.metrics.IncrementJobs(job.Type(), status)
	p.metrics.RecordJobDuration(job.Type(), result.Duration)

	return result
}

func (p *Pool) attempt(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID(), r)
		}
	}()
	return job.Execute(p.ctx)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
