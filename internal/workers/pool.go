// Package workers provides a worker pool for running device jobs
// concurrently. It supports job queuing, retries, rate limiting and graceful
// shutdown, and integrates with the structured logging and metrics systems.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
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

// Recorder receives pool events for metrics.
type Recorder interface {
	JobSubmitted(jobType string)
	JobAttempt(jobType string, duration time.Duration)
	JobCompleted(jobType, status string, retries int)
	JobStarted()
	JobFinished()
	SetPoolSize(size int)
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted(string)              {}
func (nopRecorder) JobAttempt(string, time.Duration) {}
func (nopRecorder) JobCompleted(string, string, int) {}
func (nopRecorder) JobStarted()                      {}
func (nopRecorder) JobFinished()                     {}
func (nopRecorder) SetPoolSize(int)                  {}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       1000,
		MaxRetries:      2,
		RetryDelay:      5 * time.Second,
		ShutdownTimeout: 60 * time.Second,
		RateLimit:       0,
	}
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config      Config
	jobs        chan Job
	results     chan Result
	workers     []*worker
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	rateLimiter *time.Ticker
	recorder    Recorder
	logger      *logging.Logger

	// mu guards closed and the send side of jobs.
	mu        sync.RWMutex
	closed    bool
	started   bool
	startOnce sync.Once
}

// worker represents a single worker goroutine.
type worker struct {
	id   int
	pool *Pool
}

// New creates a new worker pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:   config,
		jobs:     make(chan Job, max(config.QueueSize, 0)),
		results:  make(chan Result, max(config.QueueSize, 0)),
		workers:  make([]*worker, 0, max(config.Size, 0)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		recorder: nopRecorder{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	if pool.recorder == nil {
		pool.recorder = nopRecorder{}
	}
	if pool.logger == nil {
		pool.logger = logging.Default()
	}
	pool.logger = pool.logger.WithComponent("workers")

	if config.RateLimit > 0 {
		interval := time.Second / time.Duration(config.RateLimit)
		pool.rateLimiter = time.NewTicker(interval)
	}

	for i := 0; i < config.Size; i++ {
		pool.workers = append(pool.workers, &worker{id: i, pool: pool})
	}

	return pool
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		p.started = true

		for _, w := range p.workers {
			p.wg.Add(1)
			go w.run()
		}
		p.recorder.SetPoolSize(p.config.Size)
	})
}

// Submit adds a job to the worker pool queue. It never blocks: a full queue
// is reported as a QUEUE_FULL error.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.NewDeviceError(errors.CodeServiceUnavailable, "Worker pool is shut down", "").
			WithContext("job_id", job.ID())
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		p.recorder.JobSubmitted(job.Type())
		return nil
	default:
		return errors.NewDeviceError(errors.CodeQueueFull,
			fmt.Sprintf("Job queue is full (%d)", p.config.QueueSize), "").
			WithContext("job_id", job.ID())
	}
}

// Results returns a channel for receiving job results. Results are dropped
// when nobody reads and the buffer is full. The channel is closed on shutdown.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueLength returns the number of jobs waiting for a worker.
func (p *Pool) QueueLength() int {
	return len(p.jobs)
}

// Shutdown stops accepting jobs and waits for queued and running ones to
// finish. After ShutdownTimeout running jobs are canceled.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool", "queued", len(p.jobs))

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	if started {
		select {
		case <-finished:
			p.logger.Info("Worker pool shutdown completed")
		case <-time.After(p.config.ShutdownTimeout):
			p.logger.Warn("Worker pool shutdown timeout, canceling running jobs")
			p.cancel()
			<-finished
		}
	}

	p.cancel()
	close(p.results)
	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}
	close(p.done)
	return nil
}

// Wait blocks until the pool has shut down.
func (p *Pool) Wait() {
	<-p.done
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("Worker started", "worker_id", w.id)
	defer w.pool.logger.Debug("Worker stopped", "worker_id", w.id)

	for job := range w.pool.jobs {
		if w.pool.ctx.Err() != nil {
			continue
		}
		w.executeJob(job)
	}
}

// permanent reports whether retrying err cannot help: it carries a known
// error code that is not retryable.
func permanent(err error) bool {
	code := errors.GetCode(err)
	return code != errors.CodeUnknown && !errors.IsRetryable(err)
}

// executeJob executes a single job with retry logic.
func (w *worker) executeJob(job Job) {
	p := w.pool

	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			return
		}
	}

	p.recorder.JobStarted()
	defer p.recorder.JobFinished()

	var lastErr error
	var retries int
	var total time.Duration

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		start := time.Now()
		jobCtx, cancel := context.WithCancel(p.ctx)
		err := job.Execute(jobCtx)
		cancel()

		duration := time.Since(start)
		total += duration
		p.recorder.JobAttempt(job.Type(), duration)

		if err == nil {
			p.publish(Result{
				JobID:    job.ID(),
				JobType:  job.Type(),
				Duration: total,
				Retries:  retries,
			})
			p.recorder.JobCompleted(job.Type(), "success", retries)

			p.logger.Debug("Job completed successfully",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"duration", total,
				"worker_id", w.id,
				"retries", retries)
			return
		}

		lastErr = err
		retries = attempt

		if permanent(err) || p.ctx.Err() != nil || attempt == p.config.MaxRetries {
			break
		}

		p.logger.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"attempt", attempt+1,
			"max_retries", p.config.MaxRetries,
			"error", err)

		select {
		case <-time.After(p.config.RetryDelay):
		case <-p.ctx.Done():
		}
	}

	p.publish(Result{
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    lastErr,
		Duration: total,
		Retries:  retries,
	})
	p.recorder.JobCompleted(job.Type(), "error", retries)

	p.logger.Error("Job failed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"retries", retries,
		"error", lastErr,
		"worker_id", w.id)
}

func (p *Pool) publish(r Result) {
	select {
	case p.results <- r:
	default:
		p.logger.Debug("Result dropped, nobody is reading", "job_id", r.JobID)
	}
}
