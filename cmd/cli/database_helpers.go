package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/daemon"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/workers"
)

const submitRetryDelay = 100 * time.Millisecond

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(ctx context.Context, cfg *config.Config, database *db.DB) error

// ComponentsOperation represents a function that runs against the wired
// discovery stack.
type ComponentsOperation func(ctx context.Context, c *daemon.Components) error

// commandContext returns a context canceled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withDatabase executes the given operation with a database connection.
// It handles all database setup and cleanup, returning any errors that occur.
func withDatabase(operation DatabaseOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(ctx, cfg, database)
}

// withComponents connects to the database and wires the discovery stack
// around it. The worker pool is shut down afterwards if the operation
// started it.
func withComponents(operation ComponentsOperation) error {
	return withDatabase(func(ctx context.Context, cfg *config.Config, database *db.DB) error {
		c, err := daemon.NewComponents(cfg, database, logging.Default())
		if err != nil {
			return err
		}
		defer func() { _ = c.Pool.Shutdown() }()

		return operation(ctx, c)
	})
}

// batchResult summarizes a batch of jobs run through the worker pool.
type batchResult struct {
	Succeeded int
	Failed    []workers.Result
}

// trackedJob records the outcome of the last attempt of a job.
type trackedJob struct {
	workers.Job
	outcomes *outcomes
}

type outcomes struct {
	mu   sync.Mutex
	errs map[string]error
}

func (j *trackedJob) Execute(ctx context.Context) error {
	err := j.Job.Execute(ctx)
	j.outcomes.mu.Lock()
	j.outcomes.errs[j.ID()] = err
	j.outcomes.mu.Unlock()
	return err
}

// runBatch starts pool, submits jobs and waits for all of them to finish.
// A full queue is retried until ctx is done. Jobs that never ran count as
// failed.
func runBatch(ctx context.Context, pool *workers.Pool, jobs []workers.Job) (batchResult, error) {
	tracked := &outcomes{errs: make(map[string]error, len(jobs))}

	pool.Start()

	var submitErr error
	for _, job := range jobs {
		if submitErr = submitWithRetry(ctx, pool, &trackedJob{Job: job, outcomes: tracked}); submitErr != nil {
			break
		}
	}

	if err := pool.Shutdown(); err != nil && submitErr == nil {
		submitErr = err
	}

	var result batchResult
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	for _, job := range jobs {
		err, ran := tracked.errs[job.ID()]
		switch {
		case !ran:
			result.Failed = append(result.Failed, workers.Result{
				JobID: job.ID(), JobType: job.Type(), Error: fmt.Errorf("job did not run"),
			})
		case err != nil:
			result.Failed = append(result.Failed, workers.Result{JobID: job.ID(), JobType: job.Type(), Error: err})
		default:
			result.Succeeded++
		}
	}
	return result, submitErr
}

func submitWithRetry(ctx context.Context, pool *workers.Pool, job workers.Job) error {
	for {
		err := pool.Submit(job)
		if !errors.IsCode(err, errors.CodeQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(submitRetryDelay):
		}
	}
}
