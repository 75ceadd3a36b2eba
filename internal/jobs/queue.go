// Package jobs schedules and executes plugin background work on a durable
// queue. Processing is externally triggered and batch-bounded: each
// invocation claims one batch, runs handlers sequentially, and returns.
// The running status plus locked_at/lock_owner rows form an advisory lock;
// crashed workers are reclaimed purely by the stale-lock timeout.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"paperline/internal/capability"
	"paperline/internal/domain"
	"paperline/internal/repo"
)

const (
	DefaultBatchSize     = 10
	DefaultStaleLock     = 10 * time.Minute
	DefaultMaxIterations = 20
)

// CapabilityFactory builds the execution context for one plugin's job.
type CapabilityFactory func(plugin domain.Plugin) *capability.Context

type Queue struct {
	Repo      repo.Repo
	Handlers  *HandlerRegistry
	Caps      CapabilityFactory
	Worker    string
	StaleLock time.Duration
	Logger    *log.Logger
	Now       func() time.Time

	// OnDead is called after a job is dead-lettered, outside any row lock.
	OnDead func(job domain.PluginJob, lastError string)
}

// Result is the per-job outcome of one processing pass.
type Result struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CatchUpResult summarizes a drain-the-queue run.
type CatchUpResult struct {
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Iterations int `json:"iterations"`
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *Queue) logger() *log.Logger {
	if q.Logger != nil {
		return q.Logger
	}
	return log.Default()
}

// ProcessJobs claims up to batchSize pending jobs, oldest first, and runs
// each handler sequentially. A failing handler never aborts the batch: the
// failure is recorded on the job row and the pass moves on.
func (q *Queue) ProcessJobs(ctx context.Context, batchSize int) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	claimed, err := q.Repo.ClaimPendingJobs(ctx, q.Worker, batchSize, q.now())
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	results := make([]Result, 0, len(claimed))
	for _, job := range claimed {
		results = append(results, q.executeJob(ctx, job))
	}
	return results, nil
}

// ProcessAllPending repeatedly processes batches until one comes back empty
// or maxIterations is hit, bounding runs where jobs re-enqueue themselves.
func (q *Queue) ProcessAllPending(ctx context.Context, maxIterations, batchSize int) (CatchUpResult, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	var out CatchUpResult
	for out.Iterations < maxIterations {
		results, err := q.ProcessJobs(ctx, batchSize)
		if err != nil {
			return out, err
		}
		if len(results) == 0 {
			break
		}
		out.Iterations++
		for _, res := range results {
			if res.Success {
				out.Processed++
			} else {
				out.Failed++
			}
		}
	}
	return out, nil
}

// RecoverStaleLocks resets running jobs whose claim exceeded the staleness
// threshold, treating them as crashed workers. Runs before each processing
// pass.
func (q *Queue) RecoverStaleLocks(ctx context.Context) (int, error) {
	staleAfter := q.StaleLock
	if staleAfter <= 0 {
		staleAfter = DefaultStaleLock
	}
	now := q.now()
	return q.Repo.RecoverStaleLocks(ctx, now.Add(-staleAfter), now)
}

// Stats is read-only queue introspection.
func (q *Queue) Stats(ctx context.Context) (domain.JobStats, error) {
	return q.Repo.JobStats(ctx)
}

// Cleanup deletes terminal jobs older than the retention window. Pending and
// running jobs survive regardless of age.
func (q *Queue) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}
	cutoff := q.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	return q.Repo.CleanupOldJobs(ctx, cutoff)
}

func (q *Queue) executeJob(ctx context.Context, job domain.PluginJob) Result {
	err := q.runHandler(ctx, job)
	now := q.now()
	if err == nil {
		if markErr := q.Repo.MarkJobSucceeded(ctx, job.ID, now); markErr != nil {
			return Result{JobID: job.ID, Type: job.Type, Error: markErr.Error()}
		}
		return Result{JobID: job.ID, Type: job.Type, Success: true}
	}

	attempts := job.Attempts + 1
	lastError := err.Error()
	if attempts < job.MaxAttempts {
		if markErr := q.Repo.ReleaseJobForRetry(ctx, job.ID, attempts, lastError, now); markErr != nil {
			lastError = markErr.Error()
		}
		return Result{JobID: job.ID, Type: job.Type, Error: lastError}
	}

	if markErr := q.Repo.MarkJobTerminal(ctx, job.ID, domain.JobDead, attempts, lastError, now); markErr != nil {
		return Result{JobID: job.ID, Type: job.Type, Error: markErr.Error()}
	}
	q.logger().Printf("job %s (%s) dead-lettered after %d attempts: %s", job.ID, job.Type, attempts, lastError)
	if q.OnDead != nil {
		job.Attempts = attempts
		q.OnDead(job, lastError)
	}
	return Result{JobID: job.ID, Type: job.Type, Error: lastError}
}

// runHandler dispatches by type and converts panics in plugin code into
// ordinary job failures.
func (q *Queue) runHandler(ctx context.Context, job domain.PluginJob) (err error) {
	handler, ok := q.Handlers.Get(job.Type)
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	plugin, getErr := q.Repo.GetPluginByID(ctx, job.PluginID)
	if getErr != nil {
		return fmt.Errorf("load plugin %s: %w", job.PluginID, getErr)
	}
	var caps *capability.Context
	if q.Caps != nil {
		caps = q.Caps(plugin)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, caps, json.RawMessage(job.PayloadJSON))
}
