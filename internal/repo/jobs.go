package repo

import (
	"context"
	"database/sql"
	"time"

	"paperline/internal/domain"
)

const jobCols = `id, plugin_id, type, COALESCE(payload_json,''), status, attempts, max_attempts, locked_at, lock_owner, last_error, created_at, updated_at`

func scanJob(scan func(dest ...any) error) (domain.PluginJob, error) {
	var j domain.PluginJob
	var lockedAt, lockOwner, lastError sql.NullString
	err := scan(&j.ID, &j.PluginID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&lockedAt, &lockOwner, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.String
	}
	if lockOwner.Valid {
		j.LockOwner = &lockOwner.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, j domain.PluginJob) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO plugin_jobs(id,plugin_id,type,payload_json,status,attempts,max_attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		j.ID, j.PluginID, j.Type, nullable(j.PayloadJSON), j.Status, j.Attempts, j.MaxAttempts, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.PluginJob, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM plugin_jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobsForPlugin(ctx context.Context, pluginID string, limit int) ([]domain.PluginJob, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobCols+` FROM plugin_jobs WHERE plugin_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, pluginID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.PluginJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimPendingJobs atomically flips up to limit pending jobs (oldest first)
// to running for the given worker. Disabled plugins' jobs are left pending.
// The single-statement claim keeps two overlapping trigger invocations from
// claiming the same job.
func (r Repo) ClaimPendingJobs(ctx context.Context, worker string, limit int, now time.Time) ([]domain.PluginJob, error) {
	ts := now.UTC().Format(time.RFC3339)
	rows, err := r.DB.QueryContext(ctx, `UPDATE plugin_jobs
		SET status='running', locked_at=?, lock_owner=?, updated_at=?
		WHERE status='pending' AND id IN (
			SELECT j.id FROM plugin_jobs j
			JOIN plugins p ON p.id = j.plugin_id
			WHERE j.status='pending' AND p.enabled=1
			ORDER BY j.created_at, j.id LIMIT ?
		)
		RETURNING `+jobCols, ts, worker, ts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.PluginJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r Repo) MarkJobSucceeded(ctx context.Context, id string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE plugin_jobs SET status='succeeded', locked_at=NULL, lock_owner=NULL, updated_at=? WHERE id=?`,
		now.UTC().Format(time.RFC3339), id)
	return err
}

// ReleaseJobForRetry records a failed attempt and puts the job back in the
// pending pool.
func (r Repo) ReleaseJobForRetry(ctx context.Context, id string, attempts int, lastError string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE plugin_jobs SET status='pending', attempts=?, last_error=?, locked_at=NULL, lock_owner=NULL, updated_at=? WHERE id=?`,
		attempts, lastError, now.UTC().Format(time.RFC3339), id)
	return err
}

// MarkJobTerminal dead-letters or fails a job after its final attempt.
func (r Repo) MarkJobTerminal(ctx context.Context, id, status string, attempts int, lastError string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE plugin_jobs SET status=?, attempts=?, last_error=?, locked_at=NULL, lock_owner=NULL, updated_at=? WHERE id=?`,
		status, attempts, lastError, now.UTC().Format(time.RFC3339), id)
	return err
}

// RecoverStaleLocks resets running jobs whose lock predates the threshold.
func (r Repo) RecoverStaleLocks(ctx context.Context, before time.Time, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE plugin_jobs SET status='pending', locked_at=NULL, lock_owner=NULL, updated_at=?
		WHERE status='running' AND locked_at IS NOT NULL AND locked_at < ?`,
		now.UTC().Format(time.RFC3339), before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r Repo) JobStats(ctx context.Context) (domain.JobStats, error) {
	stats := domain.JobStats{Counts: map[string]int{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM plugin_jobs GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	var oldest sql.NullString
	if err := r.DB.QueryRowContext(ctx, `SELECT MIN(created_at) FROM plugin_jobs WHERE status='pending'`).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.String
	}
	return stats, nil
}

// CleanupOldJobs deletes terminal jobs last touched before the cutoff.
// Pending and running jobs are never deleted regardless of age.
func (r Repo) CleanupOldJobs(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM plugin_jobs
		WHERE status IN ('succeeded','failed','dead') AND updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
