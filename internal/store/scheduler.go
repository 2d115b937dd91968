package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
)

func scanJob(row interface{ Scan(...any) error }) (*models.SchedulerJob, error) {
	var j models.SchedulerJob
	var cfg sql.NullString
	var cron sql.NullString
	var interval sql.NullInt64
	var startAt, endAt, lastRun, nextRun sql.NullTime
	var maxRuns sql.NullInt64
	var jobDefID sql.NullInt64
	err := row.Scan(&j.Name, &j.TaskName, &cfg, &j.ScheduleType, &interval, &cron, &j.Enabled,
		&startAt, &endAt, &maxRuns, &j.RunCount, &lastRun, &nextRun, &jobDefID)
	if err != nil {
		return nil, err
	}
	j.Config = []byte(cfg.String)
	j.CronExpression = cron.String
	if interval.Valid {
		n := int(interval.Int64)
		j.IntervalSeconds = n
	}
	if startAt.Valid {
		j.StartAt = &startAt.Time
	}
	if endAt.Valid {
		j.EndAt = &endAt.Time
	}
	if maxRuns.Valid {
		n := int(maxRuns.Int64)
		j.MaxRuns = &n
	}
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}
	if jobDefID.Valid {
		j.JobDefinitionID = &jobDefID.Int64
	}
	return &j, nil
}

const jobColumns = `name, task_name, config, schedule_type, interval_seconds, cron_expression, enabled,
	start_at, end_at, max_runs, run_count, last_run_at, next_run_at, job_definition_id`

// UpsertJob creates or replaces a scheduler_jobs row by name.
func (s *Store) UpsertJob(ctx context.Context, j models.SchedulerJob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduler_jobs
		(name, task_name, config, schedule_type, interval_seconds, cron_expression, enabled,
		 start_at, end_at, max_runs, run_count, last_run_at, next_run_at, job_definition_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			task_name=excluded.task_name, config=excluded.config, schedule_type=excluded.schedule_type,
			interval_seconds=excluded.interval_seconds, cron_expression=excluded.cron_expression,
			enabled=excluded.enabled, start_at=excluded.start_at, end_at=excluded.end_at,
			max_runs=excluded.max_runs, job_definition_id=excluded.job_definition_id`,
		j.Name, j.TaskName, string(j.Config), string(j.ScheduleType), nullableInt(j.IntervalSeconds, j.ScheduleType == models.ScheduleInterval),
		nullableString(j.CronExpression), j.Enabled, j.StartAt, j.EndAt, j.MaxRuns, j.RunCount, j.LastRunAt, j.NextRunAt, j.JobDefinitionID)
	return err
}

func nullableInt(v int, present bool) any {
	if !present {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) UpdateJobEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduler_jobs SET enabled = ? WHERE name = ?`, enabled, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobRun records a completed dispatch: last_run_at, run_count+1,
// next_run_at.
func (s *Store) MarkJobRun(ctx context.Context, name string, lastRun time.Time, nextRun *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduler_jobs
		SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1
		WHERE name = ?`, lastRun, nextRun, name)
	return err
}

func (s *Store) DeleteJob(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*models.SchedulerJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduler_jobs WHERE name = ?`, name)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// DueJobs selects every enabled job whose window and run budget
// allow a dispatch now, soonest (NULLs first) leading.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]*models.SchedulerJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduler_jobs
		WHERE enabled = 1
		AND (next_run_at IS NULL OR next_run_at <= ?)
		AND (start_at IS NULL OR start_at <= ?)
		AND (end_at IS NULL OR end_at >= ?)
		AND (max_runs IS NULL OR run_count < max_runs)
		ORDER BY (next_run_at IS NOT NULL), next_run_at`, now, now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SchedulerJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
