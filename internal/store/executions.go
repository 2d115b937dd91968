package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
)

func scanExecution(row interface{ Scan(...any) error }) (*models.Execution, error) {
	var e models.Execution
	var started, finished sql.NullTime
	var result, errMsg, worker, triggeredBy sql.NullString
	var progress string
	err := row.Scan(&e.ID, &e.JobName, &e.TaskName, &e.TaskID, &e.Status, &e.CreatedAt,
		&started, &finished, &result, &errMsg, &worker, &triggeredBy, &progress)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		e.StartedAt = &started.Time
	}
	if finished.Valid {
		e.FinishedAt = &finished.Time
	}
	e.Result = []byte(result.String)
	e.ErrorMessage = errMsg.String
	e.Worker = worker.String
	e.TriggeredBy = []byte(triggeredBy.String)
	if progress != "" {
		_ = json.Unmarshal([]byte(progress), &e.Progress)
	}
	return &e, nil
}

const executionColumns = `id, job_name, task_name, task_id, status, created_at,
	started_at, finished_at, result, error_message, worker, triggered_by, progress`

// CreateExecution inserts a new scheduler_job_executions row.
func (s *Store) CreateExecution(ctx context.Context, e models.Execution) (int64, error) {
	progress, _ := json.Marshal(e.Progress)
	res, err := s.db.ExecContext(ctx, `INSERT INTO scheduler_job_executions
		(job_name, task_name, task_id, status, created_at, worker, triggered_by, progress)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.JobName, e.TaskName, e.TaskID, string(e.Status), e.CreatedAt,
		nullableString(e.Worker), nullableString(string(e.TriggeredBy)), string(progress))
	if err != nil {
		return 0, fmt.Errorf("create execution: %w", err)
	}
	return res.LastInsertId()
}

// UpdateExecution builds a dynamic SET clause: every optional
// argument nil-means-unchanged.
func (s *Store) UpdateExecution(ctx context.Context, taskID string, status models.ExecutionStatus,
	startedAt, finishedAt *time.Time, result []byte, errorMessage, worker string) error {

	set := []string{"status = ?"}
	args := []any{string(status)}
	if startedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, *startedAt)
	}
	if finishedAt != nil {
		set = append(set, "finished_at = ?")
		args = append(args, *finishedAt)
	}
	if result != nil {
		set = append(set, "result = ?")
		args = append(args, string(result))
	}
	if errorMessage != "" {
		set = append(set, "error_message = ?")
		args = append(args, errorMessage)
	}
	if worker != "" {
		set = append(set, "worker = ?")
		args = append(args, worker)
	}
	args = append(args, taskID)

	query := "UPDATE scheduler_job_executions SET "
	for i, c := range set {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE task_id = ?"
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GetExecutionByTaskID(ctx context.Context, taskID string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM scheduler_job_executions WHERE task_id = ?`, taskID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM scheduler_job_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *Store) ExecutionsForJob(ctx context.Context, jobName string, limit int) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM scheduler_job_executions
		WHERE job_name = ? ORDER BY created_at DESC LIMIT ?`, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateProgress is an optimistic read-mutate-write: a lost update
// only loses an intermediate tick, which is acceptable.
func (s *Store) UpdateProgress(ctx context.Context, taskID, currentStep, stepStatus, message string, percent *int, stepData map[string]any) error {
	row := s.db.QueryRowContext(ctx, `SELECT progress FROM scheduler_job_executions WHERE task_id = ?`, taskID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var p models.Progress
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &p)
	}

	now := time.Now().UTC()
	if currentStep != "" && stepStatus != "" {
		var existing *models.ProgressStep
		for i := range p.Steps {
			if p.Steps[i].Name == currentStep {
				existing = &p.Steps[i]
				break
			}
		}
		switch stepStatus {
		case "started":
			if existing == nil {
				p.Steps = append(p.Steps, models.ProgressStep{
					Name: currentStep, Status: "running", StartedAt: &now, Message: message, Data: stepData,
				})
			} else {
				existing.Status = "running"
				existing.StartedAt = &now
				if message != "" {
					existing.Message = message
				}
			}
			p.CurrentStep = currentStep
		case "completed":
			if existing != nil {
				existing.Status = "completed"
				existing.FinishedAt = &now
				if message != "" {
					existing.Message = message
				}
				if stepData != nil {
					existing.Data = stepData
				}
			}
			p.CurrentStep = ""
		case "failed":
			if existing != nil {
				existing.Status = "failed"
				existing.FinishedAt = &now
				if message != "" {
					existing.Message = message
				}
			}
			p.CurrentStep = ""
		}
	}
	if message != "" && currentStep == "" {
		p.Message = message
	}
	if percent != nil {
		v := *percent
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		p.Percent = v
	}
	p.UpdatedAt = &now

	encoded, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE scheduler_job_executions SET progress = ? WHERE task_id = ?`, string(encoded), taskID)
	return err
}

// MarkStaleExecutions is the janitor query: running/queued executions
// older than timeout become timeout.
func (s *Store) MarkStaleExecutions(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-timeout)
	res, err := s.db.ExecContext(ctx, `UPDATE scheduler_job_executions
		SET status = 'timeout', finished_at = ?, error_message = 'Execution timed out'
		WHERE status IN ('running', 'queued') AND created_at < ?`, now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountFailedExecutions backs the job_failure_count rule condition.
func (s *Store) CountFailedExecutions(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduler_job_executions
		WHERE status = 'failed' AND started_at >= ?`, since).Scan(&count)
	return count, err
}

// CountRunningSince counts executions still running that started
// before cutoff, backing the long_running_job rule condition.
func (s *Store) CountRunningSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduler_job_executions
		WHERE status = 'running' AND started_at < ?`, cutoff).Scan(&count)
	return count, err
}

// ClearExecutions deletes execution history matching the filters.
func (s *Store) ClearExecutions(ctx context.Context, jobName, status string, before *time.Time) (int64, error) {
	query := "DELETE FROM scheduler_job_executions WHERE 1=1"
	var args []any
	if jobName != "" {
		query += " AND job_name = ?"
		args = append(args, jobName)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if before != nil {
		query += " AND created_at < ?"
		args = append(args, *before)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecutionStats aggregates per-status counts and average duration.
type ExecutionStats struct {
	Total, Success, Failed, Timeout, Running, Queued int
	AvgDurationSeconds                               *float64
}

func (s *Store) ExecutionStats(ctx context.Context, jobName string, window time.Duration, now time.Time) (*ExecutionStats, error) {
	query := `SELECT status, started_at, finished_at FROM scheduler_job_executions WHERE created_at >= ?`
	args := []any{now.Add(-window)}
	if jobName != "" {
		query += " AND job_name = ?"
		args = append(args, jobName)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := &ExecutionStats{}
	var totalDuration float64
	var durationCount int
	for rows.Next() {
		var status string
		var started, finished sql.NullTime
		if err := rows.Scan(&status, &started, &finished); err != nil {
			return nil, err
		}
		st.Total++
		switch status {
		case string(models.ExecutionSuccess):
			st.Success++
		case string(models.ExecutionFailed):
			st.Failed++
		case string(models.ExecutionTimeout):
			st.Timeout++
		case string(models.ExecutionRunning):
			st.Running++
		case string(models.ExecutionQueued):
			st.Queued++
		}
		if started.Valid && finished.Valid {
			totalDuration += finished.Time.Sub(started.Time).Seconds()
			durationCount++
		}
	}
	if durationCount > 0 {
		avg := totalDuration / float64(durationCount)
		st.AvgDurationSeconds = &avg
	}
	return st, rows.Err()
}
