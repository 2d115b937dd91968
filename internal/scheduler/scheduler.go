// Package scheduler drives OpsConductor's background work: due-job
// selection from the scheduler_jobs table, dispatch to a fixed worker
// pool, execution records with structured progress, and stale-execution
// recovery.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/opsconductor/opsconductor/internal/auditctx"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Task names dispatched through the pool.
const (
	TaskJobRun         = "opsconductor.job.run"
	TaskWorkflowRun    = "opsconductor.workflow.run"
	TaskAlertsEvaluate = "opsconductor.alerts.evaluate"
	TaskDiscoveryScan  = "opsconductor.discovery.scan_chunk"
)

// ErrCancelled is returned by ExecContext methods once an operator has
// flipped the execution to a terminal state; the task unwinds on the
// next progress tick.
var ErrCancelled = errors.New("scheduler: execution cancelled")

// ExecContext is the task handler's view of its execution record.
type ExecContext struct {
	TaskID  string
	JobName string
	Config  json.RawMessage

	store *store.Store
}

// Progress appends or updates a named step and the overall percent.
// It also observes operator cancellation: ErrCancelled means stop.
func (e *ExecContext) Progress(ctx context.Context, step, stepStatus, message string, percent int) error {
	exec, err := e.store.GetExecutionByTaskID(ctx, e.TaskID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return ErrCancelled
	}
	return e.store.UpdateProgress(ctx, e.TaskID, step, stepStatus, message, &percent, nil)
}

// TaskFunc executes one dispatched task. The returned value is
// marshalled into the execution's result column.
type TaskFunc func(ctx context.Context, exec *ExecContext) (any, error)

// Scheduler owns the tick loop and the janitor.
type Scheduler struct {
	store   *store.Store
	pool    *Pool
	metrics *telemetry.Metrics

	tickInterval time.Duration
	staleTimeout time.Duration
	worker       string

	mu    sync.RWMutex
	tasks map[string]TaskFunc

	now func() time.Time
}

func New(s *store.Store, pool *Pool, tickInterval, staleTimeout time.Duration, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		store:        s,
		pool:         pool,
		metrics:      metrics,
		tickInterval: tickInterval,
		staleTimeout: staleTimeout,
		worker:       "opsconductor",
		tasks:        map[string]TaskFunc{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RegisterTask binds a handler to a task_name.
func (s *Scheduler) RegisterTask(taskName string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskName] = fn
}

// Pool exposes the worker pool (for the rule evaluator's inspector).
func (s *Scheduler) Pool() *Pool { return s.pool }

// Run starts the pool and ticks until ctx is cancelled, then drains
// in-flight dispatches.
func (s *Scheduler) Run(ctx context.Context) {
	s.pool.Start(ctx)
	defer s.pool.Stop(2 * s.tickInterval)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one due-job selection pass plus the janitor. Per-job
// errors never stop the pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	if n, err := s.store.MarkStaleExecutions(ctx, s.staleTimeout, now); err != nil {
		log.Warn().Err(err).Msg("Stale-execution janitor failed")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("Recovered stale executions")
	}

	jobs, err := s.store.DueJobs(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("Due-job selection failed")
		return
	}
	for _, job := range jobs {
		if err := s.dispatchJob(ctx, job, now); err != nil {
			log.Warn().Err(err).Str("job", job.Name).Msg("Job dispatch failed")
		}
	}
}

func (s *Scheduler) dispatchJob(ctx context.Context, job *models.SchedulerJob, now time.Time) error {
	s.mu.RLock()
	fn, ok := s.tasks[job.TaskName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for task %q", job.TaskName)
	}

	taskID := ulid.Make().String()
	triggeredBy, _ := json.Marshal(auditctx.From(ctx))
	if _, err := s.store.CreateExecution(ctx, models.Execution{
		JobName:     job.Name,
		TaskName:    job.TaskName,
		TaskID:      taskID,
		Status:      models.ExecutionQueued,
		CreatedAt:   now,
		TriggeredBy: triggeredBy,
	}); err != nil {
		return err
	}

	config := job.Config
	jobName := job.Name
	dispatched := s.pool.Dispatch(taskID, jobName, func(runCtx context.Context) {
		s.execute(runCtx, taskID, jobName, job.TaskName, config, fn)
	})
	if !dispatched {
		// Queue full: the execution stays queued; the janitor times it
		// out if no later tick picks the job up again.
		return fmt.Errorf("worker queue full for job %q", jobName)
	}
	if s.metrics != nil {
		s.metrics.JobsDispatched.Inc()
	}

	next := s.nextRun(job, now)
	return s.store.MarkJobRun(ctx, job.Name, now, next)
}

// nextRun computes the follow-up deadline; nil for cron expressions
// that never match again and for exhausted interval jobs.
func (s *Scheduler) nextRun(job *models.SchedulerJob, now time.Time) *time.Time {
	switch job.ScheduleType {
	case models.ScheduleCron:
		sched, err := ParseCron(job.CronExpression)
		if err != nil {
			log.Warn().Err(err).Str("job", job.Name).Msg("Invalid cron expression")
			return nil
		}
		next := sched.Next(now)
		if next.IsZero() {
			return nil
		}
		return &next
	default:
		if job.IntervalSeconds <= 0 {
			return nil
		}
		next := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		return &next
	}
}

// execute runs one task inside a pool worker, maintaining the
// execution record through its lifecycle.
func (s *Scheduler) execute(ctx context.Context, taskID, jobName, taskName string, config json.RawMessage, fn TaskFunc) {
	started := s.now()
	if err := s.store.UpdateExecution(ctx, taskID, models.ExecutionRunning, &started, nil, nil, "", s.worker); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("Failed to mark execution running")
	}

	exec := &ExecContext{TaskID: taskID, JobName: jobName, Config: config, store: s.store}

	var result any
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("task panicked: %v", rec)
			}
		}()
		result, err = fn(ctx, exec)
	}()

	finished := s.now()
	switch {
	case errors.Is(err, ErrCancelled):
		// An operator already moved the record to a terminal state;
		// leave it as they set it.
		log.Info().Str("task_id", taskID).Msg("Execution cancelled by operator")
	case err != nil:
		if uerr := s.store.UpdateExecution(ctx, taskID, models.ExecutionFailed, nil, &finished, nil, err.Error(), s.worker); uerr != nil {
			log.Warn().Err(uerr).Str("task_id", taskID).Msg("Failed to mark execution failed")
		}
		if s.metrics != nil {
			s.metrics.ExecutionsTotal.WithLabelValues(taskName, string(models.ExecutionFailed)).Inc()
		}
		log.Warn().Err(err).Str("job", jobName).Str("task_id", taskID).Msg("Execution failed")
	default:
		var encoded []byte
		if result != nil {
			encoded, _ = json.Marshal(result)
		} else {
			encoded = []byte("{}")
		}
		if uerr := s.store.UpdateExecution(ctx, taskID, models.ExecutionSuccess, nil, &finished, encoded, "", s.worker); uerr != nil {
			log.Warn().Err(uerr).Str("task_id", taskID).Msg("Failed to mark execution succeeded")
		}
		if s.metrics != nil {
			s.metrics.ExecutionsTotal.WithLabelValues(taskName, string(models.ExecutionSuccess)).Inc()
		}
	}
}
