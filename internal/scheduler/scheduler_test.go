package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "opsconductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newScheduler(t *testing.T, s *store.Store) *Scheduler {
	t.Helper()
	pool := NewPool(2)
	sched := New(s, pool, 5*time.Second, 30*time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop(time.Second)
	})
	return sched
}

func seedIntervalJob(t *testing.T, s *store.Store, name string, interval int) {
	t.Helper()
	require.NoError(t, s.UpsertJob(context.Background(), models.SchedulerJob{
		Name:            name,
		TaskName:        TaskJobRun,
		Config:          []byte(`{}`),
		ScheduleType:    models.ScheduleInterval,
		IntervalSeconds: interval,
		Enabled:         true,
	}))
}

func waitForExecutions(t *testing.T, s *store.Store, jobName string, status models.ExecutionStatus, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		execs, err := s.ExecutionsForJob(context.Background(), jobName, 10)
		if err != nil {
			return false
		}
		n := 0
		for _, e := range execs {
			if e.Status == status {
				n++
			}
		}
		return n >= want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTickDispatchesDueJob(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)

	var ran atomic.Int32
	sched.RegisterTask(TaskJobRun, func(_ context.Context, exec *ExecContext) (any, error) {
		ran.Add(1)
		return map[string]int{"polled": 3}, nil
	})
	seedIntervalJob(t, s, "poll-prtg", 300)

	sched.Tick(context.Background())
	waitForExecutions(t, s, "poll-prtg", models.ExecutionSuccess, 1)
	assert.Equal(t, int32(1), ran.Load())

	job, err := s.GetJob(context.Background(), "poll-prtg")
	require.NoError(t, err)
	assert.Equal(t, 1, job.RunCount)
	require.NotNil(t, job.LastRunAt)
	require.NotNil(t, job.NextRunAt)
	assert.WithinDuration(t, job.LastRunAt.Add(300*time.Second), *job.NextRunAt, time.Second)

	execs, err := s.ExecutionsForJob(context.Background(), "poll-prtg", 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecutionSuccess, execs[0].Status)
	assert.NotNil(t, execs[0].StartedAt)
	assert.NotNil(t, execs[0].FinishedAt)
	assert.JSONEq(t, `{"polled":3}`, string(execs[0].Result))
}

func TestJobNotDueNotDispatched(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(context.Context, *ExecContext) (any, error) { return nil, nil })

	seedIntervalJob(t, s, "later", 300)
	future := time.Now().UTC().Add(time.Hour)
	_, err := s.DB().Exec(`UPDATE scheduler_jobs SET next_run_at = ? WHERE name = 'later'`, future)
	require.NoError(t, err)

	sched.Tick(context.Background())
	time.Sleep(50 * time.Millisecond)

	execs, err := s.ExecutionsForJob(context.Background(), "later", 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestMaxRunsRespected(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(context.Context, *ExecContext) (any, error) { return nil, nil })

	maxRuns := 1
	require.NoError(t, s.UpsertJob(context.Background(), models.SchedulerJob{
		Name:            "once",
		TaskName:        TaskJobRun,
		ScheduleType:    models.ScheduleInterval,
		IntervalSeconds: 0, // due immediately, no follow-up
		Enabled:         true,
		MaxRuns:         &maxRuns,
	}))

	sched.Tick(context.Background())
	waitForExecutions(t, s, "once", models.ExecutionSuccess, 1)

	sched.Tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	execs, err := s.ExecutionsForJob(context.Background(), "once", 10)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestFailedTaskRecordsError(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(context.Context, *ExecContext) (any, error) {
		return nil, assert.AnError
	})
	seedIntervalJob(t, s, "broken", 300)

	sched.Tick(context.Background())
	waitForExecutions(t, s, "broken", models.ExecutionFailed, 1)

	execs, err := s.ExecutionsForJob(context.Background(), "broken", 1)
	require.NoError(t, err)
	assert.Contains(t, execs[0].ErrorMessage, assert.AnError.Error())
}

func TestPanickingTaskRecordsFailure(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(context.Context, *ExecContext) (any, error) {
		panic("boom")
	})
	seedIntervalJob(t, s, "panicky", 300)

	sched.Tick(context.Background())
	waitForExecutions(t, s, "panicky", models.ExecutionFailed, 1)

	execs, err := s.ExecutionsForJob(context.Background(), "panicky", 1)
	require.NoError(t, err)
	assert.Contains(t, execs[0].ErrorMessage, "task panicked")
}

func TestProgressStepsRecorded(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(ctx context.Context, exec *ExecContext) (any, error) {
		if err := exec.Progress(ctx, "fetch", "started", "fetching sensors", 10); err != nil {
			return nil, err
		}
		if err := exec.Progress(ctx, "fetch", "completed", "", 60); err != nil {
			return nil, err
		}
		return nil, nil
	})
	seedIntervalJob(t, s, "progressive", 300)

	sched.Tick(context.Background())
	waitForExecutions(t, s, "progressive", models.ExecutionSuccess, 1)

	execs, err := s.ExecutionsForJob(context.Background(), "progressive", 1)
	require.NoError(t, err)
	p := execs[0].Progress
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "fetch", p.Steps[0].Name)
	assert.Equal(t, "completed", p.Steps[0].Status)
	assert.Equal(t, 60, p.Percent)
}

func TestOperatorCancellationObservedOnProgressTick(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)

	cancelled := make(chan struct{})
	sched.RegisterTask(TaskJobRun, func(ctx context.Context, exec *ExecContext) (any, error) {
		// Operator flips the execution mid-run.
		finished := time.Now().UTC()
		require.NoError(t, s.UpdateExecution(ctx, exec.TaskID, models.ExecutionFailed, nil, &finished, nil, "cancelled by operator", ""))

		err := exec.Progress(ctx, "step", "started", "", 50)
		if err == ErrCancelled {
			close(cancelled)
		}
		return nil, err
	})
	seedIntervalJob(t, s, "cancellable", 300)

	sched.Tick(context.Background())
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not observe cancellation")
	}

	// The operator's terminal state stands.
	require.Eventually(t, func() bool {
		execs, err := s.ExecutionsForJob(context.Background(), "cancellable", 1)
		return err == nil && len(execs) == 1 && execs[0].ErrorMessage == "cancelled by operator"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStaleExecutionRecovery(t *testing.T) {
	s := openStore(t)
	sched := New(s, NewPool(1), 5*time.Second, 10*time.Minute, nil)

	started := time.Now().UTC().Add(-30 * time.Minute)
	_, err := s.DB().Exec(`INSERT INTO scheduler_job_executions
		(job_name, task_name, task_id, status, created_at, started_at)
		VALUES ('stuck', ?, 'stuck-task', 'running', ?, ?)`, TaskJobRun, started, started)
	require.NoError(t, err)

	sched.Tick(context.Background())

	exec, err := s.GetExecutionByTaskID(context.Background(), "stuck-task")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionTimeout, exec.Status)
	assert.Equal(t, "Execution timed out", exec.ErrorMessage)
	assert.NotNil(t, exec.FinishedAt)
}

func TestCronJobNextRun(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskAlertsEvaluate, func(context.Context, *ExecContext) (any, error) { return nil, nil })

	require.NoError(t, s.UpsertJob(context.Background(), models.SchedulerJob{
		Name:           "nightly-eval",
		TaskName:       TaskAlertsEvaluate,
		ScheduleType:   models.ScheduleCron,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	}))

	sched.Tick(context.Background())
	waitForExecutions(t, s, "nightly-eval", models.ExecutionSuccess, 1)

	job, err := s.GetJob(context.Background(), "nightly-eval")
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, 3, job.NextRunAt.Hour())
	assert.Equal(t, 0, job.NextRunAt.Minute())
	assert.True(t, job.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))
}

func TestTriggeredByCapturedFromContext(t *testing.T) {
	s := openStore(t)
	sched := newScheduler(t, s)
	sched.RegisterTask(TaskJobRun, func(context.Context, *ExecContext) (any, error) { return nil, nil })
	seedIntervalJob(t, s, "attributed", 300)

	ctx := context.Background()
	ctx = withIdentity(ctx)
	sched.Tick(ctx)
	waitForExecutions(t, s, "attributed", models.ExecutionSuccess, 1)

	execs, err := s.ExecutionsForJob(context.Background(), "attributed", 1)
	require.NoError(t, err)
	var id map[string]any
	require.NoError(t, json.Unmarshal(execs[0].TriggeredBy, &id))
	assert.Equal(t, "ops-admin", id["Username"])
}
