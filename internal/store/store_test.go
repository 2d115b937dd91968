package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "opsconductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAlert(fingerprint string) models.NormalizedAlert {
	return models.NormalizedAlert{
		SourceSystem: "prtg",
		DeviceIP:     "10.1.1.1",
		Severity:     models.SeverityCritical,
		Category:     models.CategoryNetwork,
		AlertType:    "prtg_ping_down",
		Title:        "Ping - Down",
		OccurredAt:   time.Now().UTC(),
		Fingerprint:  fingerprint,
	}
}

func TestOpenMigratesAllTables(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{
		"system_alerts", "alert_history", "alert_rules",
		"severity_mappings", "category_mappings", "snmp_trap_mappings",
		"notification_channels", "notification_rules", "notification_history",
		"scheduler_jobs", "scheduler_job_executions",
		"trap_log", "trap_events", "trap_receiver_status",
		"connectors", "system_logs",
	} {
		var n int
		require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n), table)
	}
}

func TestInsertAndFindActiveAlert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.InsertActiveAlert(ctx, testAlert("fp-1"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, created.Status)
	assert.Equal(t, 1, created.OccurrenceCount)
	require.NotNil(t, created.ExpiresAt)

	found, err := s.FindActiveByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = s.FindActiveByFingerprint(ctx, "fp-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniquePartialIndexBlocksSecondActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertActiveAlert(ctx, testAlert("fp-dup"), time.Hour)
	require.NoError(t, err)
	_, err = s.InsertActiveAlert(ctx, testAlert("fp-dup"), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")

	// Archiving frees the fingerprint for a new raise.
	active, err := s.FindActiveByFingerprint(ctx, "fp-dup")
	require.NoError(t, err)
	require.NoError(t, s.ArchiveAlert(ctx, active.ID, models.AlertStatusResolved, time.Now().UTC()))
	_, err = s.InsertActiveAlert(ctx, testAlert("fp-dup"), time.Hour)
	require.NoError(t, err)
}

func TestArchivePreservesFieldsAndOriginalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.InsertActiveAlert(ctx, testAlert("fp-arch"), time.Hour)
	require.NoError(t, err)
	at := time.Now().UTC()
	require.NoError(t, s.ArchiveAlert(ctx, created.ID, models.AlertStatusResolved, at))

	var originalID int64
	var status, alertType string
	require.NoError(t, s.DB().QueryRow(
		`SELECT original_id, status, alert_type FROM alert_history WHERE fingerprint = 'fp-arch'`).
		Scan(&originalID, &status, &alertType))
	assert.Equal(t, created.ID, originalID)
	assert.Equal(t, "resolved", status)
	assert.Equal(t, "prtg_ping_down", alertType)

	_, err = s.GetAlert(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveRejectsNonTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	created, err := s.InsertActiveAlert(context.Background(), testAlert("fp-x"), time.Hour)
	require.NoError(t, err)
	err = s.ArchiveAlert(context.Background(), created.ID, models.AlertStatusActive, time.Now().UTC())
	assert.Error(t, err)
}

func TestAcknowledgeOnlyActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created, err := s.InsertActiveAlert(ctx, testAlert("fp-ack"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.AcknowledgeAlert(ctx, created.ID, "noc", time.Now().UTC()))
	// Second acknowledge finds no active row.
	assert.ErrorIs(t, s.AcknowledgeAlert(ctx, created.ID, "noc", time.Now().UTC()), ErrNotFound)

	got, err := s.GetAlert(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "noc", got.AcknowledgedBy)
}

func TestDueJobsSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	maxRuns := 2

	jobs := []models.SchedulerJob{
		{Name: "due-null-next", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true},
		{Name: "due-past-next", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true, NextRunAt: &past},
		{Name: "not-due-future", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true, NextRunAt: &future},
		{Name: "disabled", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: false},
		{Name: "not-started", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true, StartAt: &future},
		{Name: "ended", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true, EndAt: &past},
		{Name: "exhausted", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true, MaxRuns: &maxRuns, RunCount: 2},
	}
	for _, j := range jobs {
		require.NoError(t, s.UpsertJob(ctx, j))
	}

	due, err := s.DueJobs(ctx, now)
	require.NoError(t, err)

	names := make([]string, len(due))
	for i, j := range due {
		names[i] = j.Name
	}
	assert.ElementsMatch(t, []string{"due-null-next", "due-past-next"}, names)
	// NULLS FIRST ordering.
	assert.Equal(t, "due-null-next", names[0])
}

func TestMarkJobRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertJob(ctx, models.SchedulerJob{
		Name: "j", TaskName: "t", ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, Enabled: true,
	}))

	now := time.Now().UTC()
	next := now.Add(time.Minute)
	require.NoError(t, s.MarkJobRun(ctx, "j", now, &next))

	job, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 1, job.RunCount)
	require.NotNil(t, job.LastRunAt)
	require.NotNil(t, job.NextRunAt)
}

func TestMarkStaleExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := now.Add(-30 * time.Minute)
	fresh := now.Add(-time.Minute)
	_, err := s.DB().Exec(`INSERT INTO scheduler_job_executions
		(job_name, task_name, task_id, status, created_at) VALUES
		('a', 't', 'stale-running', 'running', ?),
		('a', 't', 'stale-queued', 'queued', ?),
		('a', 't', 'fresh-running', 'running', ?),
		('a', 't', 'done', 'success', ?)`, stale, stale, fresh, stale)
	require.NoError(t, err)

	n, err := s.MarkStaleExecutions(ctx, 10*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, taskID := range []string{"stale-running", "stale-queued"} {
		exec, err := s.GetExecutionByTaskID(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionTimeout, exec.Status)
		assert.Equal(t, "Execution timed out", exec.ErrorMessage)
	}
	exec, err := s.GetExecutionByTaskID(ctx, "fresh-running")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, exec.Status)
}

func TestUpdateProgressLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateExecution(ctx, models.Execution{
		JobName: "j", TaskName: "t", TaskID: "task-1",
		Status: models.ExecutionQueued, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	pct := 25
	require.NoError(t, s.UpdateProgress(ctx, "task-1", "fetch", "started", "fetching", &pct, nil))
	pct = 70
	require.NoError(t, s.UpdateProgress(ctx, "task-1", "fetch", "completed", "", &pct, map[string]any{"rows": 12}))

	exec, err := s.GetExecutionByTaskID(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, exec.Progress.Steps, 1)
	step := exec.Progress.Steps[0]
	assert.Equal(t, "fetch", step.Name)
	assert.Equal(t, "completed", step.Status)
	assert.NotNil(t, step.StartedAt)
	assert.NotNil(t, step.FinishedAt)
	assert.Equal(t, 70, exec.Progress.Percent)
	assert.Empty(t, exec.Progress.CurrentStep)
}

func TestUpdateProgressClampsPercent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateExecution(ctx, models.Execution{
		JobName: "j", TaskName: "t", TaskID: "task-2",
		Status: models.ExecutionQueued, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	over := 150
	require.NoError(t, s.UpdateProgress(ctx, "task-2", "", "", "halfway", &over, nil))
	exec, err := s.GetExecutionByTaskID(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, 100, exec.Progress.Percent)
	assert.Equal(t, "halfway", exec.Progress.Message)
}

func TestExecutionStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	started := now.Add(-10 * time.Minute)
	finished := started.Add(2 * time.Minute)

	_, err := s.DB().Exec(`INSERT INTO scheduler_job_executions
		(job_name, task_name, task_id, status, created_at, started_at, finished_at) VALUES
		('a', 't', 'e1', 'success', ?, ?, ?),
		('a', 't', 'e2', 'failed', ?, ?, ?),
		('b', 't', 'e3', 'running', ?, ?, NULL)`,
		started, started, finished,
		started, started, finished,
		started, started)
	require.NoError(t, err)

	stats, err := s.ExecutionStats(ctx, "", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	require.NotNil(t, stats.AvgDurationSeconds)
	assert.InDelta(t, 120, *stats.AvgDurationSeconds, 1)

	scoped, err := s.ExecutionStats(ctx, "b", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.Total)
}

func TestClearExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Hour)
	_, err := s.DB().Exec(`INSERT INTO scheduler_job_executions
		(job_name, task_name, task_id, status, created_at) VALUES
		('a', 't', 'c1', 'success', ?),
		('a', 't', 'c2', 'failed', ?),
		('b', 't', 'c3', 'success', ?)`, at, at, at)
	require.NoError(t, err)

	n, err := s.ClearExecutions(ctx, "a", "success", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLastTriggeredForRuleChecksBothTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LastTriggeredForRule(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)

	older := time.Now().UTC().Add(-2 * time.Hour)
	newer := time.Now().UTC().Add(-10 * time.Minute)
	alert := testAlert("fp-rule")
	ruleID := int64(42)
	alert.RuleID = &ruleID
	created, err := s.InsertActiveAlert(ctx, alert, time.Hour)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE system_alerts SET triggered_at = ? WHERE id = ?`, older, created.ID)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO alert_history
		(fingerprint, source_system, severity, category, alert_type, occurred_at, status,
		 occurrence_count, triggered_at, last_seen_at, rule_id)
		VALUES ('fp-rule-2', 'system', 'major', 'application', 'x', ?, 'resolved', 1, ?, ?, 42)`,
		newer, newer, newer)
	require.NoError(t, err)

	last, found, err := s.LastTriggeredForRule(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, newer, last, 2*time.Second)
}

func TestAlertStatsGrouping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertActiveAlert(ctx, testAlert("fp-s1"), time.Hour)
	require.NoError(t, err)
	a2 := testAlert("fp-s2")
	a2.Severity = models.SeverityWarning
	a2.Category = models.CategoryPower
	_, err = s.InsertActiveAlert(ctx, a2, time.Hour)
	require.NoError(t, err)

	stats, err := s.AlertStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus["active"])
	assert.Equal(t, 1, stats.BySeverity["critical"])
	assert.Equal(t, 1, stats.BySeverity["warning"])
	assert.Equal(t, 1, stats.ByCategory["power"])
}

func TestConnectorStatusRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertConnector(ctx, models.Connector{
		ConnectorType: "prtg", Config: []byte(`{}`), Enabled: true,
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateConnectorStatus(ctx, id, models.ConnectorError, "timeout"))
	got, err := s.GetConnector(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorError, got.Status)
	assert.Equal(t, "timeout", got.LastError)

	require.NoError(t, s.RecordConnectorPoll(ctx, id, time.Now().UTC(), 5))
	got, err = s.GetConnector(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorConnected, got.Status)
	assert.Empty(t, got.LastError)
	assert.Equal(t, int64(5), got.AlertsReceived)
	assert.NotNil(t, got.LastPollAt)
}
