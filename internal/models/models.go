// Package models defines the data shapes shared by every OpsConductor
// component: the canonical alert, its persisted form, mapping rows,
// rules, scheduler jobs and executions, and registered connectors.
package models

import "time"

// Severity is a closed enumeration; never compare against raw strings
// outside this package.
type Severity string

const (
	SeverityClear    Severity = "clear"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityClear, SeverityInfo, SeverityWarning, SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryCompute     Category = "compute"
	CategoryStorage     Category = "storage"
	CategoryApplication Category = "application"
	CategorySecurity    Category = "security"
	CategoryPower       Category = "power"
	CategoryEnvironment Category = "environment"
	CategoryWireless    Category = "wireless"
	CategoryVideo       Category = "video"
	CategoryUnknown     Category = "unknown"
)

// AlertStatus is the lifecycle state of a StoredAlert.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusExpired      AlertStatus = "expired"
)

// ConnectorState is the connector lifecycle state machine.
type ConnectorState string

const (
	ConnectorDisconnected ConnectorState = "disconnected"
	ConnectorConnecting   ConnectorState = "connecting"
	ConnectorConnected    ConnectorState = "connected"
	ConnectorError        ConnectorState = "error"
)

// ConditionType selects the rule-evaluator strategy.
type ConditionType string

const (
	ConditionErrorRate       ConditionType = "error_rate"
	ConditionErrorCount      ConditionType = "error_count"
	ConditionJobFailureCount ConditionType = "job_failure_count"
	ConditionWorkerCount     ConditionType = "worker_count"
	ConditionLongRunningJob  ConditionType = "long_running_job"
)

// ScheduleType selects how a SchedulerJob computes its next run.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// ExecutionStatus is the terminal/non-terminal state of an Execution.
type ExecutionStatus string

const (
	ExecutionQueued  ExecutionStatus = "queued"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionTimeout ExecutionStatus = "timeout"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionTimeout:
		return true
	}
	return false
}

// NormalizedAlert is the canonical, immutable-after-construction value
// object every connector normalizer produces.
type NormalizedAlert struct {
	SourceSystem  string
	SourceAlertID string
	DeviceIP      string
	DeviceName    string
	Severity      Severity
	Category      Category
	AlertType     string
	Title         string
	Message       string
	OccurredAt    time.Time
	IsClear       bool
	RawData       []byte
	Fingerprint   string
	// RuleID is set only when the rule evaluator synthesizes this alert.
	RuleID *int64
}

// StoredAlert is the persisted record backing system_alerts/alert_history.
type StoredAlert struct {
	ID              int64
	Fingerprint     string
	SourceSystem    string
	SourceAlertID   string
	DeviceIP        string
	DeviceName      string
	Severity        Severity
	Category        Category
	AlertType       string
	Title           string
	Message         string
	OccurredAt      time.Time
	RawData         []byte
	Status          AlertStatus
	OccurrenceCount int
	TriggeredAt     time.Time
	LastSeenAt      time.Time
	AcknowledgedAt  *time.Time
	AcknowledgedBy  string
	ResolvedAt      *time.Time
	ExpiresAt       *time.Time
	RuleID          *int64
}

// MappingRow is one row of severity_mappings, category_mappings or
// snmp_trap_mappings, as loaded into the hot cache.
type MappingRow struct {
	ConnectorType   string
	SourceField     string
	SourceValue     string
	TargetSeverity  Severity
	TargetCategory  Category
	TrapOID         string
	AlertType       string
	IsClear         bool
	CorrelationKey  string
	Vendor          string
	Description     string
	Priority        int
	Enabled         bool
}

// AlertRule drives the rule evaluator.
type AlertRule struct {
	ID                      int64
	Name                    string
	Enabled                 bool
	Severity                Severity
	Category                Category
	ConditionType           ConditionType
	ConditionConfig         []byte // JSON
	CooldownMinutes         int
	AutoResolveAcknowledged bool // Open Question #3 — per-rule, defaults true
}

// SchedulerJob is a row of scheduler_jobs.
type SchedulerJob struct {
	Name            string
	TaskName        string
	Config          []byte // JSON
	ScheduleType    ScheduleType
	IntervalSeconds int
	CronExpression  string
	Enabled         bool
	StartAt         *time.Time
	EndAt           *time.Time
	MaxRuns         *int
	RunCount        int
	LastRunAt       *time.Time
	NextRunAt       *time.Time
	JobDefinitionID *int64
}

// ProgressStep is one entry of an Execution's progress.steps array.
type ProgressStep struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Progress is the structured, optimistically-updated progress blob
// that workers write back read-modify-write.
type Progress struct {
	Steps       []ProgressStep `json:"steps"`
	CurrentStep string         `json:"current_step,omitempty"`
	Percent     int            `json:"percent"`
	Message     string         `json:"message,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// Execution is a row of scheduler_job_executions.
type Execution struct {
	ID           int64
	JobName      string
	TaskName     string
	TaskID       string
	Status       ExecutionStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Result       []byte // JSON
	ErrorMessage string
	Worker       string
	TriggeredBy  []byte // JSON snapshot of {user_id, username, display_name}
	Progress     Progress
}

// Connector is a registered connector instance.
type Connector struct {
	ID             int64
	ConnectorType  string
	Config         []byte // JSON
	Enabled        bool
	Status         ConnectorState
	LastPollAt     *time.Time
	AlertsReceived int64
	LastError      string
}
