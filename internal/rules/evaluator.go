// Package rules evaluates alert rules against OpsConductor's own
// operational telemetry: log error rates, job failures, worker-pool
// health and long-running executions. Triggered rules synthesize
// alerts through the alert manager; cleared conditions auto-resolve
// them.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opsconductor/opsconductor/internal/alertmanager"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// WorkerInspector reports the live worker count of the task runtime;
// satisfied by scheduler.Pool. An inspection error is treated as zero
// workers: not being able to see the pool is itself alarming.
type WorkerInspector interface {
	ActiveWorkers() (int, error)
}

// conditionConfig is the union of every condition_type's JSON knobs.
type conditionConfig struct {
	Threshold          int      `json:"threshold"`
	TimeWindowMinutes  int      `json:"time_window_minutes"`
	Levels             []string `json:"levels"`
	MinWorkers         int      `json:"min_workers"`
	MaxDurationMinutes int      `json:"max_duration_minutes"`
}

// Evaluator runs every enabled rule on a fixed cadence.
type Evaluator struct {
	store    *store.Store
	manager  *alertmanager.Manager
	workers  WorkerInspector
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func New(s *store.Store, manager *alertmanager.Manager, workers WorkerInspector, metrics *telemetry.Metrics) *Evaluator {
	return &Evaluator{
		store:   s,
		manager: manager,
		workers: workers,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Results summarizes one evaluation pass.
type Results struct {
	Evaluated int
	Created   int
	Resolved  int
	Errors    []string
}

// EvaluateAll runs every enabled rule, then the auto-resolve pass.
// Per-rule errors are collected, never fatal for the pass.
func (e *Evaluator) EvaluateAll(ctx context.Context) Results {
	var res Results
	rules, err := e.store.EnabledRules(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	byID := make(map[int64]*models.AlertRule, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
		created, err := e.evaluateRule(ctx, rule)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rule.Name, err))
			continue
		}
		res.Evaluated++
		if created {
			res.Created++
		}
	}

	resolved, err := e.autoResolve(ctx, byID)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.Resolved = resolved
	return res
}

// Run ticks EvaluateAll until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := e.EvaluateAll(ctx)
			if len(res.Errors) > 0 {
				log.Warn().Strs("errors", res.Errors).Msg("Rule evaluation pass had errors")
			}
		}
	}
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AlertRule) (bool, error) {
	inCooldown, err := e.inCooldown(ctx, rule)
	if err != nil {
		return false, err
	}
	if inCooldown {
		return false, nil
	}

	triggered, details, err := e.evaluateCondition(ctx, rule.ConditionType, rule.ConditionConfig)
	if err != nil {
		return false, err
	}
	if !triggered {
		return false, nil
	}

	alertKey := fmt.Sprintf("%s_%d", rule.Name, rule.ID)
	ruleID := rule.ID
	raw, _ := json.Marshal(details)
	alert := models.NormalizedAlert{
		SourceSystem: "system",
		SourceAlertID: alertKey,
		DeviceIP:     "127.0.0.1",
		DeviceName:   "opsconductor",
		Severity:     rule.Severity,
		Category:     rule.Category,
		AlertType:    alertKey,
		Title:        titleFromRuleName(rule.Name),
		Message:      buildMessage(rule.ConditionType, details),
		OccurredAt:   e.now(),
		RawData:      raw,
		Fingerprint:  models.Fingerprint("system", alertKey),
		RuleID:       &ruleID,
	}
	if err := e.manager.ProcessAlert(ctx, alert); err != nil {
		return false, err
	}
	if e.metrics != nil {
		e.metrics.RuleTriggers.WithLabelValues(rule.Name).Inc()
	}
	log.Info().Str("rule", rule.Name).Str("condition", string(rule.ConditionType)).Msg("Alert rule triggered")
	return true, nil
}

// inCooldown checks both live and archived alerts, so a rule does not
// re-fire the moment its previous alert resolves.
func (e *Evaluator) inCooldown(ctx context.Context, rule *models.AlertRule) (bool, error) {
	last, found, err := e.store.LastTriggeredForRule(ctx, rule.ID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	return e.now().Sub(last) < cooldown, nil
}

func (e *Evaluator) evaluateCondition(ctx context.Context, condition models.ConditionType, rawConfig []byte) (bool, map[string]any, error) {
	var cfg conditionConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return false, nil, fmt.Errorf("condition config: %w", err)
		}
	}

	switch condition {
	case models.ConditionErrorRate, models.ConditionErrorCount:
		return e.evalErrorCount(ctx, cfg)
	case models.ConditionJobFailureCount:
		return e.evalJobFailures(ctx, cfg)
	case models.ConditionWorkerCount:
		return e.evalWorkerCount(cfg)
	case models.ConditionLongRunningJob:
		return e.evalLongRunning(ctx, cfg)
	default:
		return false, nil, fmt.Errorf("unknown condition type %q", condition)
	}
}

func (e *Evaluator) evalErrorCount(ctx context.Context, cfg conditionConfig) (bool, map[string]any, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = 10
	}
	if cfg.TimeWindowMinutes == 0 {
		cfg.TimeWindowMinutes = 60
	}
	if len(cfg.Levels) == 0 {
		cfg.Levels = []string{"ERROR", "CRITICAL"}
	}

	since := e.now().Add(-time.Duration(cfg.TimeWindowMinutes) * time.Minute)
	count, err := e.store.CountSystemLogs(ctx, cfg.Levels, since)
	if err != nil {
		return false, nil, err
	}
	if count < cfg.Threshold {
		return false, nil, nil
	}
	return true, map[string]any{
		"error_count":         count,
		"threshold":           cfg.Threshold,
		"time_window_minutes": cfg.TimeWindowMinutes,
		"levels":              cfg.Levels,
	}, nil
}

func (e *Evaluator) evalJobFailures(ctx context.Context, cfg conditionConfig) (bool, map[string]any, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = 3
	}
	if cfg.TimeWindowMinutes == 0 {
		cfg.TimeWindowMinutes = 60
	}

	since := e.now().Add(-time.Duration(cfg.TimeWindowMinutes) * time.Minute)
	failed, err := e.store.CountFailedExecutions(ctx, since)
	if err != nil {
		return false, nil, err
	}
	if failed < cfg.Threshold {
		return false, nil, nil
	}
	return true, map[string]any{
		"failure_count":       failed,
		"threshold":           cfg.Threshold,
		"time_window_minutes": cfg.TimeWindowMinutes,
	}, nil
}

func (e *Evaluator) evalWorkerCount(cfg conditionConfig) (bool, map[string]any, error) {
	if cfg.MinWorkers == 0 {
		cfg.MinWorkers = 1
	}
	if e.workers == nil {
		return false, nil, fmt.Errorf("no worker inspector configured")
	}

	count, err := e.workers.ActiveWorkers()
	if err != nil {
		// Cannot see the pool: alert as if it were empty.
		return true, map[string]any{
			"worker_count": 0,
			"min_workers":  cfg.MinWorkers,
			"error":        err.Error(),
		}, nil
	}
	if count >= cfg.MinWorkers {
		return false, nil, nil
	}
	return true, map[string]any{
		"worker_count": count,
		"min_workers":  cfg.MinWorkers,
	}, nil
}

func (e *Evaluator) evalLongRunning(ctx context.Context, cfg conditionConfig) (bool, map[string]any, error) {
	if cfg.MaxDurationMinutes == 0 {
		cfg.MaxDurationMinutes = 30
	}

	cutoff := e.now().Add(-time.Duration(cfg.MaxDurationMinutes) * time.Minute)
	count, err := e.store.CountRunningSince(ctx, cutoff)
	if err != nil {
		return false, nil, err
	}
	if count == 0 {
		return false, nil, nil
	}
	return true, map[string]any{
		"max_duration_minutes": cfg.MaxDurationMinutes,
		"long_running_count":   count,
	}, nil
}

// autoResolve archives rule-created alerts whose condition no longer
// holds. Acknowledged alerts are skipped when the rule opts out of
// auto-resolving them.
func (e *Evaluator) autoResolve(ctx context.Context, rules map[int64]*models.AlertRule) (int, error) {
	alerts, err := e.store.ActiveAlertsWithRule(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, alert := range alerts {
		rule, ok := rules[*alert.RuleID]
		if !ok {
			continue // rule deleted or disabled; leave the alert to the expirer
		}
		if alert.Status == models.AlertStatusAcknowledged && !rule.AutoResolveAcknowledged {
			continue
		}

		triggered, _, err := e.evaluateCondition(ctx, rule.ConditionType, rule.ConditionConfig)
		if err != nil {
			log.Debug().Err(err).Str("rule", rule.Name).Msg("Auto-resolve condition check failed")
			continue
		}
		if triggered {
			continue
		}

		if err := e.manager.Resolve(ctx, alert.ID); err != nil {
			log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("Auto-resolve failed")
			continue
		}
		resolved++
		if e.metrics != nil {
			e.metrics.RuleAutoResolves.Inc()
		}
		log.Info().Str("rule", rule.Name).Int64("alert_id", alert.ID).Msg("Alert auto-resolved, condition cleared")
	}
	return resolved, nil
}

func titleFromRuleName(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func buildMessage(condition models.ConditionType, details map[string]any) string {
	switch condition {
	case models.ConditionErrorRate, models.ConditionErrorCount:
		return fmt.Sprintf("Detected %v errors in the last %v minutes (threshold: %v)",
			details["error_count"], details["time_window_minutes"], details["threshold"])
	case models.ConditionJobFailureCount:
		return fmt.Sprintf("%v job failures in the last %v minutes",
			details["failure_count"], details["time_window_minutes"])
	case models.ConditionWorkerCount:
		return fmt.Sprintf("Only %v workers online (minimum: %v)",
			details["worker_count"], details["min_workers"])
	case models.ConditionLongRunningJob:
		return fmt.Sprintf("%v jobs running longer than %v minutes",
			details["long_running_count"], details["max_duration_minutes"])
	default:
		return "Alert triggered"
	}
}
