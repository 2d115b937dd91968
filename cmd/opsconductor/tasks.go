package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsconductor/opsconductor/internal/alertmanager"
	"github.com/opsconductor/opsconductor/internal/connector"
	"github.com/opsconductor/opsconductor/internal/rules"
	"github.com/opsconductor/opsconductor/internal/scheduler"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/rs/zerolog/log"
)

// registerTasks binds every dispatchable task_name to its handler.
func registerTasks(sched *scheduler.Scheduler, registry *connector.Registry,
	st *store.Store, manager *alertmanager.Manager, evaluator *rules.Evaluator) {

	sched.RegisterTask(scheduler.TaskJobRun, connectorPollTask(registry, st, manager))
	sched.RegisterTask(scheduler.TaskAlertsEvaluate, func(ctx context.Context, exec *scheduler.ExecContext) (any, error) {
		res := evaluator.EvaluateAll(ctx)
		if len(res.Errors) > 0 {
			log.Warn().Strs("errors", res.Errors).Msg("Scheduled rule evaluation had errors")
		}
		return map[string]any{
			"evaluated": res.Evaluated,
			"created":   res.Created,
			"resolved":  res.Resolved,
			"errors":    res.Errors,
		}, nil
	})
	sched.RegisterTask(scheduler.TaskWorkflowRun, workflowTask(registry, st, manager, evaluator))
	sched.RegisterTask(scheduler.TaskDiscoveryScan, discoveryTask(registry))
}

// connectorPollTask runs one on-demand poll of a stored connector.
// Config: {"connector_id": N}.
func connectorPollTask(registry *connector.Registry, st *store.Store, manager *alertmanager.Manager) scheduler.TaskFunc {
	return func(ctx context.Context, exec *scheduler.ExecContext) (any, error) {
		var cfg struct {
			ConnectorID int64 `json:"connector_id"`
		}
		if err := json.Unmarshal(exec.Config, &cfg); err != nil {
			return nil, fmt.Errorf("job config: %w", err)
		}

		row, err := st.GetConnector(ctx, cfg.ConnectorID)
		if err != nil {
			return nil, fmt.Errorf("connector %d: %w", cfg.ConnectorID, err)
		}
		inst, err := registry.Build(row.ConnectorType, row.Config)
		if err != nil {
			return nil, err
		}
		poller, ok := inst.(connector.Poller)
		if !ok {
			return nil, fmt.Errorf("connector %d (%s) is not poll-capable", row.ID, row.ConnectorType)
		}

		if err := exec.Progress(ctx, "poll", "started", "polling "+row.ConnectorType, 10); err != nil {
			return nil, err
		}
		if err := poller.Start(ctx); err != nil {
			return nil, err
		}
		defer poller.Stop()

		alerts, err := poller.Poll(ctx)
		if err != nil {
			return nil, err
		}
		accepted := 0
		for _, alert := range alerts {
			if perr := manager.ProcessAlert(ctx, alert); perr != nil {
				log.Warn().Err(perr).Str("fingerprint", alert.Fingerprint).Msg("Failed to process polled alert")
				continue
			}
			accepted++
		}
		if err := exec.Progress(ctx, "poll", "completed", "", 100); err != nil {
			return nil, err
		}
		return map[string]any{"polled": len(alerts), "accepted": accepted}, nil
	}
}

// workflowTask runs a stored step sequence, each step delegating to a
// connector poll or a rule evaluation. Config:
// {"steps":[{"name":"...","task":"...","config":{...}}]}.
func workflowTask(registry *connector.Registry, st *store.Store,
	manager *alertmanager.Manager, evaluator *rules.Evaluator) scheduler.TaskFunc {

	pollStep := connectorPollTask(registry, st, manager)

	return func(ctx context.Context, exec *scheduler.ExecContext) (any, error) {
		var cfg struct {
			Steps []struct {
				Name   string          `json:"name"`
				Task   string          `json:"task"`
				Config json.RawMessage `json:"config"`
			} `json:"steps"`
		}
		if err := json.Unmarshal(exec.Config, &cfg); err != nil {
			return nil, fmt.Errorf("workflow config: %w", err)
		}
		if len(cfg.Steps) == 0 {
			return nil, fmt.Errorf("workflow has no steps")
		}

		results := make([]map[string]any, 0, len(cfg.Steps))
		for i, step := range cfg.Steps {
			name := step.Name
			if name == "" {
				name = fmt.Sprintf("step-%d", i+1)
			}
			percent := (i * 100) / len(cfg.Steps)
			if err := exec.Progress(ctx, name, "started", "", percent); err != nil {
				return nil, err
			}

			var stepResult any
			var err error
			switch step.Task {
			case scheduler.TaskJobRun:
				stepExec := *exec
				stepExec.Config = step.Config
				stepResult, err = pollStep(ctx, &stepExec)
			case scheduler.TaskAlertsEvaluate:
				res := evaluator.EvaluateAll(ctx)
				stepResult = map[string]any{"created": res.Created, "resolved": res.Resolved}
			default:
				err = fmt.Errorf("unknown workflow step task %q", step.Task)
			}
			if err != nil {
				_ = exec.Progress(ctx, name, "failed", err.Error(), percent)
				return nil, fmt.Errorf("step %s: %w", name, err)
			}
			if perr := exec.Progress(ctx, name, "completed", "", percent); perr != nil {
				return nil, perr
			}
			results = append(results, map[string]any{"step": name, "result": stepResult})
		}
		if err := exec.Progress(ctx, "", "", "workflow complete", 100); err != nil {
			return nil, err
		}
		return map[string]any{"steps": results}, nil
	}
}

// discoveryTask probes a chunk of hosts through a connector type's
// TestConnection. Config: {"connector_type":"ciena","hosts":[...],
// "community":"public"}.
func discoveryTask(registry *connector.Registry) scheduler.TaskFunc {
	return func(ctx context.Context, exec *scheduler.ExecContext) (any, error) {
		var cfg struct {
			ConnectorType string   `json:"connector_type"`
			Hosts         []string `json:"hosts"`
			Community     string   `json:"community"`
		}
		if err := json.Unmarshal(exec.Config, &cfg); err != nil {
			return nil, fmt.Errorf("discovery config: %w", err)
		}
		if cfg.ConnectorType == "" || len(cfg.Hosts) == 0 {
			return nil, fmt.Errorf("discovery config requires connector_type and hosts")
		}

		reachable := []string{}
		for i, host := range cfg.Hosts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			probeCfg, _ := json.Marshal(map[string]any{
				"hosts":     []string{host},
				"community": cfg.Community,
			})
			inst, err := registry.Build(cfg.ConnectorType, probeCfg)
			if err != nil {
				return nil, err
			}
			if res := inst.TestConnection(ctx); res.Success {
				reachable = append(reachable, host)
			}
			percent := ((i + 1) * 100) / len(cfg.Hosts)
			if err := exec.Progress(ctx, "scan", "started", host, percent); err != nil {
				return nil, err
			}
		}
		return map[string]any{
			"scanned":   len(cfg.Hosts),
			"reachable": reachable,
		}, nil
	}
}
