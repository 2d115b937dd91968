// Package telemetry exposes OpsConductor's operational counters and
// gauges to Prometheus. Components write through a Metrics value so
// tests can use an isolated registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	AlertsProcessed  *prometheus.CounterVec // source_system, kind=raise|clear
	AlertsDropped    *prometheus.CounterVec // source_system, reason
	ActiveAlerts     prometheus.Gauge
	ConnectorStatus  *prometheus.GaugeVec // connector_type; 1 after a successful poll, 0 after a failed one
	ConnectorErrors  *prometheus.CounterVec
	TrapsReceived    prometheus.Counter
	TrapsProcessed   prometheus.Counter
	TrapsErrors      prometheus.Counter
	TrapsUnmapped    prometheus.Counter
	TrapQueueDepth   prometheus.Gauge
	ExecutionsTotal  *prometheus.CounterVec // task_name, status
	JobsDispatched   prometheus.Counter
	RuleTriggers     *prometheus.CounterVec // rule_name
	RuleAutoResolves prometheus.Counter
	Notifications    *prometheus.CounterVec // channel_type, status
}

// New builds a Metrics set registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AlertsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_alerts_processed_total",
			Help: "Normalized alerts accepted by the alert manager.",
		}, []string{"source_system", "kind"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_alerts_dropped_total",
			Help: "Payloads dropped before reaching the alert manager.",
		}, []string{"source_system", "reason"}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opsconductor_active_alerts",
			Help: "Current count of active and acknowledged alerts.",
		}),
		ConnectorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opsconductor_connector_up",
			Help: "1 when the connector is in the connected state.",
		}, []string{"connector_type"}),
		ConnectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_connector_errors_total",
			Help: "Connector poll/webhook failures.",
		}, []string{"connector_type"}),
		TrapsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_traps_received_total",
			Help: "SNMP trap datagrams received.",
		}),
		TrapsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_traps_processed_total",
			Help: "SNMP traps fully processed.",
		}),
		TrapsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_traps_errors_total",
			Help: "SNMP traps dropped on error or queue overflow.",
		}),
		TrapsUnmapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_traps_unmapped_total",
			Help: "SNMP traps dropped because no mapping opted them in.",
		}),
		TrapQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opsconductor_trap_queue_depth",
			Help: "Datagrams waiting in the trap processing queue.",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_executions_total",
			Help: "Scheduler executions by terminal status.",
		}, []string{"task_name", "status"}),
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_jobs_dispatched_total",
			Help: "Due jobs handed to the worker pool.",
		}),
		RuleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_rule_triggers_total",
			Help: "Alerts created by the rule evaluator.",
		}, []string{"rule_name"}),
		RuleAutoResolves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsconductor_rule_auto_resolves_total",
			Help: "Rule alerts auto-resolved after their condition cleared.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsconductor_notifications_total",
			Help: "Notification delivery attempts by channel type and outcome.",
		}, []string{"channel_type", "status"}),
	}

	reg.MustRegister(
		m.AlertsProcessed, m.AlertsDropped, m.ActiveAlerts,
		m.ConnectorStatus, m.ConnectorErrors,
		m.TrapsReceived, m.TrapsProcessed, m.TrapsErrors, m.TrapsUnmapped, m.TrapQueueDepth,
		m.ExecutionsTotal, m.JobsDispatched,
		m.RuleTriggers, m.RuleAutoResolves,
		m.Notifications,
	)
	return m
}

// Registry returns the registry backing this metrics set, for mounting
// the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
