// Package connector defines the lifecycle contract every ingest source
// implements, the type registry that instantiates connectors from
// stored configs, and the poll-loop runner that drives poll-mode
// connectors.
package connector

import (
	"context"

	"github.com/opsconductor/opsconductor/internal/models"
)

// TestResult is the outcome of a connectivity probe. Probes never emit
// alerts.
type TestResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Connector is the common lifecycle every ingest source implements.
// Start is idempotent; Stop is best-effort cleanup and must unblock
// any in-flight operation promptly.
type Connector interface {
	Type() string
	Start(ctx context.Context) error
	Stop() error
	TestConnection(ctx context.Context) TestResult
}

// Poller is implemented by poll-mode connectors. Poll invocations on a
// single connector are serialized by the runner; implementations must
// not mutate shared state beyond their own status counters.
type Poller interface {
	Connector
	Poll(ctx context.Context) ([]models.NormalizedAlert, error)
	PollInterval() int // seconds; 0 disables polling
}

// WebhookHandler is implemented by webhook-mode connectors. A nil
// returned alert means the payload was accepted but dropped by the
// normalizer (still a 2xx to the sender).
type WebhookHandler interface {
	Connector
	HandleWebhook(ctx context.Context, payload map[string]any) (*models.NormalizedAlert, error)
}

// Processor is the downstream of every connector; satisfied by
// alertmanager.Manager.
type Processor interface {
	ProcessAlert(ctx context.Context, alert models.NormalizedAlert) error
}
