// Package alertmanager is the commit point of the ingest pipeline:
// fingerprint deduplication, raise/clear correlation, lifecycle
// persistence and notification emission.
package alertmanager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Notifier receives each newly inserted alert for fan-out; duplicate
// raises and clears are not published. Delivery is best-effort; a
// notifier error never rolls back the alert write.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *models.StoredAlert)
}

// Manager owns the system_alerts/alert_history lifecycle.
type Manager struct {
	store      *store.Store
	notifier   Notifier
	metrics    *telemetry.Metrics
	defaultTTL time.Duration

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier attaches the notification fan-out.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics attaches telemetry counters.
func WithMetrics(t *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = t }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New builds a Manager. defaultTTL bounds how long an unresolved alert
// stays active before the expirer archives it.
func New(s *store.Store, defaultTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		defaultTTL: defaultTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessAlert implements the raise/clear state machine from the
// pipeline's dedup contract:
//   - clear: archive the matching active/acknowledged row as resolved,
//     or ignore when none exists (an orphan clear is a no-op);
//   - raise on an existing fingerprint: bump last_seen/occurrence;
//   - raise on a novel fingerprint: insert a new active row.
//
// A unique partial index on (fingerprint, active|acknowledged) backs
// concurrent raises: the loser of an insert race retries and lands on
// the bump path.
func (m *Manager) ProcessAlert(ctx context.Context, n models.NormalizedAlert) error {
	if n.Fingerprint == "" {
		return errors.New("alertmanager: alert has no fingerprint")
	}
	if n.IsClear && n.Severity != models.SeverityClear {
		n.Severity = models.SeverityClear
	}

	if n.IsClear {
		return m.processClear(ctx, n)
	}
	return m.processRaise(ctx, n)
}

func (m *Manager) processClear(ctx context.Context, n models.NormalizedAlert) error {
	existing, err := m.store.FindActiveByFingerprint(ctx, n.Fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().
			Str("fingerprint", n.Fingerprint).
			Str("source", n.SourceSystem).
			Msg("Clear with no matching active alert, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.ArchiveAlert(ctx, existing.ID, models.AlertStatusResolved, m.now()); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.AlertsProcessed.WithLabelValues(n.SourceSystem, "clear").Inc()
	}
	log.Info().
		Int64("alert_id", existing.ID).
		Str("fingerprint", n.Fingerprint).
		Str("source", n.SourceSystem).
		Msg("Alert resolved by clear")
	return nil
}

func (m *Manager) processRaise(ctx context.Context, n models.NormalizedAlert) error {
	existing, err := m.store.FindActiveByFingerprint(ctx, n.Fingerprint)
	switch {
	case err == nil:
		if err := m.store.BumpOccurrence(ctx, existing.ID, m.now()); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.AlertsProcessed.WithLabelValues(n.SourceSystem, "duplicate").Inc()
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
		// Novel fingerprint; fall through to insert.
	default:
		return err
	}

	created, err := m.store.InsertActiveAlert(ctx, n, m.defaultTTL)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race; the winner's row absorbs this raise.
			winner, ferr := m.store.FindActiveByFingerprint(ctx, n.Fingerprint)
			if ferr != nil {
				return ferr
			}
			return m.store.BumpOccurrence(ctx, winner.ID, m.now())
		}
		return err
	}

	if m.metrics != nil {
		m.metrics.AlertsProcessed.WithLabelValues(n.SourceSystem, "raise").Inc()
	}
	log.Info().
		Int64("alert_id", created.ID).
		Str("fingerprint", created.Fingerprint).
		Str("severity", string(created.Severity)).
		Str("source", created.SourceSystem).
		Str("device_ip", created.DeviceIP).
		Msg("Alert raised")

	if m.notifier != nil {
		// The write above is the commit point; notification failure is
		// the notifier's problem.
		m.notifier.NotifyAlert(ctx, created)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint")
}

// Acknowledge transitions an active alert to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id int64, by string) error {
	return m.store.AcknowledgeAlert(ctx, id, by, m.now())
}

// Resolve archives an alert to history with status resolved, on
// operator action.
func (m *Manager) Resolve(ctx context.Context, id int64) error {
	return m.store.ArchiveAlert(ctx, id, models.AlertStatusResolved, m.now())
}

// ExpireOverdue archives every active/acknowledged row past its
// expires_at as expired, returning the number archived.
func (m *Manager) ExpireOverdue(ctx context.Context) (int, error) {
	now := m.now()
	ids, err := m.store.ExpiredAlertIDs(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := m.store.ArchiveAlert(ctx, id, models.AlertStatusExpired, now); err != nil {
			log.Warn().Err(err).Int64("alert_id", id).Msg("Failed to expire alert")
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Info().Int("count", expired).Msg("Expired overdue alerts")
	}
	return expired, nil
}

// RunExpirer ticks ExpireOverdue until ctx is cancelled.
func (m *Manager) RunExpirer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ExpireOverdue(ctx); err != nil {
				log.Warn().Err(err).Msg("TTL expirer pass failed")
			}
		}
	}
}
