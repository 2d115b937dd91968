// Package notify fans a committed alert out to its matching
// notification channels. Channel selection joins enabled
// notification_rules against enabled notification_channels,
// de-duplicated by channel id; each channel type has a Driver.
// Delivery is best-effort and never blocks the alert write.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Driver delivers one message to one channel type.
type Driver interface {
	// Send delivers title/body using the channel's config. An error
	// marks the attempt failed in notification_history.
	Send(ctx context.Context, config json.RawMessage, title, body string) error
}

// Dispatcher selects channels and invokes drivers.
type Dispatcher struct {
	store   *store.Store
	drivers map[string]Driver
	metrics *telemetry.Metrics

	sendTimeout time.Duration
	now         func() time.Time
}

// NewDispatcher builds a Dispatcher with the standard driver set.
// Additional drivers may be registered before first use.
func NewDispatcher(s *store.Store, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		store: s,
		drivers: map[string]Driver{
			"webhook": NewWebhookDriver(nil),
			"slack":   NewSlackDriver(),
			"email":   NewEmailDriver(nil),
		},
		metrics:     metrics,
		sendTimeout: 30 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register adds or replaces the driver for a channel type.
func (d *Dispatcher) Register(channelType string, driver Driver) {
	d.drivers[channelType] = driver
}

// NotifyAlert implements alertmanager.Notifier.
func (d *Dispatcher) NotifyAlert(ctx context.Context, alert *models.StoredAlert) {
	channels, err := d.store.ChannelsForAlert(ctx, string(alert.Severity), string(alert.Category))
	if err != nil {
		log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("Failed to select notification channels")
		return
	}
	if len(channels) == 0 {
		return
	}

	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	body := alert.Message
	if body == "" {
		body = alert.AlertType
	}

	for _, ch := range channels {
		d.sendToChannel(ctx, alert.ID, ch, title, body)
	}
}

func (d *Dispatcher) sendToChannel(ctx context.Context, alertID int64, ch store.NotificationChannel, title, body string) {
	driver, ok := d.drivers[ch.Type]
	if !ok {
		log.Warn().Str("channel_type", ch.Type).Int64("channel_id", ch.ID).Msg("No driver for channel type")
		d.record(ctx, alertID, ch, "failed", "no driver for channel type "+ch.Type)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := driver.Send(sendCtx, ch.Config, title, body)
	status := "sent"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
		log.Warn().Err(err).
			Int64("alert_id", alertID).
			Str("channel", ch.Name).
			Str("channel_type", ch.Type).
			Msg("Notification delivery failed")
	} else {
		log.Debug().
			Int64("alert_id", alertID).
			Str("channel", ch.Name).
			Msg("Notification sent")
	}
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(ch.Type, status).Inc()
	}
	d.record(ctx, alertID, ch, status, errMsg)
}

func (d *Dispatcher) record(ctx context.Context, alertID int64, ch store.NotificationChannel, status, errMsg string) {
	if err := d.store.RecordNotification(ctx, alertID, ch.ID, status, errMsg, d.now()); err != nil {
		log.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Failed to record notification history")
	}
}
