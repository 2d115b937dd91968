package connector

import (
	"context"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// StatusSink persists connector health; satisfied by store.Store.
type StatusSink interface {
	UpdateConnectorStatus(ctx context.Context, id int64, status models.ConnectorState, lastError string) error
	RecordConnectorPoll(ctx context.Context, id int64, at time.Time, alertsReceived int) error
}

// Runner drives one poll-mode connector: tick, poll, feed results to
// the processor, record status, sleep. One bad payload or one failed
// poll never stops the loop.
type Runner struct {
	connectorID int64
	poller      Poller
	processor   Processor
	sink        StatusSink
	metrics     *telemetry.Metrics
}

func NewRunner(connectorID int64, p Poller, proc Processor, sink StatusSink, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		connectorID: connectorID,
		poller:      p,
		processor:   proc,
		sink:        sink,
		metrics:     metrics,
	}
}

// Run blocks until ctx is cancelled. Cancellation preempts the
// inter-poll sleep promptly.
func (r *Runner) Run(ctx context.Context) {
	interval := time.Duration(r.poller.PollInterval()) * time.Second
	if interval <= 0 {
		log.Debug().Str("connector_type", r.poller.Type()).Msg("Polling disabled for connector")
		return
	}

	r.setStatus(ctx, models.ConnectorConnecting, "")
	if err := r.poller.Start(ctx); err != nil {
		r.setStatus(ctx, models.ConnectorError, err.Error())
		log.Error().Err(err).Str("connector_type", r.poller.Type()).Msg("Connector start failed")
		return
	}
	defer func() {
		if err := r.poller.Stop(); err != nil {
			log.Warn().Err(err).Str("connector_type", r.poller.Type()).Msg("Connector stop reported error")
		}
		r.setStatus(context.WithoutCancel(ctx), models.ConnectorDisconnected, "")
	}()

	timer := time.NewTimer(0) // first poll immediately
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		r.pollOnce(ctx)
		timer.Reset(interval)
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).
				Str("connector_type", r.poller.Type()).
				Msg("Connector poll panicked")
			r.setStatus(ctx, models.ConnectorError, "poll panicked")
		}
	}()

	alerts, err := r.poller.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.setStatus(ctx, models.ConnectorError, err.Error())
		if r.metrics != nil {
			r.metrics.ConnectorErrors.WithLabelValues(r.poller.Type()).Inc()
			r.metrics.ConnectorStatus.WithLabelValues(r.poller.Type()).Set(0)
		}
		log.Warn().Err(err).Str("connector_type", r.poller.Type()).Msg("Connector poll failed")
		return
	}

	accepted := 0
	for _, alert := range alerts {
		if err := r.processor.ProcessAlert(ctx, alert); err != nil {
			log.Warn().Err(err).
				Str("connector_type", r.poller.Type()).
				Str("fingerprint", alert.Fingerprint).
				Msg("Failed to process polled alert")
			continue
		}
		accepted++
	}

	if r.sink != nil {
		if err := r.sink.RecordConnectorPoll(ctx, r.connectorID, time.Now().UTC(), accepted); err != nil {
			log.Warn().Err(err).Int64("connector_id", r.connectorID).Msg("Failed to record poll")
		}
	}
	if r.metrics != nil {
		r.metrics.ConnectorStatus.WithLabelValues(r.poller.Type()).Set(1)
	}
}

func (r *Runner) setStatus(ctx context.Context, status models.ConnectorState, lastError string) {
	if r.sink == nil {
		return
	}
	if err := r.sink.UpdateConnectorStatus(ctx, r.connectorID, status, lastError); err != nil {
		log.Warn().Err(err).Int64("connector_id", r.connectorID).Msg("Failed to update connector status")
	}
}
