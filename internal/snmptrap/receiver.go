package snmptrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/gosnmp/gosnmp"
	"github.com/opsconductor/opsconductor/internal/connector"
	"github.com/opsconductor/opsconductor/internal/connectors/snmp"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/opsconductor/opsconductor/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Store is the persistence surface the receiver needs; satisfied by
// *store.Store.
type Store interface {
	InsertTrapLog(ctx context.Context, receivedAt time.Time, sourceIP, trapOID, rawVarbinds string, eventID *int64) (int64, error)
	FindUnclearedByAlarmID(ctx context.Context, alarmID string) (*store.TrapEvent, error)
	InsertTrapEvent(ctx context.Context, e store.TrapEvent) (int64, error)
	MarkTrapEventCleared(ctx context.Context, raiseID, clearEventID int64) error
	UpsertTrapReceiverStatus(ctx context.Context, st store.TrapReceiverStatus, now time.Time) error
}

// Config controls the receiver.
type Config struct {
	Host              string
	Port              int
	QueueSize         int
	Workers           int
	Communities       []string // wildcard patterns
	ValidateCommunity bool
	FlushInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 162
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	return c
}

// Receiver owns the UDP socket; workers see decoded traps through the
// bounded queue, never the socket. A full queue drops the datagram —
// UDP is lossy by design and backpressure to the network is not
// possible.
type Receiver struct {
	cfg        Config
	store      Store
	normalizer *snmp.Normalizer
	processor  connector.Processor
	handlers   map[string]Handler
	metrics    *telemetry.Metrics

	queue    chan DecodedTrap
	listener *gosnmp.TrapListener

	trapsReceived  atomic.Int64
	trapsProcessed atomic.Int64
	trapsErrors    atomic.Int64
	trapsUnmapped  atomic.Int64
	lastTrapUnix   atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, st Store, normalizer *snmp.Normalizer, processor connector.Processor, metrics *telemetry.Metrics) *Receiver {
	c := cfg.withDefaults()
	return &Receiver{
		cfg:        c,
		store:      st,
		normalizer: normalizer,
		processor:  processor,
		handlers:   defaultHandlers(),
		metrics:    metrics,
		queue:      make(chan DecodedTrap, c.QueueSize),
	}
}

func (r *Receiver) Type() string { return "snmp_trap" }

// TestConnection probes whether the configured UDP port can be bound,
// surfacing the privileged-port caveat for ports below 1024.
func (r *Receiver) TestConnection(context.Context) connector.TestResult {
	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		msg := fmt.Sprintf("Cannot bind %s: %v", addr, err)
		if r.cfg.Port < 1024 {
			msg += " (ports below 1024 require elevated privileges)"
		}
		return connector.TestResult{Success: false, Message: msg}
	}
	conn.Close()
	return connector.TestResult{Success: true, Message: "UDP port available", Details: map[string]any{"addr": addr}}
}

// Start binds the UDP listener and launches the worker pool plus the
// status flusher. Idempotent: a second Start on a running receiver
// returns immediately.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	tl := gosnmp.NewTrapListener()
	tl.Params = gosnmp.Default
	tl.OnNewTrap = r.onTrap
	r.listener = tl

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	errCh := make(chan error, 1)
	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		errCh <- tl.Listen(addr)
	}()

	select {
	case <-tl.Listening():
		log.Info().Str("addr", addr).Int("workers", r.cfg.Workers).Msg("SNMP trap receiver listening")
	case err := <-errCh:
		r.markStopped()
		return fmt.Errorf("snmptrap: listen %s: %w", addr, err)
	case <-runCtx.Done():
		tl.Close()
		r.markStopped()
		return runCtx.Err()
	}

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(runCtx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.flushStatusLoop(runCtx)
	}()

	go func() {
		<-runCtx.Done()
		tl.Close()
		<-listenDone
		wg.Wait()
		r.flushStatus(context.WithoutCancel(runCtx), false)
		r.markStopped()
		close(r.done)
		log.Info().Msg("SNMP trap receiver stopped")
	}()
	return nil
}

// Stop cancels the run context and waits for workers to drain.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	running := r.running
	r.mu.Unlock()
	if !running || cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (r *Receiver) markStopped() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// onTrap runs on the gosnmp listener goroutine: decode, validate,
// enqueue. It must not block; a full queue drops the trap.
func (r *Receiver) onTrap(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	r.trapsReceived.Add(1)
	r.lastTrapUnix.Store(time.Now().Unix())
	if r.metrics != nil {
		r.metrics.TrapsReceived.Inc()
	}

	trap, err := Decode(pkt, addr)
	if err != nil {
		r.trapsErrors.Add(1)
		if r.metrics != nil {
			r.metrics.TrapsErrors.Inc()
		}
		log.Debug().Err(err).Msg("Undecodable trap")
		return
	}

	if r.cfg.ValidateCommunity && !r.communityAllowed(trap.Community) {
		r.trapsErrors.Add(1)
		if r.metrics != nil {
			r.metrics.TrapsErrors.Inc()
		}
		return
	}

	r.enqueue(trap)
}

func (r *Receiver) enqueue(trap DecodedTrap) {
	select {
	case r.queue <- trap:
		if r.metrics != nil {
			r.metrics.TrapQueueDepth.Set(float64(len(r.queue)))
		}
	default:
		r.trapsErrors.Add(1)
		if r.metrics != nil {
			r.metrics.TrapsErrors.Inc()
		}
		log.Warn().Str("source", trap.SourceIP).Msg("Trap queue full, dropping trap")
	}
}

func (r *Receiver) communityAllowed(community string) bool {
	for _, pattern := range r.cfg.Communities {
		if wildcard.Match(pattern, community) {
			return true
		}
	}
	return false
}

func (r *Receiver) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case trap := <-r.queue:
			if r.metrics != nil {
				r.metrics.TrapQueueDepth.Set(float64(len(r.queue)))
			}
			r.processTrap(ctx, trap)
		}
	}
}

// processTrap is the per-datagram pipeline: route, handle, correlate,
// log, normalize, emit. Every failure is contained to this datagram.
func (r *Receiver) processTrap(ctx context.Context, trap DecodedTrap) {
	defer func() {
		if rec := recover(); rec != nil {
			r.trapsErrors.Add(1)
			log.Error().Interface("panic", rec).Str("trap_oid", trap.TrapOID).Msg("Trap worker panicked")
		}
	}()

	vendor := Route(trap)
	mapped := r.normalizer.Enabled(trap.TrapOID)

	var eventID *int64
	var event *Event
	if mapped {
		handler := r.handlers[vendor]
		if handler == nil {
			handler = r.handlers["generic"]
		}
		event = handler.Handle(trap)
		if event != nil {
			id, err := r.storeEvent(ctx, trap, vendor, event)
			if err != nil {
				r.trapsErrors.Add(1)
				if r.metrics != nil {
					r.metrics.TrapsErrors.Inc()
				}
				log.Warn().Err(err).Str("trap_oid", trap.TrapOID).Msg("Failed to store trap event")
			} else if id != 0 {
				eventID = &id
			}
		}
	} else {
		r.trapsUnmapped.Add(1)
		if r.metrics != nil {
			r.metrics.TrapsUnmapped.Inc()
		}
	}

	// Raw PDUs stay auditable even when no event was emitted.
	varbinds, _ := json.Marshal(trap.Varbinds)
	if _, err := r.store.InsertTrapLog(ctx, trap.ReceivedAt, trap.SourceIP, trap.TrapOID, string(varbinds), eventID); err != nil {
		r.trapsErrors.Add(1)
		log.Warn().Err(err).Str("trap_oid", trap.TrapOID).Msg("Failed to store trap log")
	}

	if mapped {
		r.emitAlert(ctx, trap, event)
	}

	r.trapsProcessed.Add(1)
	if r.metrics != nil {
		r.metrics.TrapsProcessed.Inc()
	}
}

// storeEvent applies the alarm-correlation semantics: a duplicate
// un-cleared raise is dropped (its existing row id is reused), a clear
// stamps cleared_event_id on the raise it resolves.
func (r *Receiver) storeEvent(ctx context.Context, trap DecodedTrap, vendor string, event *Event) (int64, error) {
	if event.AlarmID != "" && !event.IsClear {
		existing, err := r.store.FindUnclearedByAlarmID(ctx, event.AlarmID)
		if err == nil {
			log.Debug().Str("alarm_id", event.AlarmID).Msg("Duplicate alarm, skipping")
			return existing.ID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
	}

	var toClear *store.TrapEvent
	if event.IsClear && event.AlarmID != "" {
		if existing, err := r.store.FindUnclearedByAlarmID(ctx, event.AlarmID); err == nil {
			toClear = existing
		} else if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
	}

	id, err := r.store.InsertTrapEvent(ctx, store.TrapEvent{
		AlarmID:     event.AlarmID,
		SourceIP:    trap.SourceIP,
		Vendor:      vendor,
		EventType:   event.EventType,
		Severity:    string(event.Severity),
		ObjectType:  event.ObjectType,
		ObjectID:    event.ObjectID,
		Description: event.Description,
		IsClear:     event.IsClear,
		CreatedAt:   trap.ReceivedAt,
	})
	if err != nil {
		return 0, err
	}
	if toClear != nil {
		if err := r.store.MarkTrapEventCleared(ctx, toClear.ID, id); err != nil {
			log.Warn().Err(err).Int64("raise_id", toClear.ID).Msg("Failed to mark trap event cleared")
		}
	}
	return id, nil
}

func (r *Receiver) emitAlert(ctx context.Context, trap DecodedTrap, event *Event) {
	data := snmp.TrapData{
		SourceIP:      trap.SourceIP,
		TrapOID:       trap.TrapOID,
		EnterpriseOID: trap.EnterpriseOID,
		Varbinds:      trap.Varbinds,
		Timestamp:     trap.ReceivedAt,
		Community:     trap.Community,
	}
	if event != nil {
		data.CorrelationKey = event.AlarmID
		data.IsClear = event.IsClear
	}

	normalized, err := r.normalizer.Normalize(ctx, data)
	if err != nil || normalized == nil {
		return
	}
	if err := r.processor.ProcessAlert(ctx, *normalized); err != nil {
		log.Warn().Err(err).Str("fingerprint", normalized.Fingerprint).Msg("Failed to process trap alert")
	}
}

func (r *Receiver) flushStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	r.flushStatus(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flushStatus(ctx, true)
		}
	}
}

func (r *Receiver) flushStatus(ctx context.Context, running bool) {
	st := store.TrapReceiverStatus{
		TrapsReceived:  r.trapsReceived.Load(),
		TrapsProcessed: r.trapsProcessed.Load(),
		TrapsErrors:    r.trapsErrors.Load(),
		TrapsUnmapped:  r.trapsUnmapped.Load(),
		QueueDepth:     len(r.queue),
		IsRunning:      running,
	}
	if unix := r.lastTrapUnix.Load(); unix > 0 {
		at := time.Unix(unix, 0).UTC()
		st.LastTrapAt = &at
	}
	if err := r.store.UpsertTrapReceiverStatus(ctx, st, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("Failed to flush trap receiver status")
	}
}

// Stats returns a live counter snapshot.
func (r *Receiver) Stats() store.TrapReceiverStatus {
	return store.TrapReceiverStatus{
		TrapsReceived:  r.trapsReceived.Load(),
		TrapsProcessed: r.trapsProcessed.Load(),
		TrapsErrors:    r.trapsErrors.Load(),
		TrapsUnmapped:  r.trapsUnmapped.Load(),
		QueueDepth:     len(r.queue),
	}
}
