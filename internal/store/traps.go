package store

import (
	"context"
	"time"
)

// InsertTrapLog records a raw received datagram regardless of whether
// it produced an event, so raw PDUs stay auditable.
func (s *Store) InsertTrapLog(ctx context.Context, receivedAt time.Time, sourceIP, trapOID, rawVarbinds string, eventID *int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO trap_log (received_at, source_ip, trap_oid, raw_varbinds, event_id)
		VALUES (?,?,?,?,?)`, receivedAt, sourceIP, trapOID, rawVarbinds, eventID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TrapEvent mirrors a trap_events row.
type TrapEvent struct {
	ID             int64
	AlarmID        string
	SourceIP       string
	Vendor         string
	EventType      string
	Severity       string
	ObjectType     string
	ObjectID       string
	Description    string
	IsClear        bool
	ClearedEventID *int64
	CreatedAt      time.Time
}

// FindUnclearedByAlarmID returns the active (un-cleared) trap_events
// row for an alarm id, used for raise-dedup and clear-correlation.
func (s *Store) FindUnclearedByAlarmID(ctx context.Context, alarmID string) (*TrapEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, alarm_id, source_ip, vendor, event_type, severity,
		object_type, object_id, description, is_clear, cleared_event_id, created_at
		FROM trap_events WHERE alarm_id = ? AND is_clear = 0 AND cleared_event_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, alarmID)
	var e TrapEvent
	var clearedID *int64
	if err := row.Scan(&e.ID, &e.AlarmID, &e.SourceIP, &e.Vendor, &e.EventType, &e.Severity,
		&e.ObjectType, &e.ObjectID, &e.Description, &e.IsClear, &clearedID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ClearedEventID = clearedID
	return &e, nil
}

func (s *Store) InsertTrapEvent(ctx context.Context, e TrapEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO trap_events
		(alarm_id, source_ip, vendor, event_type, severity, object_type, object_id, description, is_clear, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.AlarmID, e.SourceIP, e.Vendor, e.EventType, e.Severity, e.ObjectType, e.ObjectID, e.Description, e.IsClear, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkTrapEventCleared sets cleared_event_id on the raise that a new
// clear event resolves.
func (s *Store) MarkTrapEventCleared(ctx context.Context, raiseID, clearEventID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trap_events SET cleared_event_id = ? WHERE id = ?`, clearEventID, raiseID)
	return err
}

// TrapReceiverStatus mirrors the trap_receiver_status row.
type TrapReceiverStatus struct {
	TrapsReceived  int64
	TrapsProcessed int64
	TrapsErrors    int64
	TrapsUnmapped  int64
	QueueDepth     int
	LastTrapAt     *time.Time
	IsRunning      bool
}

// UpsertTrapReceiverStatus flushes counters into the single-row status
// table.
func (s *Store) UpsertTrapReceiverStatus(ctx context.Context, st TrapReceiverStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO trap_receiver_status
		(id, traps_received, traps_processed, traps_errors, traps_unmapped, queue_depth, last_trap_at, is_running, updated_at)
		VALUES (1,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			traps_received=excluded.traps_received, traps_processed=excluded.traps_processed,
			traps_errors=excluded.traps_errors, traps_unmapped=excluded.traps_unmapped,
			queue_depth=excluded.queue_depth, last_trap_at=excluded.last_trap_at,
			is_running=excluded.is_running, updated_at=excluded.updated_at`,
		st.TrapsReceived, st.TrapsProcessed, st.TrapsErrors, st.TrapsUnmapped, st.QueueDepth, st.LastTrapAt, st.IsRunning, now)
	return err
}
