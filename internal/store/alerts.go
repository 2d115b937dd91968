package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("store: not found")

// sqliteTimeLayouts covers the text representations the sqlite driver may
// hand back for a DATETIME column read through an aggregate (e.g. MAX()),
// which loses the declared column type used for automatic time.Time scanning.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseSQLiteTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("store: parse sqlite time %q: %w", s, lastErr)
}

func scanAlert(row interface{ Scan(...any) error }) (*models.StoredAlert, error) {
	var a models.StoredAlert
	var ack, resolved, expires sql.NullTime
	var ackBy sql.NullString
	var ruleID sql.NullInt64
	err := row.Scan(
		&a.ID, &a.Fingerprint, &a.SourceSystem, &a.SourceAlertID, &a.DeviceIP, &a.DeviceName,
		&a.Severity, &a.Category, &a.AlertType, &a.Title, &a.Message, &a.OccurredAt, &a.RawData,
		&a.Status, &a.OccurrenceCount, &a.TriggeredAt, &a.LastSeenAt,
		&ack, &ackBy, &resolved, &expires, &ruleID,
	)
	if err != nil {
		return nil, err
	}
	if ack.Valid {
		a.AcknowledgedAt = &ack.Time
	}
	a.AcknowledgedBy = ackBy.String
	if resolved.Valid {
		a.ResolvedAt = &resolved.Time
	}
	if expires.Valid {
		a.ExpiresAt = &expires.Time
	}
	if ruleID.Valid {
		a.RuleID = &ruleID.Int64
	}
	return &a, nil
}

const alertColumns = `id, fingerprint, source_system, source_alert_id, device_ip, device_name,
	severity, category, alert_type, title, message, occurred_at, raw_data,
	status, occurrence_count, triggered_at, last_seen_at,
	acknowledged_at, acknowledged_by, resolved_at, expires_at, rule_id`

// FindActiveByFingerprint returns the active-or-acknowledged row for a
// fingerprint, or ErrNotFound.
func (s *Store) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*models.StoredAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM system_alerts
		WHERE fingerprint = ? AND status IN ('active','acknowledged')`, fingerprint)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// InsertActiveAlert inserts a brand new active row for a raise with no
// existing active fingerprint match.
func (s *Store) InsertActiveAlert(ctx context.Context, n models.NormalizedAlert, ttl time.Duration) (*models.StoredAlert, error) {
	now := n.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expires := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `INSERT INTO system_alerts
		(fingerprint, source_system, source_alert_id, device_ip, device_name,
		 severity, category, alert_type, title, message, occurred_at, raw_data,
		 status, occurrence_count, triggered_at, last_seen_at, expires_at, rule_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.Fingerprint, n.SourceSystem, n.SourceAlertID, n.DeviceIP, n.DeviceName,
		string(n.Severity), string(n.Category), n.AlertType, n.Title, n.Message, now, n.RawData,
		string(models.AlertStatusActive), 1, now, now, expires, n.RuleID)
	if err != nil {
		return nil, fmt.Errorf("insert active alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetAlert(ctx, id)
}

// BumpOccurrence implements the cheap-dedup raise path: bump
// last_seen_at/occurrence_count, no new row.
func (s *Store) BumpOccurrence(ctx context.Context, id int64, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE system_alerts
		SET last_seen_at = ?, occurrence_count = occurrence_count + 1
		WHERE id = ?`, seenAt, id)
	return err
}

// GetAlert fetches a single system_alerts row by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.StoredAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM system_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ArchiveAlert moves a system_alerts row to alert_history with the
// given terminal status (resolved or expired).
func (s *Store) ArchiveAlert(ctx context.Context, id int64, status models.AlertStatus, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var resolvedCol string
	switch status {
	case models.AlertStatusResolved:
		resolvedCol = "resolved_at"
	case models.AlertStatusExpired:
		resolvedCol = "resolved_at" // expired alerts still record the archival timestamp here
	default:
		return fmt.Errorf("archive alert: invalid terminal status %q", status)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO alert_history
		(original_id, fingerprint, source_system, source_alert_id, device_ip, device_name,
		 severity, category, alert_type, title, message, occurred_at, raw_data,
		 status, occurrence_count, triggered_at, last_seen_at,
		 acknowledged_at, acknowledged_by, %s, expires_at, rule_id)
		SELECT id, fingerprint, source_system, source_alert_id, device_ip, device_name,
		 severity, category, alert_type, title, message, occurred_at, raw_data,
		 ?, occurrence_count, triggered_at, last_seen_at,
		 acknowledged_at, acknowledged_by, ?, expires_at, rule_id
		FROM system_alerts WHERE id = ?`, resolvedCol), string(status), at, id)
	if err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM system_alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AcknowledgeAlert transitions an active alert to acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64, by string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE system_alerts
		SET status = 'acknowledged', acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND status = 'active'`, at, by, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiredAlertIDs returns ids of active/acknowledged rows past expires_at,
// for the TTL expirer.
func (s *Store) ExpiredAlertIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM system_alerts
		WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN ('active','acknowledged')`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveAlertsWithRule returns active/acknowledged alerts created by a
// rule, for the auto-resolve pass.
func (s *Store) ActiveAlertsWithRule(ctx context.Context) ([]*models.StoredAlert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM system_alerts
		WHERE rule_id IS NOT NULL AND status IN ('active','acknowledged')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.StoredAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LastTriggeredForRule returns the most recent triggered_at among
// system_alerts and alert_history for a rule id, used by the cooldown
// check. Both tables matter: a resolved alert still holds the cooldown.
func (s *Store) LastTriggeredForRule(ctx context.Context, ruleID int64) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, table := range []string{"system_alerts", "alert_history"} {
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT MAX(triggered_at) FROM %s WHERE rule_id = ?`, table), ruleID)
		var raw sql.NullString
		if err := row.Scan(&raw); err != nil {
			return time.Time{}, false, err
		}
		if !raw.Valid {
			continue
		}
		parsed, err := parseSQLiteTime(raw.String)
		if err != nil {
			return time.Time{}, false, err
		}
		if !found || parsed.After(latest) {
			latest = parsed
			found = true
		}
	}
	return latest, found, nil
}

// AlertStats groups live alerts by status, severity and category.
type AlertStats struct {
	ByStatus   map[string]int
	BySeverity map[string]int
	ByCategory map[string]int
}

func (s *Store) AlertStats(ctx context.Context) (*AlertStats, error) {
	stats := &AlertStats{ByStatus: map[string]int{}, BySeverity: map[string]int{}, ByCategory: map[string]int{}}
	group := func(col string, dst map[string]int) error {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM system_alerts GROUP BY %s`, col, col))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var c int
			if err := rows.Scan(&k, &c); err != nil {
				return err
			}
			dst[k] = c
		}
		return rows.Err()
	}
	if err := group("status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := group("severity", stats.BySeverity); err != nil {
		return nil, err
	}
	if err := group("category", stats.ByCategory); err != nil {
		return nil, err
	}
	return stats, nil
}
