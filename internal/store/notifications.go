package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// NotificationChannel mirrors notification_channels.
type NotificationChannel struct {
	ID      int64
	Name    string
	Type    string
	Config  json.RawMessage
	Enabled bool
}

// NotificationRule mirrors notification_rules.
type NotificationRule struct {
	ID             int64
	Name           string
	Enabled        bool
	TriggerType    string
	SeverityFilter []string // nil means "no filter"
	CategoryFilter []string
	ChannelIDs     []int64
}

// ChannelsForAlert selects delivery targets for one alert: enabled
// notification_rules matching trigger_type='alert' and the
// severity/category filters, cross-joined to their enabled channels,
// de-duplicated by channel id.
func (s *Store) ChannelsForAlert(ctx context.Context, severity, category string) ([]NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, enabled, trigger_type, severity_filter, category_filter, channel_ids
		FROM notification_rules WHERE enabled = 1 AND trigger_type = 'alert'`)
	if err != nil {
		return nil, err
	}
	var ruleChannelIDs []int64
	for rows.Next() {
		var id int64
		var enabled bool
		var trigger string
		var sevFilter, catFilter sql.NullString
		var channelIDsRaw string
		if err := rows.Scan(&id, &enabled, &trigger, &sevFilter, &catFilter, &channelIDsRaw); err != nil {
			rows.Close()
			return nil, err
		}
		if sevFilter.Valid && sevFilter.String != "" {
			var sevs []string
			_ = json.Unmarshal([]byte(sevFilter.String), &sevs)
			if !contains(sevs, severity) {
				continue
			}
		}
		if catFilter.Valid && catFilter.String != "" {
			var cats []string
			_ = json.Unmarshal([]byte(catFilter.String), &cats)
			if !contains(cats, category) {
				continue
			}
		}
		var ids []int64
		_ = json.Unmarshal([]byte(channelIDsRaw), &ids)
		ruleChannelIDs = append(ruleChannelIDs, ids...)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	var out []NotificationChannel
	for _, id := range ruleChannelIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		row := s.db.QueryRowContext(ctx, `SELECT id, name, channel_type, config, enabled
			FROM notification_channels WHERE id = ? AND enabled = 1`, id)
		var ch NotificationChannel
		var cfg string
		if err := row.Scan(&ch.ID, &ch.Name, &ch.Type, &cfg, &ch.Enabled); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		ch.Config = json.RawMessage(cfg)
		out = append(out, ch)
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// RecordNotification logs a delivery attempt to notification_history.
func (s *Store) RecordNotification(ctx context.Context, alertID, channelID int64, status, errMsg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_history
		(alert_id, channel_id, status, error_message, sent_at) VALUES (?,?,?,?,?)`,
		alertID, channelID, status, nullableString(errMsg), at)
	return err
}
