package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opsconductor/opsconductor/internal/models"
)

func scanRule(row interface{ Scan(...any) error }) (*models.AlertRule, error) {
	var r models.AlertRule
	var cfg sql.NullString
	err := row.Scan(&r.ID, &r.Name, &r.Enabled, &r.Severity, &r.Category,
		&r.ConditionType, &cfg, &r.CooldownMinutes, &r.AutoResolveAcknowledged)
	if err != nil {
		return nil, err
	}
	r.ConditionConfig = []byte(cfg.String)
	return &r, nil
}

const ruleColumns = `id, name, enabled, severity, category, condition_type, condition_config, cooldown_minutes, auto_resolve_acknowledged`

// EnabledRules returns every enabled alert_rules row.
func (s *Store) EnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpsertRule inserts or updates a rule by name.
func (s *Store) UpsertRule(ctx context.Context, r models.AlertRule) (int64, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO alert_rules
		(name, enabled, severity, category, condition_type, condition_config, cooldown_minutes, auto_resolve_acknowledged)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			enabled=excluded.enabled, severity=excluded.severity, category=excluded.category,
			condition_type=excluded.condition_type, condition_config=excluded.condition_config,
			cooldown_minutes=excluded.cooldown_minutes, auto_resolve_acknowledged=excluded.auto_resolve_acknowledged`,
		r.Name, r.Enabled, string(r.Severity), string(r.Category), string(r.ConditionType),
		string(r.ConditionConfig), r.CooldownMinutes, r.AutoResolveAcknowledged)
	if err != nil {
		return 0, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id FROM alert_rules WHERE name = ?`, r.Name)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
