package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
)

func scanConnector(row interface{ Scan(...any) error }) (*models.Connector, error) {
	var c models.Connector
	var cfg string
	var lastPoll sql.NullTime
	var lastErr sql.NullString
	if err := row.Scan(&c.ID, &c.ConnectorType, &cfg, &c.Enabled, &c.Status, &lastPoll, &c.AlertsReceived, &lastErr); err != nil {
		return nil, err
	}
	c.Config = []byte(cfg)
	if lastPoll.Valid {
		c.LastPollAt = &lastPoll.Time
	}
	c.LastError = lastErr.String
	return &c, nil
}

const connectorColumns = `id, connector_type, config, enabled, status, last_poll_at, alerts_received, last_error`

func (s *Store) EnabledConnectors(ctx context.Context) ([]*models.Connector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConnector(ctx context.Context, id int64) (*models.Connector, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id)
	c, err := scanConnector(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Store) UpdateConnectorStatus(ctx context.Context, id int64, status models.ConnectorState, lastError string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE connectors SET status = ?, last_error = ? WHERE id = ?`,
		string(status), nullableString(lastError), id)
	return err
}

func (s *Store) RecordConnectorPoll(ctx context.Context, id int64, at time.Time, alertsReceived int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE connectors
		SET last_poll_at = ?, alerts_received = alerts_received + ?, status = 'connected', last_error = NULL
		WHERE id = ?`, at, alertsReceived, id)
	return err
}

func (s *Store) InsertConnector(ctx context.Context, c models.Connector) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO connectors (connector_type, config, enabled, status, alerts_received)
		VALUES (?,?,?,?,0)`, c.ConnectorType, string(c.Config), c.Enabled, string(models.ConnectorDisconnected))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
