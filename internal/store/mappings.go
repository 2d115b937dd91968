package store

import (
	"context"

	"github.com/opsconductor/opsconductor/internal/models"
)

// LoadSeverityMappings returns all enabled severity_mappings rows
// ordered by priority descending, so the cache keeps the strongest
// row per key.
func (s *Store) LoadSeverityMappings(ctx context.Context) ([]models.MappingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT connector_type, source_field, source_value, target_severity, priority
		FROM severity_mappings WHERE enabled = 1 ORDER BY priority DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MappingRow
	for rows.Next() {
		var m models.MappingRow
		if err := rows.Scan(&m.ConnectorType, &m.SourceField, &m.SourceValue, &m.TargetSeverity, &m.Priority); err != nil {
			return nil, err
		}
		m.Enabled = true
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LoadCategoryMappings(ctx context.Context) ([]models.MappingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT connector_type, source_field, source_value, target_category, priority
		FROM category_mappings WHERE enabled = 1 ORDER BY priority DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MappingRow
	for rows.Next() {
		var m models.MappingRow
		if err := rows.Scan(&m.ConnectorType, &m.SourceField, &m.SourceValue, &m.TargetCategory, &m.Priority); err != nil {
			return nil, err
		}
		m.Enabled = true
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadTrapMappings returns all enabled snmp_trap_mappings rows keyed
// by trap_oid.
func (s *Store) LoadTrapMappings(ctx context.Context) ([]models.MappingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trap_oid, alert_type, severity, category, is_clear,
		correlation_key, vendor, description, priority
		FROM snmp_trap_mappings WHERE enabled = 1 ORDER BY priority DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MappingRow
	for rows.Next() {
		var m models.MappingRow
		if err := rows.Scan(&m.TrapOID, &m.AlertType, &m.TargetSeverity, &m.TargetCategory, &m.IsClear,
			&m.CorrelationKey, &m.Vendor, &m.Description, &m.Priority); err != nil {
			return nil, err
		}
		m.Enabled = true
		out = append(out, m)
	}
	return out, rows.Err()
}
