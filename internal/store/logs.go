package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AppendSystemLog inserts one system_logs row.
func (s *Store) AppendSystemLog(ctx context.Context, level, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO system_logs (level, message, logged_at) VALUES (?,?,?)`,
		level, message, at)
	return err
}

// CountSystemLogs counts system_logs rows at any of levels with
// logged_at >= since, backing the error_rate/error_count rule
// conditions.
func (s *Store) CountSystemLogs(ctx context.Context, levels []string, since time.Time) (int, error) {
	if len(levels) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(levels))
	args := make([]any, 0, len(levels)+1)
	for i, lvl := range levels {
		placeholders[i] = "?"
		args = append(args, lvl)
	}
	args = append(args, since)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM system_logs WHERE level IN (%s) AND logged_at >= ?`,
		strings.Join(placeholders, ","))
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
