package storage

import (
	"errors"
	"fmt"
)

// RecordInbound bumps the inbound counter for a day (YYYY-MM-DD, UTC).
func (s *Store) RecordInbound(day string) error {
	return s.bumpDay(day, "inbound")
}

// RecordOutbound bumps the outbound counter for a day (YYYY-MM-DD, UTC).
func (s *Store) RecordOutbound(day string) error {
	return s.bumpDay(day, "outbound")
}

func (s *Store) bumpDay(day, column string) error {
	if day == "" {
		return errors.New("day is required")
	}
	query := fmt.Sprintf(
		`INSERT INTO daily_stats (day, %s) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET %s = %s + 1`,
		column, column, column,
	)
	if _, err := s.db.Exec(query, day); err != nil {
		return fmt.Errorf("bump %s for %q: %w", column, day, err)
	}
	return nil
}

// DailyStats returns the newest days first, up to limit.
func (s *Store) DailyStats(limit int) ([]DailyStat, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.db.Query(
		`SELECT day, inbound, outbound FROM daily_stats ORDER BY day DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	defer rows.Close()

	stats := make([]DailyStat, 0, limit)
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Day, &d.Inbound, &d.Outbound); err != nil {
			return nil, fmt.Errorf("scan daily stat row: %w", err)
		}
		stats = append(stats, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stat rows: %w", err)
	}
	return stats, nil
}
