package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveMessage inserts a new message row.
func (s *Store) SaveMessage(message Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if message.Sender == "" {
		return errors.New("sender is required")
	}
	if message.Content == "" {
		return errors.New("content is required")
	}
	if err := validateKind(message.Kind); err != nil {
		return err
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	var snr sql.NullInt64
	if message.SNR != nil {
		snr = sql.NullInt64{Int64: int64(*message.SNR), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			kind,
			sender,
			target,
			group_name,
			content,
			snr,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.Kind,
		message.Sender,
		message.Target,
		message.GroupName,
		message.Content,
		snr,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}
	return nil
}

// RecentMessages returns the newest messages, newest first.
func (s *Store) RecentMessages(limit int) ([]Message, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT message_id, kind, sender, target, group_name, content, snr, timestamp
		FROM messages
		ORDER BY timestamp DESC, message_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// CountMessagesSince returns how many messages arrived at or after the cutoff.
func (s *Store) CountMessagesSince(since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE timestamp >= ?`,
		since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// KindCountsSince returns per-kind message counts at or after the cutoff.
func (s *Store) KindCountsSince(since time.Time) (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT kind, COUNT(*) FROM messages WHERE timestamp >= ? GROUP BY kind`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("count messages by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind count rows: %w", err)
	}
	return counts, nil
}

// TopSenders returns the busiest senders since the cutoff, busiest first.
func (s *Store) TopSenders(since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(
		`SELECT sender FROM messages
		WHERE timestamp >= ?
		GROUP BY sender
		ORDER BY COUNT(*) DESC, sender
		LIMIT ?`,
		since.UnixMilli(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get top senders: %w", err)
	}
	defer rows.Close()

	senders := make([]string, 0, limit)
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("scan sender row: %w", err)
		}
		senders = append(senders, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sender rows: %w", err)
	}
	return senders, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m   Message
		snr sql.NullInt64
	)
	if err := row.Scan(
		&m.MessageID,
		&m.Kind,
		&m.Sender,
		&m.Target,
		&m.GroupName,
		&m.Content,
		&snr,
		&m.Timestamp,
	); err != nil {
		return nil, err
	}
	if snr.Valid {
		v := int(snr.Int64)
		m.SNR = &v
	}
	return &m, nil
}
