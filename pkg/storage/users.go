package storage

import (
	"errors"
	"fmt"
)

// SaveUser inserts a subscriber if it does not already exist.
func (s *Store) SaveUser(identity string) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO users (identity, added_at) VALUES (?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		identity,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert user %q: %w", identity, err)
	}
	return nil
}

// DeleteUser removes a subscriber and, via cascade, its subscriptions and
// mutes. Bindings survive; they are keyed by callsign and removed explicitly.
func (s *Store) DeleteUser(identity string) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	res, err := s.db.Exec(`DELETE FROM users WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete user %q: %w", identity, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Users returns all subscribers in insertion order.
func (s *Store) Users() ([]User, error) {
	rows, err := s.db.Query(
		`SELECT identity, added_at, welcome_sent FROM users ORDER BY added_at, identity`,
	)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var (
			u       User
			welcome int
		)
		if err := rows.Scan(&u.Identity, &u.AddedAt, &welcome); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		u.WelcomeSent = welcome == 1
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

// MarkWelcomed records that the welcome message went out.
func (s *Store) MarkWelcomed(identity string) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	_, err := s.db.Exec(`UPDATE users SET welcome_sent = 1 WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("mark welcomed %q: %w", identity, err)
	}
	return nil
}

// Subscribe adds a group subscription for a subscriber.
func (s *Store) Subscribe(identity, group string) error {
	if identity == "" || group == "" {
		return errors.New("identity and group are required")
	}
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (identity, group_name) VALUES (?, ?)
		ON CONFLICT(identity, group_name) DO NOTHING`,
		identity,
		group,
	)
	if err != nil {
		return fmt.Errorf("subscribe %q to %q: %w", identity, group, err)
	}
	return nil
}

// Unsubscribe drops a group subscription.
func (s *Store) Unsubscribe(identity, group string) error {
	if identity == "" || group == "" {
		return errors.New("identity and group are required")
	}
	_, err := s.db.Exec(
		`DELETE FROM subscriptions WHERE identity = ? AND group_name = ?`,
		identity,
		group,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe %q from %q: %w", identity, group, err)
	}
	return nil
}

// Subscriptions returns identity -> groups for every subscriber.
func (s *Store) Subscriptions() (map[string][]string, error) {
	rows, err := s.db.Query(
		`SELECT identity, group_name FROM subscriptions ORDER BY identity, group_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make(map[string][]string)
	for rows.Next() {
		var identity, group string
		if err := rows.Scan(&identity, &group); err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		subs[identity] = append(subs[identity], group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription rows: %w", err)
	}
	return subs, nil
}

// Mute suppresses delivery of a group (or "*" for everything) to a subscriber.
func (s *Store) Mute(identity, group string) error {
	if identity == "" || group == "" {
		return errors.New("identity and group are required")
	}
	_, err := s.db.Exec(
		`INSERT INTO mutes (identity, group_name) VALUES (?, ?)
		ON CONFLICT(identity, group_name) DO NOTHING`,
		identity,
		group,
	)
	if err != nil {
		return fmt.Errorf("mute %q for %q: %w", group, identity, err)
	}
	return nil
}

// Unmute restores delivery of a group to a subscriber.
func (s *Store) Unmute(identity, group string) error {
	if identity == "" || group == "" {
		return errors.New("identity and group are required")
	}
	_, err := s.db.Exec(
		`DELETE FROM mutes WHERE identity = ? AND group_name = ?`,
		identity,
		group,
	)
	if err != nil {
		return fmt.Errorf("unmute %q for %q: %w", group, identity, err)
	}
	return nil
}

// Mutes returns identity -> muted groups for every subscriber.
func (s *Store) Mutes() (map[string][]string, error) {
	rows, err := s.db.Query(
		`SELECT identity, group_name FROM mutes ORDER BY identity, group_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("get mutes: %w", err)
	}
	defer rows.Close()

	mutes := make(map[string][]string)
	for rows.Next() {
		var identity, group string
		if err := rows.Scan(&identity, &group); err != nil {
			return nil, fmt.Errorf("scan mute row: %w", err)
		}
		mutes[identity] = append(mutes[identity], group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mute rows: %w", err)
	}
	return mutes, nil
}
