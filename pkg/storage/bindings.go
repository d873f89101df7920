package storage

import (
	"errors"
	"fmt"
)

// SaveBinding maps a callsign to an LXMF identity. Rebinding a callsign
// replaces the previous identity.
func (s *Store) SaveBinding(callsign, identity string) error {
	if callsign == "" || identity == "" {
		return errors.New("callsign and identity are required")
	}
	_, err := s.db.Exec(
		`INSERT INTO bindings (callsign, identity, bound_at) VALUES (?, ?, ?)
		ON CONFLICT(callsign) DO UPDATE SET identity = excluded.identity, bound_at = excluded.bound_at`,
		callsign,
		identity,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save binding %q: %w", callsign, err)
	}
	return nil
}

// DeleteBinding removes a callsign binding.
func (s *Store) DeleteBinding(callsign string) error {
	if callsign == "" {
		return errors.New("callsign is required")
	}
	res, err := s.db.Exec(`DELETE FROM bindings WHERE callsign = ?`, callsign)
	if err != nil {
		return fmt.Errorf("delete binding %q: %w", callsign, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete binding %q: %w", callsign, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Bindings returns every callsign binding ordered by callsign.
func (s *Store) Bindings() ([]Binding, error) {
	rows, err := s.db.Query(
		`SELECT callsign, identity, bound_at FROM bindings ORDER BY callsign`,
	)
	if err != nil {
		return nil, fmt.Errorf("get bindings: %w", err)
	}
	defer rows.Close()

	bindings := make([]Binding, 0)
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Callsign, &b.Identity, &b.BoundAt); err != nil {
			return nil, fmt.Errorf("scan binding row: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate binding rows: %w", err)
	}
	return bindings, nil
}
