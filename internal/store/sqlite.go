package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// SubscriptionStore persists the configured instrument subscription list in
// SQLite. It holds configuration only; runtime session and validator state
// is always derived from it, never stored here.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore opens (or creates) the database at dbPath and
// ensures the subscriptions table exists.
func NewSubscriptionStore(dbPath string) (*SubscriptionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS subscriptions (
		instrument TEXT PRIMARY KEY
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating subscriptions table: %w", err)
	}
	return &SubscriptionStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SubscriptionStore) Close() error {
	return s.db.Close()
}

// Add inserts instruments into the subscription list. Already-present
// instruments are ignored.
func (s *SubscriptionStore) Add(ctx context.Context, instruments ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, id := range instruments {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscriptions (instrument) VALUES (?)`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("adding subscription %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Remove deletes one instrument from the subscription list.
func (s *SubscriptionStore) Remove(ctx context.Context, instrument string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE instrument = ?`, instrument)
	return err
}

// List returns all subscribed instruments in sorted order.
func (s *SubscriptionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument FROM subscriptions ORDER BY instrument`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		instruments = append(instruments, id)
	}
	return instruments, rows.Err()
}
