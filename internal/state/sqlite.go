package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStateStore is the durable embedded StateStore backend. The
// compare-and-set runs inside an immediate transaction guarded by a
// version predicate on the UPDATE, so a concurrent writer observes a
// zero-row update instead of clobbering.
type SQLiteStateStore struct {
	db *sql.DB
}

func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer connection sidesteps SQLITE_BUSY races between
	// concurrent commit attempts.
	db.SetMaxOpenConns(1)
	store := &SQLiteStateStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStateStore) Close() error { return s.db.Close() }

func (s *SQLiteStateStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaign_state (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			expires_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS budgets (
			key TEXT PRIMARY KEY,
			amount REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStateStore) GetState(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, version FROM campaign_state WHERE key = ?`, key,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return payload, version, true, nil
}

func (s *SQLiteStateStore) CompareAndSetState(ctx context.Context, key string, expectedVersion int64, payload []byte) (bool, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM campaign_state WHERE key = ?`, key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return false, 0, err
	}
	if current != expectedVersion {
		return false, current, nil
	}
	next := current + 1
	if current == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO campaign_state (key, payload, version, updated_at) VALUES (?, ?, ?, ?)`,
			key, payload, next, now)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE campaign_state SET payload = ?, version = ?, updated_at = ? WHERE key = ? AND version = ?`,
			payload, next, now, key, current)
		if err == nil {
			n, affErr := res.RowsAffected()
			if affErr != nil {
				return false, 0, affErr
			}
			if n == 0 {
				return false, current, nil
			}
		}
	}
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, next, nil
}

func (s *SQLiteStateStore) PutRecord(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = time.Now().UTC().Add(ttl)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expires)
	return err
}

func (s *SQLiteStateStore) GetRecord(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM records WHERE key = ?`, key,
	).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires.Valid && time.Now().UTC().After(expires.Time) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *SQLiteStateStore) IncrementBy(ctx context.Context, key string, delta float64) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO budgets (key, amount) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET amount = amount + excluded.amount`,
		key, delta); err != nil {
		return 0, err
	}
	var total float64
	if err := tx.QueryRowContext(ctx, `SELECT amount FROM budgets WHERE key = ?`, key).Scan(&total); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
