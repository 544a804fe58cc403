package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps append-then-lookup ordering simple
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, r Record) (bool, error) {
	if r.Key == "" {
		r.Key = ContentKey(r)
	}
	features, err := json.Marshal(r.Features)
	if err != nil {
		return false, fmt.Errorf("encode features: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO experiences
		(id, content_key, instrument, direction, entry_price, r_unit, units, confidence, explored,
		 features, realized_r, peak_r, realized_pnl, exit_reason, open_time, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Key, r.Instrument, r.Direction.String(), r.EntryPrice, r.RUnit, r.Units,
		r.Confidence, r.Explored, string(features), r.RealizedR, r.PeakR, r.RealizedPnL,
		r.ExitReason, r.OpenTime.UTC(), r.CloseTime.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences WHERE content_key = ?`, key).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
