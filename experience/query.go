package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/risk"
)

const selectColumns = `
	SELECT id, content_key, instrument, direction, entry_price, r_unit, units, confidence, explored,
	       features, realized_r, peak_r, realized_pnl, exit_reason, open_time, close_time
	FROM experiences`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		dir      string
		features string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Key,
		&rec.Instrument,
		&dir,
		&rec.EntryPrice,
		&rec.RUnit,
		&rec.Units,
		&rec.Confidence,
		&rec.Explored,
		&features,
		&rec.RealizedR,
		&rec.PeakR,
		&rec.RealizedPnL,
		&rec.ExitReason,
		&rec.OpenTime,
		&rec.CloseTime,
	)
	if err != nil {
		return Record{}, err
	}
	if rec.Direction, err = risk.ParseDirection(dir); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
		return Record{}, fmt.Errorf("decode features of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Get returns a single record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("experience %q not found", id)
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns matching records oldest first. With a Limit it returns the
// most recent Limit records, still oldest first.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Instrument != "" {
		where = append(where, "instrument = ?")
		args = append(args, q.Instrument)
	}
	if q.Direction != 0 {
		where = append(where, "direction = ?")
		args = append(args, q.Direction.String())
	}
	if !q.Since.IsZero() {
		where = append(where, "close_time >= ?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		where = append(where, "close_time < ?")
		args = append(args, q.Until.UTC())
	}

	stmt := selectColumns
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY seq DESC"
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListClosedBetween returns records whose close_time is within [start, end).
func (s *SQLiteStore) ListClosedBetween(ctx context.Context, start, end time.Time) ([]Record, error) {
	return s.List(ctx, Query{Since: start, Until: end})
}
