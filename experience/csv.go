package experience

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/risk"
)

var csvHeader = []string{
	"id", "content_key", "instrument", "direction", "entry_price", "r_unit", "units",
	"confidence", "explored", "features", "realized_r", "peak_r", "realized_pnl",
	"exit_reason", "open_time", "close_time",
}

// CSVStore keeps records in memory and mirrors every accepted append to a
// CSV file. Existing rows are loaded on open so duplicates stay detected
// across runs.
type CSVStore struct {
	*MemoryStore

	// mu serializes appends so a row reaches the file before its key
	// counts toward dedupe.
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

func NewCSV(path string) (*CSVStore, error) {
	mem := NewMemory()

	existing, err := readCSVFile(path)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if _, err := mem.Append(context.Background(), r); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	if existing == nil {
		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if st.Size() == 0 {
			if err := w.Write(csvHeader); err != nil {
				_ = f.Close()
				return nil, err
			}
			w.Flush()
			if err := w.Error(); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}

	return &CSVStore{MemoryStore: mem, f: f, w: w}, nil
}

func (s *CSVStore) Append(ctx context.Context, r Record) (bool, error) {
	if r.Key == "" {
		r.Key = ContentKey(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dup, err := s.MemoryStore.Has(ctx, r.Key)
	if err != nil || dup {
		return false, err
	}
	if err := s.w.Write(recordRow(r)); err != nil {
		return false, fmt.Errorf("write experience %s: %w", r.ID, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return false, fmt.Errorf("flush experience %s: %w", r.ID, err)
	}
	return s.MemoryStore.Append(ctx, r)
}

func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// WriteCSV writes recs with a header row to w.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(recordRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses rows written by WriteCSV or CSVStore.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	var out []Record
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && row[0] == csvHeader[0] {
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func readCSVFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func recordRow(r Record) []string {
	return []string{
		r.ID,
		r.Key,
		r.Instrument,
		r.Direction.String(),
		f(r.EntryPrice),
		f(r.RUnit),
		f(r.Units),
		f(r.Confidence),
		strconv.FormatBool(r.Explored),
		encodeFeatures(r.Features),
		f(r.RealizedR),
		f(r.PeakR),
		f(r.RealizedPnL),
		r.ExitReason,
		r.OpenTime.UTC().Format(time.RFC3339Nano),
		r.CloseTime.UTC().Format(time.RFC3339Nano),
	}
}

func parseRow(row []string) (Record, error) {
	var (
		rec Record
		err error
	)
	rec.ID = row[0]
	rec.Key = row[1]
	rec.Instrument = row[2]
	if rec.Direction, err = risk.ParseDirection(row[3]); err != nil {
		return Record{}, err
	}
	nums := []*float64{&rec.EntryPrice, &rec.RUnit, &rec.Units, &rec.Confidence}
	for i, p := range nums {
		if *p, err = strconv.ParseFloat(row[4+i], 64); err != nil {
			return Record{}, fmt.Errorf("%s: %w", csvHeader[4+i], err)
		}
	}
	if rec.Explored, err = strconv.ParseBool(row[8]); err != nil {
		return Record{}, fmt.Errorf("explored: %w", err)
	}
	if rec.Features, err = DecodeFeatures(row[9]); err != nil {
		return Record{}, err
	}
	nums = []*float64{&rec.RealizedR, &rec.PeakR, &rec.RealizedPnL}
	for i, p := range nums {
		if *p, err = strconv.ParseFloat(row[10+i], 64); err != nil {
			return Record{}, fmt.Errorf("%s: %w", csvHeader[10+i], err)
		}
	}
	rec.ExitReason = row[13]
	if rec.OpenTime, err = time.Parse(time.RFC3339Nano, row[14]); err != nil {
		return Record{}, fmt.Errorf("open_time: %w", err)
	}
	if rec.CloseTime, err = time.Parse(time.RFC3339Nano, row[15]); err != nil {
		return Record{}, fmt.Errorf("close_time: %w", err)
	}
	return rec, nil
}

// encodeFeatures renders features as k=v;k=v with sorted keys.
func encodeFeatures(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ff(m[k]))
	}
	return strings.Join(parts, ";")
}

// DecodeFeatures parses the k=v;k=v form used in CSV files and replay rows.
func DecodeFeatures(s string) (map[string]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("feature %q: want key=value", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", k, err)
		}
		out[strings.TrimSpace(k)] = x
	}
	return out, nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
