// Package replay drives the engine from a CSV file of recorded prices,
// signals and session events.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signal"
)

type Kind string

const (
	Price   Kind = "price"
	Signal  Kind = "signal"
	Reset   Kind = "reset"
	Force   Kind = "force"
	Suspend Kind = "suspend"
	Resume  Kind = "resume"
)

// AllInstruments marks suspend/resume rows that apply to the whole engine.
const AllInstruments = "*"

// Event is one parsed row.
type Event struct {
	Line       int
	Time       time.Time
	Instrument string
	Kind       Kind

	Price   float64       // price, force
	Signal  signal.Signal // signal
	Session string        // reset
	Reason  string        // force, suspend
}

// Global reports whether the event applies to every instrument.
func (e Event) Global() bool {
	return e.Kind == Suspend || e.Kind == Resume
}

type Feed struct {
	c    io.Closer
	r    *csv.Reader
	from time.Time
	to   time.Time
	line int
}

// NewFeed reads events from r. Rows outside [from, to) are skipped; zero
// bounds are open.
func NewFeed(r io.Reader, from, to time.Time) *Feed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &Feed{r: cr, from: from, to: to}
}

func OpenFeed(path string, from, to time.Time) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewFeed(f, from, to)
	feed.c = f
	return feed, nil
}

func (f *Feed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Next returns the next event. Expected columns:
// time,instrument,event,p1,p2,p3,p4
// A header row is allowed; missing params are treated as empty.
func (f *Feed) Next() (Event, bool, error) {
	for {
		row, err := f.r.Read()
		if errors.Is(err, io.EOF) {
			return Event{}, false, nil
		}
		if err != nil {
			return Event{}, false, err
		}
		f.line, _ = f.r.FieldPos(0)

		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) > 7 {
			return Event{}, false, fmt.Errorf("line %d: too many columns (expected <=7): %v", f.line, row)
		}

		ev, err := parseRow(row)
		if err != nil {
			return Event{}, false, fmt.Errorf("line %d: %w", f.line, err)
		}
		ev.Line = f.line
		if !inRange(ev.Time, f.from, f.to) {
			continue
		}
		return ev, true, nil
	}
}

// ReadAll drains the feed.
func (f *Feed) ReadAll() ([]Event, error) {
	var out []Event
	for {
		ev, ok, err := f.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, ev)
	}
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func parseRow(row []string) (Event, error) {
	col := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	ts, err := ParseTime(col(0))
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		Time:       ts,
		Instrument: col(1),
		Kind:       Kind(strings.ToLower(col(2))),
	}
	if ev.Instrument == "" {
		if !ev.Global() {
			return Event{}, fmt.Errorf("%s event needs an instrument", ev.Kind)
		}
		ev.Instrument = AllInstruments
	}

	switch ev.Kind {
	case Price:
		ev.Price, err = parseFloat("price", col(3))
	case Signal:
		ev.Signal, err = parseSignal(ev, col(3), col(4), col(5), col(6))
	case Reset:
		ev.Session = col(3)
		if ev.Session == "" {
			ev.Session = ts.UTC().Format(time.DateOnly)
		}
	case Force:
		if ev.Price, err = parseFloat("price", col(3)); err == nil {
			ev.Reason = col(4)
		}
	case Suspend:
		ev.Reason = col(3)
	case Resume:
	default:
		err = fmt.Errorf("unknown event %q", ev.Kind)
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func parseSignal(ev Event, dir, entry, rUnit, features string) (signal.Signal, error) {
	d, err := risk.ParseDirection(dir)
	if err != nil {
		return signal.Signal{}, err
	}
	e, err := parseFloat("entry", entry)
	if err != nil {
		return signal.Signal{}, err
	}
	r, err := parseFloat("r_unit", rUnit)
	if err != nil {
		return signal.Signal{}, err
	}
	fs, err := ParseFeatures(features)
	if err != nil {
		return signal.Signal{}, err
	}
	return signal.Signal{
		Instrument: ev.Instrument,
		Direction:  d,
		Entry:      e,
		RUnit:      r,
		Time:       ev.Time,
		Source:     "replay",
		Features:   fs,
	}, nil
}

// ParseFeatures reads "k=v;k=v". Empty input yields nil.
func ParseFeatures(s string) (map[string]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("bad feature %q", kv)
		}
		x, err := parseFloat(k, v)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(k)] = x
	}
	return out, nil
}

// ParseTime accepts RFC3339 with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t, nil
}

func parseFloat(name, s string) (float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", name, s, err)
	}
	return x, nil
}
