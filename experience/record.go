package experience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/risk"
)

// Record is the immutable outcome of one closed position, kept as training
// data for the confidence model.
type Record struct {
	ID  string
	Key string // content key, see ContentKey

	Instrument string
	Direction  risk.Direction
	EntryPrice float64
	RUnit      float64
	Units      float64

	Confidence float64
	Explored   bool // admitted by exploration below the threshold
	Features   map[string]float64

	RealizedR   float64
	PeakR       float64
	RealizedPnL float64
	ExitReason  string

	OpenTime  time.Time
	CloseTime time.Time
}

// Win reports whether the trade closed with a positive R multiple.
func (r Record) Win() bool { return r.RealizedR > 0 }

// ContentKey hashes the feature and outcome tuple of r. Identifiers and
// timestamps are not part of the key.
func ContentKey(r Record) string {
	var b strings.Builder
	b.WriteString(r.Instrument)
	b.WriteByte('|')
	b.WriteString(r.Direction.String())
	for _, x := range []float64{r.EntryPrice, r.RUnit, r.Confidence} {
		b.WriteByte('|')
		b.WriteString(ff(x))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(r.Explored))

	keys := make([]string, 0, len(r.Features))
	for k := range r.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ff(r.Features[k]))
	}

	b.WriteByte('|')
	b.WriteString(ff(r.RealizedR))
	b.WriteByte('|')
	b.WriteString(r.ExitReason)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func ff(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

// Query narrows List results. Zero values match everything.
type Query struct {
	Instrument string
	Direction  risk.Direction
	Since      time.Time // close_time >= Since
	Until      time.Time // close_time < Until
	Limit      int       // most recent N when > 0
}

func (q Query) match(r Record) bool {
	if q.Instrument != "" && r.Instrument != q.Instrument {
		return false
	}
	if q.Direction != 0 && r.Direction != q.Direction {
		return false
	}
	if !q.Since.IsZero() && r.CloseTime.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !r.CloseTime.Before(q.Until) {
		return false
	}
	return true
}

// Reader is the read side handed to confidence scorers.
type Reader interface {
	Len(ctx context.Context) (int, error)
	Has(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, q Query) ([]Record, error)
}

// Store is append-only. Append reports false, without error, when a record
// with the same content key is already stored. A record counts toward Has
// only after Append has returned.
type Store interface {
	Reader
	Append(ctx context.Context, r Record) (bool, error)
	Close() error
}

// Entry is what the admission step knew about a position when it opened.
type Entry struct {
	Confidence float64
	Explored   bool
	Features   map[string]float64
}

// FromPosition derives the record of a closed position.
func FromPosition(id string, p *risk.Position, e Entry) (Record, error) {
	if p.Status != risk.Closed {
		return Record{}, fmt.Errorf("position %s is %s, not closed", p.ID, p.Status)
	}
	r := Record{
		ID:          id,
		Instrument:  p.Instrument,
		Direction:   p.Direction,
		EntryPrice:  p.EntryPrice,
		RUnit:       p.RUnit,
		Units:       p.OriginalUnits,
		Confidence:  e.Confidence,
		Explored:    e.Explored,
		Features:    cloneFeatures(e.Features),
		RealizedR:   p.RealizedR,
		PeakR:       p.PeakR,
		RealizedPnL: p.RealizedPnL,
		ExitReason:  string(p.ExitReason),
		OpenTime:    p.OpenTime,
		CloseTime:   p.CloseTime,
	}
	r.Key = ContentKey(r)
	return r, nil
}
