package risk

import (
	"fmt"
	"math"
	"time"
)

// closedEpsilon is the remaining-size fraction treated as flat.
const closedEpsilon = 1e-9

// ExitEvent asks the execution collaborator to close Units of a position.
type ExitEvent struct {
	PositionID string
	Instrument string
	Rung       int // -1 for forced exits
	Kind       RungKind

	Fraction      float64 // of the original size
	Units         float64
	Price         float64
	RContribution float64 // Fraction * R at the exit price
	PnL           float64 // account currency
	Time          time.Time

	Final bool
}

// Position is one trade's risk state machine:
// Open -> PartiallyClosed (0..n) -> Closed.
//
// Fields are exported for reporting; only OnPriceUpdate and ForceClose
// mutate them. A Position is not safe for concurrent use.
type Position struct {
	ID         string
	Instrument string
	Direction  Direction
	EntryPrice float64
	RUnit      float64
	PointValue float64
	OpenTime   time.Time

	OriginalUnits  float64
	RemainingUnits float64

	CurrentR    float64
	PeakR       float64
	Protection  Protection
	RealizedR   float64
	RealizedPnL float64
	Status      PositionStatus
	ExitReason  RungKind
	LastPrice   float64
	LastUpdate  time.Time
	CloseTime   time.Time

	minR   float64
	ladder Ladder
	fired  []bool
}

// PositionSpec carries the fill that opened a position.
type PositionSpec struct {
	ID         string
	Instrument string
	Direction  Direction
	EntryPrice float64
	RUnit      float64
	Units      float64
	PointValue float64
	OpenTime   time.Time
}

func NewPosition(spec PositionSpec, p Policy) (*Position, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if spec.Direction != Long && spec.Direction != Short {
		return nil, fmt.Errorf("%w: direction must be long or short", ErrInvalidPosition)
	}
	if !(spec.RUnit > 0) || math.IsInf(spec.RUnit, 0) {
		return nil, fmt.Errorf("%w: r_unit must be positive, got %v", ErrInvalidPosition, spec.RUnit)
	}
	if !(spec.EntryPrice > 0) || math.IsInf(spec.EntryPrice, 0) {
		return nil, fmt.Errorf("%w: entry price must be positive, got %v", ErrInvalidPosition, spec.EntryPrice)
	}
	if !(spec.Units > 0) {
		return nil, fmt.Errorf("%w: units must be positive, got %v", ErrInvalidPosition, spec.Units)
	}
	pv := spec.PointValue
	if pv == 0 {
		pv = 1
	}
	if pv < 0 {
		return nil, fmt.Errorf("%w: point value must be positive", ErrInvalidPosition)
	}

	ladder := p.EffectiveLadder()
	return &Position{
		ID:             spec.ID,
		Instrument:     spec.Instrument,
		Direction:      spec.Direction,
		EntryPrice:     spec.EntryPrice,
		RUnit:          spec.RUnit,
		PointValue:     pv,
		OpenTime:       spec.OpenTime,
		OriginalUnits:  spec.Units,
		RemainingUnits: spec.Units,
		LastPrice:      spec.EntryPrice,
		Status:         Open,
		minR:           p.ProfitProtectionMinR,
		ladder:         ladder,
		fired:          make([]bool, len(ladder)),
	}, nil
}

func (p *Position) checkUpdate(price float64, at time.Time) error {
	if p.Status == Closed {
		return fmt.Errorf("%w: position %s is closed", ErrStalePosition, p.ID)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: position %s: bad price %v", ErrInvalidPosition, p.ID, price)
	}
	if !at.IsZero() && at.Before(p.OpenTime) {
		return fmt.Errorf("%w: position %s: update at %s precedes entry at %s",
			ErrInvalidPosition, p.ID, at.Format(time.RFC3339), p.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// OnPriceUpdate applies one price tick. At most one rung fires per call.
func (p *Position) OnPriceUpdate(price float64, at time.Time) ([]ExitEvent, error) {
	if err := p.checkUpdate(price, at); err != nil {
		return nil, err
	}

	cur := RMultiple(p.Direction, p.EntryPrice, price, p.RUnit)
	p.CurrentR = cur
	p.LastPrice = price
	p.LastUpdate = at
	if cur > p.PeakR {
		p.PeakR = cur
	}
	if p.Protection == Unarmed && p.PeakR >= p.minR {
		p.Protection = Armed
	}

	idx, ok := EvaluateLadder(p.ladder, LadderInput{
		CurrentR: cur,
		PeakR:    p.PeakR,
		Armed:    p.Protection == Armed,
		Fired:    p.fired,
	})
	if !ok {
		return nil, nil
	}

	rung := p.ladder[idx]
	units := p.RemainingUnits
	if rung.Kind == Partial {
		units = math.Min(rung.Fraction*p.OriginalUnits, p.RemainingUnits)
	}
	p.fired[idx] = true
	return []ExitEvent{p.exit(idx, rung.Kind, units, price, at)}, nil
}

// ForceClose closes whatever is left at price, outside the ladder.
func (p *Position) ForceClose(price float64, at time.Time) (ExitEvent, error) {
	if err := p.checkUpdate(price, at); err != nil {
		return ExitEvent{}, err
	}
	p.CurrentR = RMultiple(p.Direction, p.EntryPrice, price, p.RUnit)
	p.LastPrice = price
	p.LastUpdate = at
	return p.exit(-1, Forced, p.RemainingUnits, price, at), nil
}

func (p *Position) exit(rung int, kind RungKind, units, price float64, at time.Time) ExitEvent {
	frac := units / p.OriginalUnits
	contrib := frac * p.CurrentR
	pnl := PnL(p.Direction, units, p.EntryPrice, price, p.PointValue)

	p.RemainingUnits -= units
	if p.RemainingUnits <= closedEpsilon*p.OriginalUnits {
		p.RemainingUnits = 0
	}
	p.RealizedR += contrib
	p.RealizedPnL += pnl

	final := p.RemainingUnits == 0
	if final {
		p.Status = Closed
		p.ExitReason = kind
		p.CloseTime = at
	} else {
		p.Status = PartiallyClosed
	}

	return ExitEvent{
		PositionID:    p.ID,
		Instrument:    p.Instrument,
		Rung:          rung,
		Kind:          kind,
		Fraction:      frac,
		Units:         units,
		Price:         price,
		RContribution: contrib,
		PnL:           pnl,
		Time:          at,
		Final:         final,
	}
}

// FiredRungs returns the indices of rungs that have fired, ascending.
func (p *Position) FiredRungs() []int {
	var out []int
	for i, f := range p.fired {
		if f {
			out = append(out, i)
		}
	}
	return out
}

// Ladder returns the position's copy of the exit ladder.
func (p *Position) Ladder() Ladder {
	l := make(Ladder, len(p.ladder))
	copy(l, p.ladder)
	return l
}

// Snapshot returns a deep copy that shares no state with p.
func (p *Position) Snapshot() Position {
	c := *p
	c.ladder = p.Ladder()
	c.fired = append([]bool(nil), p.fired...)
	return c
}
