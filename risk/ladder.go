package risk

import (
	"fmt"
	"math"
	"sort"
)

type RungKind string

const (
	Partial            RungKind = "partial"
	Trailing           RungKind = "trailing"
	DrawdownProtection RungKind = "drawdown_protection"

	// Forced tags exits that did not come from the ladder.
	Forced RungKind = "forced"
)

// Rung is one step of the exit ladder.
//
// Partial rungs close Fraction of the original size once current R reaches
// TriggerR. Trailing and DrawdownProtection rungs close everything that is
// left, and only while protection is armed and peak R has reached TriggerR.
type Rung struct {
	TriggerR float64
	Fraction float64
	Kind     RungKind

	// Drawdown is the retracement from peak, as a fraction of peak R, that
	// fires a DrawdownProtection rung.
	Drawdown float64
	// OffsetR is the distance below peak R that fires a Trailing rung.
	OffsetR float64
}

// Ladder is ordered ascending by TriggerR.
type Ladder []Rung

// LadderInput is the position state the evaluator looks at.
type LadderInput struct {
	CurrentR float64
	PeakR    float64
	Armed    bool
	Fired    []bool
}

func (in LadderInput) fired(i int) bool {
	return i < len(in.Fired) && in.Fired[i]
}

func (r Rung) holds(in LadderInput) bool {
	switch r.Kind {
	case Partial:
		return in.CurrentR >= r.TriggerR
	case DrawdownProtection:
		if !in.Armed || in.PeakR < r.TriggerR || in.PeakR <= 0 {
			return false
		}
		return (in.PeakR-in.CurrentR)/in.PeakR > r.Drawdown
	case Trailing:
		if !in.Armed || in.PeakR < r.TriggerR {
			return false
		}
		return in.CurrentR < in.PeakR-r.OffsetR
	}
	return false
}

// EvaluateLadder returns the lowest-index rung that has not fired yet and
// whose condition holds for in.
func EvaluateLadder(l Ladder, in LadderInput) (int, bool) {
	for i, r := range l {
		if in.fired(i) {
			continue
		}
		if r.holds(in) {
			return i, true
		}
	}
	return -1, false
}

// Validate checks ordering and per-kind parameters, and that the ladder can
// close a whole position: partials summing to one, or a drawdown or
// trailing rung to take the remainder.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: ladder has no rungs", ErrInvalidConfig)
	}

	var partialSum float64
	var closer bool
	for i, r := range l {
		if math.IsNaN(r.TriggerR) || r.TriggerR <= 0 {
			return fmt.Errorf("%w: rung %d trigger_r must be positive", ErrInvalidConfig, i)
		}
		if i > 0 && r.TriggerR < l[i-1].TriggerR {
			return fmt.Errorf("%w: rung %d trigger_r %.2f below rung %d (%.2f)",
				ErrInvalidConfig, i, r.TriggerR, i-1, l[i-1].TriggerR)
		}

		switch r.Kind {
		case Partial:
			if r.Fraction <= 0 || r.Fraction > 1 {
				return fmt.Errorf("%w: rung %d fraction must be in (0,1]", ErrInvalidConfig, i)
			}
			partialSum += r.Fraction
		case DrawdownProtection:
			if r.Drawdown <= 0 || r.Drawdown >= 1 {
				return fmt.Errorf("%w: rung %d drawdown must be in (0,1)", ErrInvalidConfig, i)
			}
			closer = true
		case Trailing:
			if r.OffsetR <= 0 {
				return fmt.Errorf("%w: rung %d offset_r must be positive", ErrInvalidConfig, i)
			}
			closer = true
		default:
			return fmt.Errorf("%w: rung %d unknown kind %q", ErrInvalidConfig, i, r.Kind)
		}
	}

	// small tolerance so 0.5+0.3+0.2 passes
	if partialSum > 1+1e-9 {
		return fmt.Errorf("%w: partial fractions sum to %.4f (> 1)", ErrInvalidConfig, partialSum)
	}
	if !closer && partialSum < 1-1e-9 {
		return fmt.Errorf("%w: partial fractions sum to %.4f with no drawdown or trailing rung to close the rest",
			ErrInvalidConfig, partialSum)
	}
	return nil
}

// DefaultLadder is 2R/50%, 3R/30%, 5R/remainder plus drawdown protection
// once minR has been reached.
func DefaultLadder(minR, drawdown float64) Ladder {
	l := Ladder{
		{TriggerR: 2, Fraction: 0.5, Kind: Partial},
		{TriggerR: 3, Fraction: 0.3, Kind: Partial},
		{TriggerR: 5, Fraction: 0.2, Kind: Partial},
		{TriggerR: minR, Kind: DrawdownProtection, Drawdown: drawdown},
	}
	sort.SliceStable(l, func(i, j int) bool { return l[i].TriggerR < l[j].TriggerR })
	return l
}
