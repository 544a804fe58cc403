package signal

import (
	"context"

	"github.com/rustyeddy/intraday/experience"
)

// Scorer maps a candidate signal plus the experience gathered so far to a
// confidence in [0,1]. Model internals live behind this interface.
type Scorer interface {
	Score(ctx context.Context, s Signal, exp experience.Reader) (float64, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(ctx context.Context, s Signal, exp experience.Reader) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, s Signal, exp experience.Reader) (float64, error) {
	return f(ctx, s, exp)
}

// Constant scores every signal the same.
type Constant float64

func (c Constant) Score(context.Context, Signal, experience.Reader) (float64, error) {
	return float64(c), nil
}

// WinRate scores a signal by the Laplace-smoothed win rate of the most
// recent experiences on the same instrument and direction. With no history
// it returns 0.5.
type WinRate struct {
	Window int // most recent N records; 0 means all
}

func (w WinRate) Score(ctx context.Context, s Signal, exp experience.Reader) (float64, error) {
	if exp == nil {
		return 0.5, nil
	}
	recs, err := exp.List(ctx, experience.Query{
		Instrument: s.Instrument,
		Direction:  s.Direction,
		Limit:      w.Window,
	})
	if err != nil {
		return 0, err
	}

	wins := 0
	for _, r := range recs {
		if r.Win() {
			wins++
		}
	}
	return float64(wins+1) / float64(len(recs)+2), nil
}
