package signal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/intraday/risk"
)

// Signal is a candidate setup produced by an upstream detector. The filter
// treats Features as opaque.
type Signal struct {
	Instrument string
	Direction  risk.Direction
	Entry      float64
	RUnit      float64
	Units      float64 // 0 lets the engine size the position
	Time       time.Time
	Source     string
	Features   map[string]float64
}

// Validate catches signals no position could be built from.
func (s Signal) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("%w: signal has no instrument", risk.ErrInvalidPosition)
	}
	if s.Direction != risk.Long && s.Direction != risk.Short {
		return fmt.Errorf("%w: signal direction %v", risk.ErrInvalidPosition, s.Direction)
	}
	if !(s.Entry > 0) {
		return fmt.Errorf("%w: signal entry %v", risk.ErrInvalidPosition, s.Entry)
	}
	if !(s.RUnit > 0) {
		return fmt.Errorf("%w: signal r_unit %v", risk.ErrInvalidPosition, s.RUnit)
	}
	if s.Units < 0 {
		return fmt.Errorf("%w: signal units %v", risk.ErrInvalidPosition, s.Units)
	}
	return nil
}
