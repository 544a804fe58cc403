package risk

import (
	"fmt"
	"math"
)

// Policy is the validated risk configuration shared by the governor and
// every position.
type Policy struct {
	// Daily loss limit in account currency before profit adjustment.
	BaseLossLimit float64

	// Peak R a position must reach before protective exits may fire.
	ProfitProtectionMinR float64
	// Default retracement fraction for drawdown rungs that leave it unset.
	ProfitDrawdownPct float64

	Ladder Ladder
}

// DefaultPolicy mirrors the values the engine ships with.
func DefaultPolicy() Policy {
	return Policy{
		BaseLossLimit:        1000,
		ProfitProtectionMinR: 2.0,
		ProfitDrawdownPct:    0.35,
		Ladder:               DefaultLadder(2.0, 0.35),
	}
}

// EffectiveLadder returns a copy of the ladder with drawdown rungs that
// leave Drawdown unset filled from ProfitDrawdownPct.
func (p Policy) EffectiveLadder() Ladder {
	l := make(Ladder, len(p.Ladder))
	copy(l, p.Ladder)
	for i := range l {
		if l[i].Kind == DrawdownProtection && l[i].Drawdown == 0 {
			l[i].Drawdown = p.ProfitDrawdownPct
		}
	}
	return l
}

func (p Policy) Validate() error {
	if math.IsNaN(p.BaseLossLimit) || p.BaseLossLimit <= 0 {
		return fmt.Errorf("%w: base_loss_limit must be positive", ErrInvalidConfig)
	}
	if math.IsNaN(p.ProfitProtectionMinR) || p.ProfitProtectionMinR <= 0 {
		return fmt.Errorf("%w: profit_protection_min_r must be positive", ErrInvalidConfig)
	}
	if p.ProfitDrawdownPct <= 0 || p.ProfitDrawdownPct >= 1 {
		return fmt.Errorf("%w: profit_drawdown_pct must be in (0,1)", ErrInvalidConfig)
	}
	return p.EffectiveLadder().Validate()
}
