package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)

func newLong(t *testing.T, units float64) *Position {
	t.Helper()
	p, err := NewPosition(PositionSpec{
		ID:         "P1",
		Instrument: "ES",
		Direction:  Long,
		EntryPrice: 6800,
		RUnit:      20,
		Units:      units,
		PointValue: 50,
		OpenTime:   t0,
	}, DefaultPolicy())
	require.NoError(t, err)
	return p
}

// step feeds one price a minute after the previous one.
func step(t *testing.T, p *Position, i int, price float64) []ExitEvent {
	t.Helper()
	evs, err := p.OnPriceUpdate(price, t0.Add(time.Duration(i)*time.Minute))
	require.NoError(t, err)
	return evs
}

func TestNewPositionRejectsBadSpecs(t *testing.T) {
	t.Parallel()

	base := PositionSpec{ID: "x", Instrument: "ES", Direction: Long, EntryPrice: 6800, RUnit: 20, Units: 1}

	tests := []struct {
		name   string
		mutate func(*PositionSpec)
	}{
		{"zero r unit", func(s *PositionSpec) { s.RUnit = 0 }},
		{"negative r unit", func(s *PositionSpec) { s.RUnit = -5 }},
		{"nan r unit", func(s *PositionSpec) { s.RUnit = math.NaN() }},
		{"zero entry", func(s *PositionSpec) { s.EntryPrice = 0 }},
		{"zero units", func(s *PositionSpec) { s.Units = 0 }},
		{"no direction", func(s *PositionSpec) { s.Direction = 0 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := base
			tt.mutate(&spec)
			_, err := NewPosition(spec, DefaultPolicy())
			assert.ErrorIs(t, err, ErrInvalidPosition)
		})
	}

	bad := DefaultPolicy()
	bad.ProfitProtectionMinR = 0
	_, err := NewPosition(base, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPositionEarlyRetracementDoesNotExit(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)

	assert.Empty(t, step(t, p, 1, 6820)) // 1.0R
	assert.Equal(t, Unarmed, p.Protection)

	// 0.6R: 40% off the peak, but protection is not armed yet
	assert.Empty(t, step(t, p, 2, 6812))
	assert.InDelta(t, 1.0, p.PeakR, 1e-12)
	assert.InDelta(t, 0.6, p.CurrentR, 1e-12)
	assert.Equal(t, Open, p.Status)
	assert.Equal(t, 10.0, p.RemainingUnits)
}

func TestPositionPartialLadder(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)
	step(t, p, 1, 6820)
	step(t, p, 2, 6812)

	evs := step(t, p, 3, 6840) // 2.0R
	require.Len(t, evs, 1)
	assert.Equal(t, Armed, p.Protection)
	assert.Equal(t, Partial, evs[0].Kind)
	assert.Equal(t, 0, evs[0].Rung)
	assert.InDelta(t, 0.5, evs[0].Fraction, 1e-12)
	assert.InDelta(t, 5.0, evs[0].Units, 1e-12)
	assert.InDelta(t, 1.0, evs[0].RContribution, 1e-12)
	assert.InDelta(t, 5*40*50.0, evs[0].PnL, 1e-9)
	assert.False(t, evs[0].Final)
	assert.Equal(t, PartiallyClosed, p.Status)

	evs = step(t, p, 4, 6860) // 3.0R
	require.Len(t, evs, 1)
	assert.Equal(t, 2, evs[0].Rung)
	assert.InDelta(t, 0.3, evs[0].Fraction, 1e-12)
	assert.InDelta(t, 3.0, evs[0].Units, 1e-12)
	assert.InDelta(t, 2.0, p.RemainingUnits, 1e-12)

	assert.Empty(t, step(t, p, 5, 6870))

	evs = step(t, p, 6, 6900) // 5.0R
	require.Len(t, evs, 1)
	assert.Equal(t, 3, evs[0].Rung)
	assert.True(t, evs[0].Final)
	assert.Equal(t, Closed, p.Status)
	assert.Equal(t, Partial, p.ExitReason)
	assert.Zero(t, p.RemainingUnits)
	assert.InDelta(t, 1.0+0.9+1.0, p.RealizedR, 1e-9)
	assert.Equal(t, []int{0, 2, 3}, p.FiredRungs())

	_, err := p.OnPriceUpdate(6910, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrStalePosition)
}

func TestPositionOneRungPerUpdate(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)

	var fired []int
	for i := 1; i <= 3; i++ {
		evs := step(t, p, i, 6900) // gap straight to 5R
		require.Len(t, evs, 1, "update %d", i)
		fired = append(fired, evs[0].Rung)
	}
	assert.Equal(t, []int{0, 2, 3}, fired)
	assert.Equal(t, Closed, p.Status)
}

func TestPositionDrawdownProtection(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)
	step(t, p, 1, 6840)                 // 2R partial
	assert.Empty(t, step(t, p, 2, 6845)) // 2.25R peak

	evs := step(t, p, 3, 6825) // 1.25R: (2.25-1.25)/2.25 = 44%
	require.Len(t, evs, 1)
	assert.Equal(t, DrawdownProtection, evs[0].Kind)
	assert.InDelta(t, 0.5, evs[0].Fraction, 1e-12)
	assert.InDelta(t, 0.625, evs[0].RContribution, 1e-12)
	assert.True(t, evs[0].Final)
	assert.Equal(t, DrawdownProtection, p.ExitReason)
	assert.InDelta(t, 1.625, p.RealizedR, 1e-12)
}

// Partials fire in ascending trigger order. The drawdown rung shares the 2R
// trigger in the default ladder but fires on retracement, so it can come
// after a later partial and always takes the remainder.
func TestPositionProtectionRungAfterLaterPartials(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)
	l := p.Ladder()

	var fired []int
	for i, px := range []float64{6840, 6860, 6830} { // 2R, 3R, back to 1.5R
		evs := step(t, p, i+1, px)
		require.Len(t, evs, 1, "price %v", px)
		fired = append(fired, evs[0].Rung)
	}
	assert.Equal(t, []int{0, 2, 1}, fired)

	var lastPartial float64
	for _, rung := range fired {
		if l[rung].Kind != Partial {
			continue
		}
		assert.Greater(t, l[rung].TriggerR, lastPartial)
		lastPartial = l[rung].TriggerR
	}

	assert.Equal(t, DrawdownProtection, l[fired[2]].Kind)
	assert.Equal(t, Closed, p.Status)
	assert.Equal(t, DrawdownProtection, p.ExitReason)
	assert.Zero(t, p.RemainingUnits)
	// 50% off the 3R peak closes the last 20% at 1.5R
	assert.InDelta(t, 1.0+0.9+0.3, p.RealizedR, 1e-9)
}

func TestPositionProtectionStaysArmed(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicy()
	pol.Ladder = Ladder{{TriggerR: 10, Fraction: 1, Kind: Partial}}
	p, err := NewPosition(PositionSpec{ID: "P", Direction: Long, EntryPrice: 100, RUnit: 1, Units: 1}, pol)
	require.NoError(t, err)

	_, err = p.OnPriceUpdate(102.5, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Armed, p.Protection)

	for _, px := range []float64{101, 99, 95, 100} {
		_, err = p.OnPriceUpdate(px, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, Armed, p.Protection)
	}
}

func TestPositionShort(t *testing.T) {
	t.Parallel()

	p, err := NewPosition(PositionSpec{
		ID: "S1", Instrument: "NQ", Direction: Short,
		EntryPrice: 21000, RUnit: 50, Units: 4, PointValue: 20, OpenTime: t0,
	}, DefaultPolicy())
	require.NoError(t, err)

	evs, err := p.OnPriceUpdate(21050, t0.Add(time.Minute)) // -1R
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.InDelta(t, -1.0, p.CurrentR, 1e-12)
	assert.Zero(t, p.PeakR)

	evs, err = p.OnPriceUpdate(20900, t0.Add(2*time.Minute)) // +2R
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.InDelta(t, 2.0, evs[0].Units, 1e-12)
	assert.InDelta(t, 2*100*20.0, evs[0].PnL, 1e-9)
}

func TestPositionRejectsBadUpdates(t *testing.T) {
	t.Parallel()

	p := newLong(t, 1)

	_, err := p.OnPriceUpdate(0, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = p.OnPriceUpdate(math.NaN(), t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = p.OnPriceUpdate(6810, t0.Add(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidPosition)

	// a rejected update leaves the state alone
	assert.Zero(t, p.PeakR)
	assert.Equal(t, Open, p.Status)
}

func TestPositionForceClose(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)
	step(t, p, 1, 6840)

	ev, err := p.ForceClose(6790, t0.Add(time.Hour)) // -0.5R
	require.NoError(t, err)
	assert.Equal(t, Forced, ev.Kind)
	assert.Equal(t, -1, ev.Rung)
	assert.InDelta(t, 5.0, ev.Units, 1e-12)
	assert.InDelta(t, -0.25, ev.RContribution, 1e-12)
	assert.True(t, ev.Final)
	assert.Equal(t, Forced, p.ExitReason)
	assert.InDelta(t, 0.75, p.RealizedR, 1e-12)
	assert.InDelta(t, 5*40*50.0-5*10*50.0, p.RealizedPnL, 1e-9)

	_, err = p.ForceClose(6790, t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrStalePosition)
}

func TestPositionSizeNeverNegative(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicy()
	pol.Ladder = Ladder{
		{TriggerR: 1, Fraction: 1.0 / 3, Kind: Partial},
		{TriggerR: 2, Fraction: 1.0 / 3, Kind: Partial},
		{TriggerR: 2, Kind: Trailing, OffsetR: 0.5},
		{TriggerR: 3, Fraction: 1.0 / 3, Kind: Partial},
	}
	p, err := NewPosition(PositionSpec{ID: "P", Direction: Long, EntryPrice: 100, RUnit: 1, Units: 7}, pol)
	require.NoError(t, err)

	path := []float64{100.5, 101, 101.2, 102, 102.4, 103.1, 103.3, 103.5}
	prev := p.RemainingUnits
	for _, px := range path {
		_, err := p.OnPriceUpdate(px, time.Time{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.RemainingUnits, 0.0)
		assert.LessOrEqual(t, p.RemainingUnits, prev)
		prev = p.RemainingUnits
		if p.Status == Closed {
			break
		}
	}
	assert.Equal(t, Closed, p.Status)
	assert.Zero(t, p.RemainingUnits)
	assert.Equal(t, []int{0, 1, 3}, p.FiredRungs())
}

func TestPositionSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	p := newLong(t, 10)
	snap := p.Snapshot()

	step(t, p, 1, 6840)
	assert.Equal(t, []int{0}, p.FiredRungs())
	assert.Empty(t, snap.FiredRungs())
	assert.Equal(t, Open, snap.Status)
	assert.Equal(t, 10.0, snap.RemainingUnits)
}
