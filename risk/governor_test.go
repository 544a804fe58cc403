package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(t *testing.T, base float64) *Governor {
	t.Helper()
	g, err := NewGovernor(base, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestNewGovernorRejectsNonPositiveBase(t *testing.T) {
	t.Parallel()

	for _, base := range []float64{0, -10} {
		_, err := NewGovernor(base, zerolog.Nop())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestEffectiveLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		realized float64
		want     float64
	}{
		{"profit 300", 300, 1300},
		{"profit 100", 100, 1100},
		{"flat", 0, 1000},
		{"loss 50", -50, 1000},
		{"loss 900", -900, 1000},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGovernor(t, 1000)
			g.RecordRealizedPnL("ES", tt.realized)
			assert.InDelta(t, tt.want, g.EffectiveLimit("ES"), 1e-9)
		})
	}
}

func TestAdmitEntryHaltsAtLimit(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)
	assert.True(t, g.AdmitEntry("ES", 500))

	g.RecordRealizedPnL("ES", -600)
	assert.True(t, g.AdmitEntry("ES", 500))

	g.RecordRealizedPnL("ES", -400)
	assert.False(t, g.AdmitEntry("ES", 500))

	d := g.Check("ES")
	require.Len(t, d.Violations, 1)
	assert.Equal(t, CodeDailyLossLimit, d.Violations[0].Code)
	assert.Equal(t, ReasonDailyLossLimit, d.Reason())
	assert.Equal(t, Halted, g.Snapshot("ES").Status.State)
}

func TestAdmitEntryProfitCushion(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)

	// +500 banked, then -1400: realized -900 against an effective limit of 1000
	g.RecordRealizedPnL("NQ", 500)
	g.RecordRealizedPnL("NQ", -1400)
	assert.True(t, g.AdmitEntry("NQ", 0))

	g.RecordRealizedPnL("NQ", -100)
	assert.False(t, g.AdmitEntry("NQ", 0))
}

func TestHaltIsLatchedUntilReset(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)
	g.RecordRealizedPnL("ES", -1200)
	assert.False(t, g.AdmitEntry("ES", 0))

	// recovery during the same session does not re-arm
	g.RecordRealizedPnL("ES", 5000)
	for i := 0; i < 3; i++ {
		assert.False(t, g.AdmitEntry("ES", 0))
	}

	g.ResetDay("ES", "2026-10-16")
	assert.True(t, g.AdmitEntry("ES", 0))
}

func TestHaltIsPerInstrument(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)
	g.RecordRealizedPnL("ES", -1000)

	assert.False(t, g.AdmitEntry("ES", 0))
	assert.True(t, g.AdmitEntry("NQ", 0))
	assert.Equal(t, []string{"ES", "NQ"}, g.Instruments())
}

func TestResetDayIdempotent(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)
	g.RecordRealizedPnL("ES", -1500)
	require.False(t, g.AdmitEntry("ES", 0))

	g.ResetDay("ES", "s2")
	once := g.Snapshot("ES")
	g.ResetDay("ES", "s2")
	twice := g.Snapshot("ES")

	assert.Equal(t, once, twice)
	assert.Zero(t, twice.Realized)
	assert.Equal(t, Active, twice.Status.State)
	assert.Equal(t, "s2", twice.Session)
	assert.InDelta(t, 1000.0, twice.EffectiveLimit, 1e-9)
}

func TestSuspendResume(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1000)
	g.Suspend("maintenance window")
	assert.Equal(t, Status{State: Idle, Reason: "maintenance window"}, g.Status())

	d := g.Check("ES")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeTradingIdle, d.Violations[0].Code)
	// idle is not a halt
	assert.Equal(t, Active, g.Snapshot("ES").Status.State)

	g.Resume()
	assert.True(t, g.AdmitEntry("ES", 0))
}

func TestRecordRealizedPnLNoFloatDrift(t *testing.T) {
	t.Parallel()

	g := newTestGovernor(t, 1)
	for i := 0; i < 10; i++ {
		g.RecordRealizedPnL("EUR_USD", -0.1)
	}
	// -0.1 x 10 is exactly -1 in decimal, so the limit is hit
	assert.False(t, g.AdmitEntry("EUR_USD", 0))
}
