package replay

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/engine"
	"github.com/rustyeddy/intraday/experience"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signal"
)

func newEngine(t *testing.T, store experience.Store) *engine.Engine {
	t.Helper()

	gov, err := risk.NewGovernor(1000, zerolog.Nop())
	require.NoError(t, err)
	f, err := signal.NewFilter(gov, signal.Constant(0.8), 0.7, 0, signal.NewLockedRand(1))
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{
		Policy:     risk.DefaultPolicy(),
		RiskAmount: 1000,
		Governor:   gov,
		Filter:     f,
		Store:      store,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return eng
}

// newExploringEngine scores every signal below threshold so only the
// exploration draw admits trades.
func newExploringEngine(t *testing.T, seed int64) *engine.Engine {
	t.Helper()

	gov, err := risk.NewGovernor(1e9, zerolog.Nop())
	require.NoError(t, err)
	f, err := signal.NewFilter(gov, signal.Constant(0.2), 0.7, 0.5, signal.NewInstrumentRand(seed))
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{
		Policy:     risk.DefaultPolicy(),
		RiskAmount: 1000,
		Governor:   gov,
		Filter:     f,
		Store:      experience.NewMemory(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return eng
}

func events(t *testing.T, doc string) []Event {
	t.Helper()
	evs, err := NewFeed(strings.NewReader(doc), time.Time{}, time.Time{}).ReadAll()
	require.NoError(t, err)
	return evs
}

func TestRunnerReplaysInstrumentsIndependently(t *testing.T) {
	t.Parallel()

	doc := `time,instrument,event,p1,p2,p3,p4
2026-10-15T14:30:00Z,ES,signal,long,6800,20
2026-10-15T14:30:00Z,NQ,signal,short,25000,50
2026-10-15T14:31:00Z,ES,price,6840
2026-10-15T14:31:00Z,NQ,price,24900
2026-10-15T14:32:00Z,ES,price,6860
2026-10-15T14:32:00Z,NQ,price,-5
2026-10-15T14:33:00Z,ES,price,6900
2026-10-15T14:33:00Z,NQ,price,24950
`
	store := experience.NewMemory()
	r := &Runner{Engine: newEngine(t, store), Log: zerolog.Nop()}

	sum, err := r.Run(context.Background(), events(t, doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"ES", "NQ"}, sum.Instruments())
	es := sum.ByInstrument["ES"]
	assert.Equal(t, 4, es.Events)
	assert.Equal(t, 1, es.Accepted)
	assert.Equal(t, 3, es.Exits)
	assert.Equal(t, 1, es.Closed)

	nq := sum.ByInstrument["NQ"]
	assert.Equal(t, 1, nq.DataErrors)
	// 2R partial on the short, then drawdown protection at 1R
	assert.Equal(t, 2, nq.Exits)
	assert.Equal(t, 1, nq.Closed)

	assert.Equal(t, 8, sum.Total.Events)
	assert.Equal(t, 2, sum.Total.Signals)
	assert.Equal(t, 5, sum.Total.Exits)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunnerSuspendIsABarrier(t *testing.T) {
	t.Parallel()

	doc := `2026-10-15T14:30:00Z,*,suspend,licence check
2026-10-15T14:31:00Z,ES,signal,long,6800,20
2026-10-15T14:32:00Z,*,resume
2026-10-15T14:33:00Z,ES,signal,long,6800,20
`
	r := &Runner{Engine: newEngine(t, experience.NewMemory()), Log: zerolog.Nop()}

	sum, err := r.Run(context.Background(), events(t, doc))
	require.NoError(t, err)

	es := sum.ByInstrument["ES"]
	assert.Equal(t, 1, es.Rejected)
	assert.Equal(t, 1, es.Accepted)
	assert.Equal(t, 1, es.Rejections["trading idle(licence check)"])
	assert.Equal(t, 4, sum.Total.Events)
}

func TestRunnerHaltAndReset(t *testing.T) {
	t.Parallel()

	doc := `2026-10-15T14:30:00Z,ES,signal,long,6800,20
2026-10-15T14:31:00Z,ES,force,6780,stop
2026-10-15T14:32:00Z,ES,signal,long,6800,20
2026-10-16T14:30:00Z,ES,reset,2026-10-16
2026-10-16T14:31:00Z,ES,signal,long,6800,20
`
	r := &Runner{Engine: newEngine(t, experience.NewMemory()), Log: zerolog.Nop(), CloseAtEnd: true}

	sum, err := r.Run(context.Background(), events(t, doc))
	require.NoError(t, err)

	es := sum.ByInstrument["ES"]
	assert.Equal(t, 2, es.Accepted)
	assert.Equal(t, 1, es.Rejections[signal.ReasonDailyLossLimit])
	// the last position is flattened at the last known price, 6780
	assert.Equal(t, 2, es.Closed)
	assert.InDelta(t, -2000, es.PnL, 1e-9)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Engine: newEngine(t, experience.NewMemory()), Log: zerolog.Nop()}
	_, err := r.Run(ctx, events(t, "2026-10-15T14:30:00Z,ES,price,6800\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerExplorationReproducible(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("time,instrument,event,p1,p2,p3,p4\n")
	t0 := time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		at := t0.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		fmt.Fprintf(&b, "%s,ES,signal,long,6800,20\n", at)
		fmt.Fprintf(&b, "%s,NQ,signal,short,25000,50\n", at)
	}
	evs := events(t, b.String())

	run := func() Summary {
		r := &Runner{Engine: newExploringEngine(t, 99), Log: zerolog.Nop()}
		sum, err := r.Run(context.Background(), evs)
		require.NoError(t, err)
		return sum
	}

	first := run()
	for i := 0; i < 5; i++ {
		again := run()
		for _, instr := range []string{"ES", "NQ"} {
			assert.Equal(t, first.ByInstrument[instr].Explored, again.ByInstrument[instr].Explored, instr)
			assert.Equal(t, first.ByInstrument[instr].Rejected, again.ByInstrument[instr].Rejected, instr)
		}
	}
	for _, instr := range []string{"ES", "NQ"} {
		st := first.ByInstrument[instr]
		assert.Equal(t, 30, st.Signals, instr)
		assert.Positive(t, st.Explored, instr)
		assert.Less(t, st.Explored, 30, instr)
	}
}
