package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/intraday/experience"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/pkg/id"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signal"
)

const (
	ReasonInvalidSignal = "invalid signal"
	ReasonSizeTooSmall  = "size below instrument minimum"
)

// PriceUpdate is one inbound price for an instrument.
type PriceUpdate struct {
	Instrument string
	Price      float64
	Time       time.Time
}

// Executor closes quantity at the venue. The engine never places orders
// itself; it hands every exit event to the executor.
type Executor interface {
	Execute(ctx context.Context, ev risk.ExitEvent) error
}

type ExecutorFunc func(ctx context.Context, ev risk.ExitEvent) error

func (f ExecutorFunc) Execute(ctx context.Context, ev risk.ExitEvent) error { return f(ctx, ev) }

// LogExecutor only logs exit events. It is the default when no venue is
// attached (replays, paper runs).
type LogExecutor struct {
	Log zerolog.Logger
}

func (l LogExecutor) Execute(_ context.Context, ev risk.ExitEvent) error {
	l.Log.Info().
		Str("position", ev.PositionID).
		Str("instrument", ev.Instrument).
		Str("kind", string(ev.Kind)).
		Int("rung", ev.Rung).
		Float64("units", ev.Units).
		Float64("price", ev.Price).
		Float64("r", ev.RContribution).
		Float64("pnl", ev.PnL).
		Bool("final", ev.Final).
		Msg("exit")
	return nil
}

type Options struct {
	Policy risk.Policy
	// RiskAmount sizes positions for signals that carry no units.
	RiskAmount float64

	Governor *risk.Governor
	Filter   *signal.Filter
	Store    experience.Store
	Executor Executor
	Metrics  *Metrics
	Logger   zerolog.Logger
}

type tracked struct {
	pos   *risk.Position
	entry experience.Entry
}

// book holds one instrument's open positions. Its mutex serializes every
// admission, price update and reset for that instrument.
type book struct {
	mu        sync.Mutex
	positions []*tracked
}

// Engine wires the signal filter, the daily governor, position state
// machines and the experience store together. Instruments are independent
// and may be driven from different goroutines; calls for one instrument are
// applied one at a time.
type Engine struct {
	policy     risk.Policy
	riskAmount float64

	gov     *risk.Governor
	filter  *signal.Filter
	store   experience.Store
	exec    Executor
	metrics *Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	books   map[string]*book
	stopped *risk.Status
}

func New(opts Options) (*Engine, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Governor == nil || opts.Filter == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: engine needs a governor, a filter and a store", risk.ErrInvalidConfig)
	}
	if opts.RiskAmount < 0 {
		return nil, fmt.Errorf("%w: risk_amount must not be negative", risk.ErrInvalidConfig)
	}

	e := &Engine{
		policy:     opts.Policy,
		riskAmount: opts.RiskAmount,
		gov:        opts.Governor,
		filter:     opts.Filter,
		store:      opts.Store,
		exec:       opts.Executor,
		metrics:    opts.Metrics,
		log:        opts.Logger.With().Str("component", "engine").Logger(),
		books:      make(map[string]*book),
	}
	if e.exec == nil {
		e.exec = LogExecutor{Log: e.log}
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e, nil
}

func (e *Engine) bookFor(instrument string) *book {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[instrument]
	if !ok {
		b = &book{}
		e.books[instrument] = b
	}
	return b
}

// Status reports Halted after Stop, otherwise the governor's admission state.
func (e *Engine) Status() risk.Status {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()

	if stopped != nil {
		return *stopped
	}
	return e.gov.Status()
}

// Suspend refuses new entries until Resume. Open positions keep being
// managed.
func (e *Engine) Suspend(reason string) { e.gov.Suspend(reason) }

func (e *Engine) Resume() { e.gov.Resume() }

// Stop refuses every further signal for the life of the engine. Open
// positions keep being managed so they can be flattened or ridden out.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = &risk.Status{State: risk.Halted, Reason: reason}
	e.log.Warn().Str("reason", reason).Msg("engine stopped")
}

// OnSignal runs a candidate through the filter and opens a position when it
// is accepted. The returned position is a snapshot.
func (e *Engine) OnSignal(ctx context.Context, sig signal.Signal) (signal.Decision, *risk.Position, error) {
	if err := sig.Validate(); err != nil {
		e.metrics.errors.WithLabelValues("invalid_signal").Inc()
		return signal.Decision{Reason: ReasonInvalidSignal}, nil, err
	}
	if st := e.Status(); st.State == risk.Halted {
		e.metrics.signals.WithLabelValues(sig.Instrument, "rejected").Inc()
		return signal.Decision{Reason: "engine " + st.String()}, nil, nil
	}

	b := e.bookFor(sig.Instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	d := e.filter.ShouldTrade(ctx, sig, e.store)
	e.observeDecision(sig, d)
	if !d.Accepted {
		return d, nil, nil
	}

	meta, _ := market.Lookup(sig.Instrument)
	units := sig.Units
	if units == 0 {
		units = risk.Calculate(risk.Inputs{
			RiskAmount: e.riskAmount,
			RUnit:      sig.RUnit,
			PointValue: meta.PointValue,
			Precision:  meta.UnitPrecision,
		}).Units
	}
	if units < meta.MinimumUnits {
		d.Accepted = false
		d.Reason = ReasonSizeTooSmall
		return d, nil, nil
	}

	pos, err := risk.NewPosition(risk.PositionSpec{
		ID:         id.NewAt(sig.Time),
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		EntryPrice: sig.Entry,
		RUnit:      sig.RUnit,
		Units:      units,
		PointValue: meta.PointValue,
		OpenTime:   sig.Time,
	}, e.policy)
	if err != nil {
		e.metrics.errors.WithLabelValues("invalid_position").Inc()
		return signal.Decision{Reason: ReasonInvalidSignal}, nil, err
	}

	b.positions = append(b.positions, &tracked{
		pos: pos,
		entry: experience.Entry{
			Confidence: d.Confidence,
			Explored:   d.Explored,
			Features:   sig.Features,
		},
	})
	e.metrics.openPositions.WithLabelValues(sig.Instrument).Set(float64(len(b.positions)))

	e.log.Info().
		Str("position", pos.ID).
		Str("instrument", pos.Instrument).
		Str("direction", pos.Direction.String()).
		Float64("entry", pos.EntryPrice).
		Float64("r_unit", pos.RUnit).
		Float64("units", pos.OriginalUnits).
		Float64("planned_risk", risk.PlannedRisk(units, pos.RUnit, pos.PointValue)).
		Float64("confidence", d.Confidence).
		Bool("explored", d.Explored).
		Msg("position opened")

	snap := pos.Snapshot()
	return d, &snap, nil
}

func (e *Engine) observeDecision(sig signal.Signal, d signal.Decision) {
	outcome := "rejected"
	switch {
	case d.Explored:
		outcome = "explored"
	case d.Accepted:
		outcome = "accepted"
	}
	e.metrics.signals.WithLabelValues(sig.Instrument, outcome).Inc()

	switch {
	case d.Err != nil:
		e.metrics.errors.WithLabelValues("scorer").Inc()
		e.log.Warn().Err(d.Err).Str("instrument", sig.Instrument).Msg("scorer failed")
		return
	case !scored(d):
		e.log.Debug().Str("instrument", sig.Instrument).Str("reason", d.Reason).Msg("signal refused")
		return
	}
	e.metrics.confidence.WithLabelValues(sig.Instrument).Observe(d.Confidence)
	e.log.Debug().
		Str("instrument", sig.Instrument).
		Bool("accepted", d.Accepted).
		Str("reason", d.Reason).
		Float64("confidence", d.Confidence).
		Msg("signal evaluated")
}

// scored reports whether the filter got as far as the confidence rule.
func scored(d signal.Decision) bool {
	switch d.Reason {
	case signal.ReasonConfident, signal.ReasonExploration, signal.ReasonLowConfidence:
		return true
	}
	return false
}

// OnPrice applies one price update to every open position on the
// instrument, settles any exits, and archives positions that closed.
// A failing position does not stop the others; its error is joined into
// the result.
func (e *Engine) OnPrice(ctx context.Context, u PriceUpdate) ([]risk.ExitEvent, error) {
	b := e.bookFor(u.Instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		out  []risk.ExitEvent
		errs []error
	)
	kept := b.positions[:0]
	for _, t := range b.positions {
		evs, err := t.pos.OnPriceUpdate(u.Price, u.Time)
		if err != nil {
			if errors.Is(err, risk.ErrStalePosition) {
				e.metrics.errors.WithLabelValues("stale_position").Inc()
				e.log.Warn().Err(err).Msg("dropping stale position")
				continue
			}
			e.metrics.errors.WithLabelValues("invalid_update").Inc()
			e.log.Warn().Err(err).Str("instrument", u.Instrument).Float64("price", u.Price).Msg("price update rejected")
			errs = append(errs, err)
			kept = append(kept, t)
			continue
		}

		for _, ev := range evs {
			e.settle(ctx, ev)
		}
		out = append(out, evs...)

		if t.pos.Status == risk.Closed {
			if err := e.archive(ctx, t); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(b.positions); i++ {
		b.positions[i] = nil
	}
	b.positions = kept
	e.metrics.openPositions.WithLabelValues(u.Instrument).Set(float64(len(b.positions)))

	return out, errors.Join(errs...)
}

// ForceClose flattens every open position on the instrument at price,
// outside the exit ladder.
func (e *Engine) ForceClose(ctx context.Context, instrument string, price float64, at time.Time, reason string) ([]risk.ExitEvent, error) {
	b := e.bookFor(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		out  []risk.ExitEvent
		errs []error
	)
	kept := b.positions[:0]
	for _, t := range b.positions {
		ev, err := t.pos.ForceClose(price, at)
		if err != nil {
			if !errors.Is(err, risk.ErrStalePosition) {
				errs = append(errs, err)
				kept = append(kept, t)
			}
			continue
		}
		e.log.Info().Str("position", t.pos.ID).Str("reason", reason).Msg("forced exit")
		e.settle(ctx, ev)
		out = append(out, ev)
		if err := e.archive(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(kept); i < len(b.positions); i++ {
		b.positions[i] = nil
	}
	b.positions = kept
	e.metrics.openPositions.WithLabelValues(instrument).Set(float64(len(b.positions)))

	return out, errors.Join(errs...)
}

// ResetDay starts a new session for instrument. It waits for any in-flight
// update on that instrument.
func (e *Engine) ResetDay(ctx context.Context, instrument, session string) {
	b := e.bookFor(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	e.gov.ResetDay(instrument, session)
	e.metrics.halted.WithLabelValues(instrument).Set(0)
	e.metrics.dayRealized.WithLabelValues(instrument).Set(0)
}

// OpenPositions returns snapshots of the instrument's open positions in
// the order they were opened.
func (e *Engine) OpenPositions(instrument string) []risk.Position {
	b := e.bookFor(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]risk.Position, 0, len(b.positions))
	for _, t := range b.positions {
		out = append(out, t.pos.Snapshot())
	}
	return out
}

// Instruments lists every instrument the engine has seen, sorted.
func (e *Engine) Instruments() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.books))
	for k := range e.books {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DayState exposes the governor's view of instrument.
func (e *Engine) DayState(instrument string) risk.DayState {
	return e.gov.Snapshot(instrument)
}

func (e *Engine) settle(ctx context.Context, ev risk.ExitEvent) {
	if err := e.exec.Execute(ctx, ev); err != nil {
		e.metrics.errors.WithLabelValues("execution").Inc()
		e.log.Error().Err(err).Str("position", ev.PositionID).Msg("executor failed")
	}
	e.metrics.exits.WithLabelValues(ev.Instrument, string(ev.Kind)).Inc()

	e.gov.RecordRealizedPnL(ev.Instrument, ev.PnL)
	day := e.gov.Snapshot(ev.Instrument)
	e.metrics.dayRealized.WithLabelValues(ev.Instrument).Set(day.Realized)
	if day.Status.State == risk.Halted {
		e.metrics.halted.WithLabelValues(ev.Instrument).Set(1)
	}
}

func (e *Engine) archive(ctx context.Context, t *tracked) error {
	p := t.pos
	e.metrics.realizedR.WithLabelValues(p.Instrument).Observe(p.RealizedR)
	e.log.Info().
		Str("position", p.ID).
		Str("instrument", p.Instrument).
		Str("exit_reason", string(p.ExitReason)).
		Float64("realized_r", p.RealizedR).
		Float64("peak_r", p.PeakR).
		Float64("pnl", p.RealizedPnL).
		Msg("position closed")

	rec, err := experience.FromPosition(id.NewAt(p.CloseTime), p, t.entry)
	if err != nil {
		return err
	}
	added, err := e.store.Append(ctx, rec)
	switch {
	case err != nil:
		e.metrics.appends.WithLabelValues("error").Inc()
		e.log.Error().Err(err).Str("position", p.ID).Msg("experience append failed")
		return fmt.Errorf("append experience for %s: %w", p.ID, err)
	case !added:
		e.metrics.appends.WithLabelValues("duplicate").Inc()
		e.log.Debug().Str("position", p.ID).Str("key", rec.Key).Msg("duplicate experience dropped")
	default:
		e.metrics.appends.WithLabelValues("added").Inc()
	}
	return nil
}
