package risk

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	CodeDailyLossLimit = "DAILY_LOSS_LIMIT"
	CodeTradingIdle    = "TRADING_IDLE"

	ReasonDailyLossLimit = "daily loss limit"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the governor's answer for one admission query.
type Decision struct {
	Allowed    bool
	Violations []Violation

	Realized       float64
	EffectiveLimit float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason returns the first violation message, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Msg
}

// DayState is a read-only snapshot of one instrument's trading day.
type DayState struct {
	Instrument     string
	Session        string
	Realized       float64
	BaseLimit      float64
	EffectiveLimit float64
	Status         Status
}

type dayState struct {
	session  string
	realized decimal.Decimal
	status   Status
}

// Governor tracks realized P&L per instrument for the current session and
// halts new entries once the day's losses reach the profit-adjusted limit.
//
// A halt only changes admission answers. It stays latched until ResetDay.
type Governor struct {
	mu     sync.Mutex
	base   decimal.Decimal
	days   map[string]*dayState
	status Status
	log    zerolog.Logger
}

func NewGovernor(baseLossLimit float64, log zerolog.Logger) (*Governor, error) {
	if baseLossLimit <= 0 {
		return nil, fmt.Errorf("%w: base_loss_limit must be positive", ErrInvalidConfig)
	}
	return &Governor{
		base: decimal.NewFromFloat(baseLossLimit),
		days: make(map[string]*dayState),
		log:  log.With().Str("component", "governor").Logger(),
	}, nil
}

func (g *Governor) dayLocked(instrument string) *dayState {
	d, ok := g.days[instrument]
	if !ok {
		d = &dayState{realized: decimal.Zero}
		g.days[instrument] = d
	}
	return d
}

func (g *Governor) effectiveLocked(d *dayState) decimal.Decimal {
	if d.realized.IsPositive() {
		return g.base.Add(d.realized)
	}
	return g.base
}

// latchLocked halts the day once realized <= -effective limit.
func (g *Governor) latchLocked(instrument string, d *dayState) bool {
	if d.status.State == Halted {
		return true
	}
	limit := g.effectiveLocked(d)
	if d.realized.LessThanOrEqual(limit.Neg()) {
		d.status = Status{State: Halted, Reason: ReasonDailyLossLimit}
		g.log.Warn().
			Str("instrument", instrument).
			Str("session", d.session).
			Str("realized", d.realized.StringFixed(2)).
			Str("limit", limit.StringFixed(2)).
			Msg("daily loss limit reached, new entries halted")
		return true
	}
	return false
}

// AdmitEntry reports whether a new entry may be opened on instrument.
// proposedRisk is informational only.
func (g *Governor) AdmitEntry(instrument string, proposedRisk float64) bool {
	d := g.Check(instrument)
	if !d.Allowed {
		g.log.Debug().
			Str("instrument", instrument).
			Float64("proposed_risk", proposedRisk).
			Str("reason", d.Reason()).
			Msg("entry rejected")
	}
	return d.Allowed
}

// Check is AdmitEntry with the full decision.
func (g *Governor) Check(instrument string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.dayLocked(instrument)
	dec := Decision{
		Allowed:        true,
		Realized:       d.realized.InexactFloat64(),
		EffectiveLimit: g.effectiveLocked(d).InexactFloat64(),
	}

	if g.status.State != Active {
		dec.add(CodeTradingIdle, fmt.Sprintf("trading %s", g.status))
	}
	if g.latchLocked(instrument, d) {
		dec.add(CodeDailyLossLimit, ReasonDailyLossLimit)
	}
	return dec
}

// RecordRealizedPnL adds delta (account currency) to the instrument's
// realized P&L for the current session.
func (g *Governor) RecordRealizedPnL(instrument string, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.dayLocked(instrument)
	d.realized = d.realized.Add(decimal.NewFromFloat(delta))
	g.latchLocked(instrument, d)
}

// ResetDay starts a new session for instrument: realized P&L goes to zero
// and any halt is cleared. Calling it twice is the same as calling it once.
func (g *Governor) ResetDay(instrument, session string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.dayLocked(instrument)
	d.session = session
	d.realized = decimal.Zero
	d.status = Status{State: Active}

	g.log.Info().Str("instrument", instrument).Str("session", session).Msg("trading day reset")
}

// EffectiveLimit is BaseLossLimit + max(0, realized).
func (g *Governor) EffectiveLimit(instrument string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveLocked(g.dayLocked(instrument)).InexactFloat64()
}

func (g *Governor) Snapshot(instrument string) DayState {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.dayLocked(instrument)
	return DayState{
		Instrument:     instrument,
		Session:        d.session,
		Realized:       d.realized.InexactFloat64(),
		BaseLimit:      g.base.InexactFloat64(),
		EffectiveLimit: g.effectiveLocked(d).InexactFloat64(),
		Status:         d.status,
	}
}

// Instruments lists every instrument the governor has seen, sorted.
func (g *Governor) Instruments() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.days))
	for k := range g.days {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Suspend puts the governor in Idle: every admission is refused until
// Resume. Open positions and P&L bookkeeping are unaffected.
func (g *Governor) Suspend(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = Status{State: Idle, Reason: reason}
	g.log.Info().Str("reason", reason).Msg("admissions suspended")
}

func (g *Governor) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = Status{State: Active}
	g.log.Info().Msg("admissions resumed")
}

func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}
