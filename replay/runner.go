package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/intraday/engine"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signal"
)

// Engine is the part of *engine.Engine a replay drives.
type Engine interface {
	OnSignal(ctx context.Context, sig signal.Signal) (signal.Decision, *risk.Position, error)
	OnPrice(ctx context.Context, u engine.PriceUpdate) ([]risk.ExitEvent, error)
	ResetDay(ctx context.Context, instrument, session string)
	ForceClose(ctx context.Context, instrument string, price float64, at time.Time, reason string) ([]risk.ExitEvent, error)
	Suspend(reason string)
	Resume()
}

// Stats counts what a replay did.
type Stats struct {
	Events   int
	Signals  int
	Accepted int
	Explored int
	Rejected int
	Exits    int
	Closed   int
	PnL      float64
	// DataErrors are rows the engine refused (bad prices, bad signals).
	DataErrors int
	Rejections map[string]int
}

func (s *Stats) merge(o Stats) {
	s.Events += o.Events
	s.Signals += o.Signals
	s.Accepted += o.Accepted
	s.Explored += o.Explored
	s.Rejected += o.Rejected
	s.Exits += o.Exits
	s.Closed += o.Closed
	s.PnL += o.PnL
	s.DataErrors += o.DataErrors
	for k, v := range o.Rejections {
		if s.Rejections == nil {
			s.Rejections = make(map[string]int)
		}
		s.Rejections[k] += v
	}
}

// Summary is a replay's per-instrument and total stats.
type Summary struct {
	Total        Stats
	ByInstrument map[string]Stats
}

// Instruments returns the instruments in the summary, sorted.
func (s Summary) Instruments() []string {
	out := make([]string, 0, len(s.ByInstrument))
	for k := range s.ByInstrument {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Runner replays events into an engine. Events for one instrument are
// applied in file order; different instruments run concurrently. A
// suspend or resume row is a barrier: everything before it finishes first.
type Runner struct {
	Engine Engine
	Log    zerolog.Logger
	// CloseAtEnd force-closes positions still open when the feed ends, at
	// the instrument's last price.
	CloseAtEnd bool
}

func (r *Runner) Run(ctx context.Context, events []Event) (Summary, error) {
	sum := Summary{ByInstrument: make(map[string]Stats)}
	var mu sync.Mutex
	last := make(map[string]Event)

	flush := func(batch []Event) error {
		if len(batch) == 0 {
			return nil
		}
		streams := group(batch)

		g, gctx := errgroup.WithContext(ctx)
		for instr, evs := range streams {
			instr, evs := instr, evs
			g.Go(func() error {
				st, err := r.stream(gctx, evs)

				mu.Lock()
				defer mu.Unlock()
				cur := sum.ByInstrument[instr]
				cur.merge(st)
				sum.ByInstrument[instr] = cur
				if p, ok := lastPrice(evs); ok {
					last[instr] = p
				}
				return err
			})
		}
		return g.Wait()
	}

	var batch []Event
	for _, ev := range events {
		if !ev.Global() {
			batch = append(batch, ev)
			continue
		}
		if err := flush(batch); err != nil {
			return r.total(sum), err
		}
		batch = batch[:0]

		switch ev.Kind {
		case Suspend:
			r.Engine.Suspend(ev.Reason)
		case Resume:
			r.Engine.Resume()
		}
		sum.Total.Events++
	}
	if err := flush(batch); err != nil {
		return r.total(sum), err
	}

	if r.CloseAtEnd {
		for instr, ev := range last {
			evs, err := r.Engine.ForceClose(ctx, instr, ev.Price, ev.Time, "end of replay")
			st := sum.ByInstrument[instr]
			r.countExits(&st, evs)
			if err != nil {
				st.DataErrors++
				r.Log.Warn().Err(err).Str("instrument", instr).Msg("close at end")
			}
			sum.ByInstrument[instr] = st
		}
	}
	return r.total(sum), nil
}

func (r *Runner) total(sum Summary) Summary {
	globals := sum.Total.Events
	sum.Total = Stats{Events: globals}
	for _, st := range sum.ByInstrument {
		sum.Total.merge(st)
	}
	return sum
}

func group(batch []Event) map[string][]Event {
	out := make(map[string][]Event)
	for _, ev := range batch {
		out[ev.Instrument] = append(out[ev.Instrument], ev)
	}
	return out
}

// lastPrice returns the stream's last traded price stamped with the
// stream's last event time.
func lastPrice(evs []Event) (Event, bool) {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == Price || evs[i].Kind == Force {
			ev := evs[i]
			ev.Time = evs[len(evs)-1].Time
			return ev, true
		}
	}
	return Event{}, false
}

// stream applies one instrument's events in order. Data errors are counted
// and logged; only context cancellation stops the stream.
func (r *Runner) stream(ctx context.Context, evs []Event) (Stats, error) {
	var st Stats
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Events++

		var err error
		switch ev.Kind {
		case Price:
			var exits []risk.ExitEvent
			exits, err = r.Engine.OnPrice(ctx, engine.PriceUpdate{Instrument: ev.Instrument, Price: ev.Price, Time: ev.Time})
			r.countExits(&st, exits)
		case Signal:
			st.Signals++
			var d signal.Decision
			d, _, err = r.Engine.OnSignal(ctx, ev.Signal)
			switch {
			case d.Explored:
				st.Explored++
				st.Accepted++
			case d.Accepted:
				st.Accepted++
			default:
				st.Rejected++
				if st.Rejections == nil {
					st.Rejections = make(map[string]int)
				}
				st.Rejections[d.Reason]++
			}
		case Reset:
			r.Engine.ResetDay(ctx, ev.Instrument, ev.Session)
		case Force:
			var exits []risk.ExitEvent
			exits, err = r.Engine.ForceClose(ctx, ev.Instrument, ev.Price, ev.Time, ev.Reason)
			r.countExits(&st, exits)
		default:
			err = fmt.Errorf("unexpected %s event", ev.Kind)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return st, err
			}
			st.DataErrors++
			r.Log.Warn().Err(err).Int("line", ev.Line).Str("instrument", ev.Instrument).Msg("replay row refused")
		}
	}
	return st, nil
}

func (r *Runner) countExits(st *Stats, exits []risk.ExitEvent) {
	for _, x := range exits {
		st.Exits++
		st.PnL += x.PnL
		if x.Final {
			st.Closed++
		}
	}
}
