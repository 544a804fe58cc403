package signal

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/experience"
	"github.com/rustyeddy/intraday/risk"
)

const (
	ReasonDailyLossLimit = risk.ReasonDailyLossLimit
	ReasonScorerError    = "scorer error"
	ReasonConfident      = "confidence at or above threshold"
	ReasonExploration    = "exploration"
	ReasonLowConfidence  = "confidence below threshold"
)

// Governor is the admission side of risk.Governor.
type Governor interface {
	Check(instrument string) risk.Decision
}

// RandSource yields uniform draws in [0,1). *rand.Rand satisfies it but is
// not safe for concurrent use; see LockedRand.
type RandSource interface {
	Float64() float64
}

// LockedRand is a seedable RandSource safe for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand seeds from the clock when seed is 0.
func NewLockedRand(seed int64) *LockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// InstrumentRand hands each instrument its own LockedRand, seeded from the
// base seed and the instrument name, so one instrument's draws do not depend
// on how its signals interleave with another's.
type InstrumentRand struct {
	mu   sync.Mutex
	seed int64
	srcs map[string]*LockedRand
}

// NewInstrumentRand picks a clock base seed when seed is 0.
func NewInstrumentRand(seed int64) *InstrumentRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &InstrumentRand{seed: seed, srcs: make(map[string]*LockedRand)}
}

// For returns the source for instrument, creating it on first use.
func (ir *InstrumentRand) For(instrument string) RandSource {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if src, ok := ir.srcs[instrument]; ok {
		return src
	}
	h := fnv.New64a()
	h.Write([]byte(instrument))
	seed := ir.seed ^ int64(h.Sum64())
	if seed == 0 {
		seed = 1 // 0 would mean clock-seeded
	}
	src := NewLockedRand(seed)
	ir.srcs[instrument] = src
	return src
}

// Float64 draws from the source of the empty instrument name.
func (ir *InstrumentRand) Float64() float64 { return ir.For("").Float64() }

type instrumentSource interface {
	For(instrument string) RandSource
}

// Decision is the filter's answer for one signal.
type Decision struct {
	Accepted   bool
	Reason     string
	Confidence float64
	Explored   bool // accepted only because of the exploration draw
	Err        error
}

// Filter admits signals whose confidence reaches Threshold, plus a random
// ExplorationRate share of everything else, while the governor allows
// entries. It keeps no state between calls.
type Filter struct {
	gov         Governor
	scorer      Scorer
	threshold   float64
	exploration float64
	rnd         RandSource
}

func NewFilter(gov Governor, scorer Scorer, threshold, exploration float64, rnd RandSource) (*Filter, error) {
	if gov == nil || scorer == nil {
		return nil, fmt.Errorf("%w: filter needs a governor and a scorer", risk.ErrInvalidConfig)
	}
	if !inUnit(threshold) {
		return nil, fmt.Errorf("%w: confidence_threshold %v outside [0,1]", risk.ErrInvalidConfig, threshold)
	}
	if !inUnit(exploration) {
		return nil, fmt.Errorf("%w: exploration_rate %v outside [0,1]", risk.ErrInvalidConfig, exploration)
	}
	if rnd == nil {
		rnd = NewInstrumentRand(0)
	}
	return &Filter{gov: gov, scorer: scorer, threshold: threshold, exploration: exploration, rnd: rnd}, nil
}

func inUnit(x float64) bool { return x >= 0 && x <= 1 }

func (f *Filter) Threshold() float64       { return f.threshold }
func (f *Filter) ExplorationRate() float64 { return f.exploration }

// ShouldTrade decides whether sig may open a position.
func (f *Filter) ShouldTrade(ctx context.Context, sig Signal, exp experience.Reader) Decision {
	gd := f.gov.Check(sig.Instrument)
	if !gd.Allowed {
		for _, v := range gd.Violations {
			if v.Code == risk.CodeDailyLossLimit {
				return Decision{Reason: ReasonDailyLossLimit}
			}
		}
		return Decision{Reason: gd.Reason()}
	}

	conf, err := f.scorer.Score(ctx, sig, exp)
	if err != nil || math.IsNaN(conf) || conf < 0 || conf > 1 {
		if err == nil {
			err = fmt.Errorf("confidence %v outside [0,1]", conf)
		}
		return Decision{Reason: ReasonScorerError, Err: err}
	}

	// one draw per scored signal, confident or not
	src := f.rnd
	if is, ok := f.rnd.(instrumentSource); ok {
		src = is.For(sig.Instrument)
	}
	draw := src.Float64()

	switch {
	case conf >= f.threshold:
		return Decision{Accepted: true, Reason: ReasonConfident, Confidence: conf}
	case draw < f.exploration:
		return Decision{Accepted: true, Reason: ReasonExploration, Confidence: conf, Explored: true}
	default:
		return Decision{Reason: ReasonLowConfidence, Confidence: conf}
	}
}
