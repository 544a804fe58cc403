package risk

import (
	"fmt"
	"strings"
)

// TradingState is the admission state of a subsystem or an instrument-day.
type TradingState int

const (
	Active TradingState = iota
	// Idle is a reversible suspension (maintenance window, licence check, ...).
	Idle
	// Halted is latched until the owner explicitly resets it.
	Halted
)

func (s TradingState) String() string {
	switch s {
	case Active:
		return "active"
	case Idle:
		return "idle"
	case Halted:
		return "halted"
	default:
		return fmt.Sprintf("TradingState(%d)", int(s))
	}
}

// Status pairs a TradingState with the reason it was entered.
type Status struct {
	State  TradingState
	Reason string
}

func (s Status) String() string {
	if s.Reason == "" {
		return s.State.String()
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Reason)
}

// Protection is the drawdown-protection latch of a position. It only moves
// from Unarmed to Armed.
type Protection int

const (
	Unarmed Protection = iota
	Armed
)

func (p Protection) String() string {
	if p == Armed {
		return "armed"
	}
	return "unarmed"
}

type PositionStatus int

const (
	Open PositionStatus = iota
	PartiallyClosed
	Closed
)

func (s PositionStatus) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyClosed:
		return "partially_closed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("PositionStatus(%d)", int(s))
	}
}

// Direction is +1 for long and -1 for short.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) Sign() float64 { return float64(d) }

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts long/short, buy/sell and +1/-1.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "1", "+1":
		return Long, nil
	case "short", "sell", "-1":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
