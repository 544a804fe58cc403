package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// RMultiple expresses the move from entry to price in units of rUnit,
// signed so that favorable moves are positive for either direction.
func RMultiple(dir Direction, entry, price, rUnit float64) float64 {
	if rUnit <= 0 {
		return math.NaN()
	}
	return dir.Sign() * (price - entry) / rUnit
}

// PlannedRisk computes the absolute currency risk of units if price travels
// one full R unit against the position.
func PlannedRisk(units, rUnit, pointValue float64) float64 {
	return abs(units) * rUnit * pointValue
}

// PnL is the currency result of closing units at price.
func PnL(dir Direction, units, entry, price, pointValue float64) float64 {
	return dir.Sign() * units * (price - entry) * pointValue
}
