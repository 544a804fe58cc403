package risk

import "math"

// Inputs for risk-based sizing: how many units put RiskAmount at stake if
// price travels one R unit against the position.
type Inputs struct {
	RiskAmount float64 // account currency
	RUnit      float64 // price distance
	PointValue float64 // account currency per point per unit
	Precision  int     // decimal places allowed in units; 0 for whole contracts
}

type Result struct {
	Units      float64
	RiskAmount float64 // risk actually taken after rounding down
}

func Calculate(in Inputs) Result {
	pv := in.PointValue
	if pv == 0 {
		pv = 1
	}
	if in.RiskAmount <= 0 || in.RUnit <= 0 || pv < 0 {
		return Result{}
	}

	step := math.Pow(10, float64(-in.Precision))
	units := in.RiskAmount / (in.RUnit * pv)
	units = math.Floor(units/step+1e-9) * step

	return Result{
		Units:      units,
		RiskAmount: PlannedRisk(units, in.RUnit, pv),
	}
}
