package market

import "fmt"

// InstrumentMeta carries what the risk engine needs to turn price moves
// into account currency.
type InstrumentMeta struct {
	Name          string
	QuoteCurrency string
	PointValue    float64 // account currency per 1.0 price move per unit
	TickSize      float64
	UnitPrecision int // decimal places allowed when sizing
	MinimumUnits  float64
}

var Instruments = map[string]InstrumentMeta{
	"ES": {
		Name:          "ES",
		QuoteCurrency: "USD",
		PointValue:    50,
		TickSize:      0.25,
		MinimumUnits:  1,
	},
	"MES": {
		Name:          "MES",
		QuoteCurrency: "USD",
		PointValue:    5,
		TickSize:      0.25,
		MinimumUnits:  1,
	},
	"NQ": {
		Name:          "NQ",
		QuoteCurrency: "USD",
		PointValue:    20,
		TickSize:      0.25,
		MinimumUnits:  1,
	},
	"MNQ": {
		Name:          "MNQ",
		QuoteCurrency: "USD",
		PointValue:    2,
		TickSize:      0.25,
		MinimumUnits:  1,
	},
	"CL": {
		Name:          "CL",
		QuoteCurrency: "USD",
		PointValue:    1000,
		TickSize:      0.01,
		MinimumUnits:  1,
	},
	"EUR_USD": {
		Name:          "EUR_USD",
		QuoteCurrency: "USD",
		PointValue:    1,
		TickSize:      0.00001,
		MinimumUnits:  1,
	},
}

// Lookup returns the metadata for name. Unknown instruments get a point
// value of 1 and whole-unit sizing, with ok == false.
func Lookup(name string) (InstrumentMeta, bool) {
	if m, ok := Instruments[name]; ok {
		return m, true
	}
	return InstrumentMeta{Name: name, PointValue: 1, MinimumUnits: 1}, false
}

// Register adds or replaces an instrument. It is meant for configuration
// loading, before the engine starts.
func Register(m InstrumentMeta) error {
	if m.Name == "" {
		return fmt.Errorf("instrument name is required")
	}
	if m.PointValue <= 0 {
		return fmt.Errorf("instrument %s: point_value must be positive", m.Name)
	}
	if m.MinimumUnits <= 0 {
		m.MinimumUnits = 1
	}
	Instruments[m.Name] = m
	return nil
}
