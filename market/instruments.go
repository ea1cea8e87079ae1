// market/instruments.go
package market

import "fmt"

// Symbol is the broker's contract specification for a tradable instrument.
type Symbol struct {
	Name         string
	Point        float64 // smallest price increment
	VolumeStep   float64
	MinVolume    float64
	MaxVolume    float64
	ContractSize float64

	// PointValue is the account-currency value of one point for one lot.
	// Zero means Point * ContractSize (quote currency == account currency).
	PointValue float64

	// StopsLevel is the broker's minimum stop distance in points.
	StopsLevel float64
}

// PointValuePerLot returns the money moved by one point on one lot.
func (s Symbol) PointValuePerLot() float64 {
	if s.PointValue > 0 {
		return s.PointValue
	}
	return s.Point * s.ContractSize
}

// Points converts a price distance into points.
func (s Symbol) Points(distance float64) float64 {
	return distance / s.Point
}

// Validate checks the fields sizing depends on.
func (s Symbol) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("symbol name is empty")
	case s.Point <= 0:
		return fmt.Errorf("%s: point must be positive", s.Name)
	case s.VolumeStep <= 0:
		return fmt.Errorf("%s: volume_step must be positive", s.Name)
	case s.MinVolume <= 0:
		return fmt.Errorf("%s: min_volume must be positive", s.Name)
	case s.MaxVolume < s.MinVolume:
		return fmt.Errorf("%s: max_volume below min_volume", s.Name)
	case s.PointValuePerLot() <= 0:
		return fmt.Errorf("%s: point value per lot must be positive", s.Name)
	}
	return nil
}

// Symbols holds typical MT5 retail contract specs. The paper gateway and the
// generated default config use them; live gateways report their own.
var Symbols = map[string]Symbol{
	"EURUSD": {
		Name: "EURUSD", Point: 0.00001, VolumeStep: 0.01, MinVolume: 0.01, MaxVolume: 100,
		ContractSize: 100000, StopsLevel: 0,
	},
	"GBPUSD": {
		Name: "GBPUSD", Point: 0.00001, VolumeStep: 0.01, MinVolume: 0.01, MaxVolume: 100,
		ContractSize: 100000, StopsLevel: 0,
	},
	"XAUUSD": {
		Name: "XAUUSD", Point: 0.01, VolumeStep: 0.01, MinVolume: 0.01, MaxVolume: 100,
		ContractSize: 100, StopsLevel: 0,
	},
	"BTCUSD": {
		Name: "BTCUSD", Point: 0.01, VolumeStep: 0.01, MinVolume: 0.01, MaxVolume: 10,
		ContractSize: 1, StopsLevel: 0,
	},
}
