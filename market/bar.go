package market

import "time"

// BarKind selects which price series a bar belongs to.
type BarKind string

const (
	Trades BarKind = "TRADES"
	Bid    BarKind = "BID"
	Ask    BarKind = "ASK"
)

// Bar is one OHLCV observation as returned by the gateway, before it is
// attached to a contract/series. The open (in-progress) bar is carried around
// in this shape because it is never persisted.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceBar is a committed bar row for a (contract, bar size, data kind)
// series. Trend and RSIEMA stay nil until the indicator engine has enough
// history to define them.
type PriceBar struct {
	ID         int64
	ContractID int64
	BarSize    int // minutes
	Kind       BarKind
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64

	Trend  *int
	RSIEMA *float64
}

// Bar returns the gateway-shaped view of the row.
func (p PriceBar) Bar() Bar {
	return Bar{
		Time:   p.Time,
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
}
