// Package strategies holds the entry/exit state machines that turn cached
// signals into order actions. Each strategy instance owns one coordination
// key; transitions commit through conditional cache writes so concurrent job
// runs can never both win the same transition.
package strategies

import (
	"math"

	"github.com/rustyeddy/htbot/market"
)

// ExitReason labels why a position was closed.
type ExitReason string

const (
	ReasonProfitTarget ExitReason = "ProfitTarget"
	ReasonStopLoss     ExitReason = "StopLoss"
	ReasonTimeExit     ExitReason = "TimeExit"
	ReasonMomentumLost ExitReason = "MomentumLost"
)

// MomentumLost reads the shape of the most recent closed bar: momentum is
// gone when the bar's body runs against the held direction, or when the
// opposing wick is more than twice the body. A doji with any opposing wick
// counts as lost.
func MomentumLost(bar market.Bar, dir market.Direction) bool {
	body := bar.Close - bar.Open

	var wick float64
	switch dir {
	case market.Long:
		if body < 0 {
			return true
		}
		wick = bar.High - bar.Close
	case market.Short:
		if body > 0 {
			return true
		}
		wick = bar.Close - bar.Low
	}
	return wick > 2*math.Abs(body)
}
