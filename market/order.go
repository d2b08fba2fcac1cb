package market

import "time"

// Side is the execution side of one order leg.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a leg opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the strategy direction the leg belongs to: +1 long, -1 short.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Order statuses mirror what the gateway reports; rows are created with
// whatever status the submission returned and updated on exit.
const (
	StatusSubmitted = "Submitted"
	StatusFilled    = "Filled"
	StatusCancelled = "Cancelled"
)

// Order is one execution leg. ExitPrice stays nil while the leg is open and
// is set exactly once when the leg is closed.
type Order struct {
	ID         int64
	ContractID int64
	Direction  Direction
	Side       Side
	Size       float64
	Price      float64
	ExitPrice  *float64
	BidAtEntry float64
	AskAtEntry float64
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Multiplier is the contract multiplier used for option leg P&L.
const Multiplier = 100.0

// LegPnL returns the running P&L of the leg against the current price.
// Bought legs gain when price rises, sold legs gain when it falls.
func (o Order) LegPnL(current float64) float64 {
	if o.Side == Buy {
		return (current - o.Price) * Multiplier * o.Size
	}
	return (o.Price - current) * Multiplier * o.Size
}
