// Package market holds the domain types shared by every component: contracts,
// price bars, orders, and the exchange session clock.
package market

import (
	"fmt"
	"time"
)

// ContractKind discriminates the contract variants. All variants share the
// contracts table; option-only fields are zero for the others.
type ContractKind string

const (
	Stock  ContractKind = "Stock"
	Option ContractKind = "Option"
	Future ContractKind = "Future"
	Forex  ContractKind = "Forex"
	Index  ContractKind = "Index"
)

// Right is an option right: call or put.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// Contract is a tradable instrument. Kind selects the variant; the Expiry,
// Strike, Right and UnderlyingID fields are only meaningful when Kind is
// Option.
type Contract struct {
	ID        int64
	Kind      ContractKind
	Symbol    string
	Exchange  string
	Currency  string
	ConID     int64 // broker-qualified identifier, 0 until qualified
	Tradeable bool

	Expiry       time.Time // expiry date, midnight exchange time
	Strike       float64
	Right        Right
	UnderlyingID int64
}

// IsOption reports whether the contract is the option variant.
func (c Contract) IsOption() bool {
	return c.Kind == Option
}

// Describe returns a short human-readable label for logs and notifications.
func (c Contract) Describe() string {
	if c.IsOption() {
		return fmt.Sprintf("%s %s%.0f %s", c.Symbol, c.Right, c.Strike, c.Expiry.Format("20060102"))
	}
	return fmt.Sprintf("%s (%s)", c.Symbol, c.Kind)
}

// NewOption builds an option contract for the given underlying.
func NewOption(underlying Contract, expiry time.Time, strike float64, right Right) Contract {
	return Contract{
		Kind:         Option,
		Symbol:       underlying.Symbol,
		Exchange:     underlying.Exchange,
		Currency:     underlying.Currency,
		Tradeable:    true,
		Expiry:       expiry,
		Strike:       strike,
		Right:        right,
		UnderlyingID: underlying.ID,
	}
}
