// Package orders selects option legs from a stored chain and executes them
// against a gateway session, recording every leg in the store and publishing
// leg references to the coordination cache.
package orders

import (
	"fmt"
	"sort"

	"github.com/rustyeddy/htbot/market"
)

// Filter returns the chain candidates for a strategy direction, nearest to
// the money first. Long structures sell puts below spot, so candidates are
// puts with strikes under spot in descending order; short structures mirror
// with calls above spot in ascending order.
func Filter(chain []market.Contract, spot float64, dir market.Direction) []market.Contract {
	var out []market.Contract
	for _, c := range chain {
		if !c.IsOption() || !c.Tradeable {
			continue
		}
		switch dir {
		case market.Long:
			if c.Right == market.Put && c.Strike < spot {
				out = append(out, c)
			}
		case market.Short:
			if c.Right == market.Call && c.Strike > spot {
				out = append(out, c)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if dir == market.Long {
			return out[i].Strike > out[j].Strike
		}
		return out[i].Strike < out[j].Strike
	})
	return out
}

// Ordinal returns the n-th candidate, 1-based, from a filtered chain.
func Ordinal(candidates []market.Contract, n int) (market.Contract, error) {
	if n < 1 || n > len(candidates) {
		return market.Contract{}, fmt.Errorf("leg ordinal %d out of range (%d candidates)", n, len(candidates))
	}
	return candidates[n-1], nil
}
