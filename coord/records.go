package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rustyeddy/htbot/market"
)

// Key namespace shared by every worker. The names are a wire contract with
// older deployments; values are versioned JSON records.
const (
	KeyTrade           = "trade"
	KeyTradeStart      = "trade_start_time"
	KeyLegBuy          = "s1_buy"
	KeyLegSell         = "s1_sell"
	KeyCall            = "s2_call"
	KeyPut             = "s2_put"
	KeyStopLossTrigger = "stop_loss_trigger"
)

// IndicatorKey builds the snapshot keys, e.g. "SPX_TRADES_trend".
func IndicatorKey(symbol string, kind market.BarKind, field string) string {
	return fmt.Sprintf("%s_%s_%s", symbol, kind, field)
}

// BarKey names the open ("O") / last closed ("C") bar snapshots, e.g.
// "SPX_TRADES_5O".
func BarKey(symbol string, kind market.BarKind, barSize int, open bool) string {
	suffix := "C"
	if open {
		suffix = "O"
	}
	return fmt.Sprintf("%s_%s_%d%s", symbol, kind, barSize, suffix)
}

// TradeState is the primary strategy's coordination record: direction of the
// open structure and the running P&L high-water mark.
type TradeState struct {
	V         int     `json:"v"`
	Direction int     `json:"direction"`
	MaxGain   float64 `json:"max_gain"`
}

// LegRef points at one executed leg: the order row, its contract, and the
// entry price the executor filled at.
type LegRef struct {
	V          int     `json:"v"`
	OrderID    int64   `json:"order_id"`
	ContractID int64   `json:"contract_id"`
	Price      float64 `json:"price"`
}

// BarSnapshot mirrors one bar into the cache for the presentation layer and
// for cold-start checks.
type BarSnapshot struct {
	V      int       `json:"v"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SnapshotOf converts a gateway bar.
func SnapshotOf(b market.Bar) BarSnapshot {
	return BarSnapshot{V: 1, Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
}

// PutJSON marshals record into key.
func PutJSON(ctx context.Context, c Cache, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return c.Put(ctx, key, data, ttl)
}

// GetJSON loads key into record, returning the entry revision for later
// conditional updates.
func GetJSON(ctx context.Context, c Cache, key string, record any) (uint64, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(e.Value, record); err != nil {
		return 0, fmt.Errorf("decode %q: %w", key, err)
	}
	return e.Revision, nil
}

// CreateJSON is the conditional-create counterpart of PutJSON.
func CreateJSON(ctx context.Context, c Cache, key string, record any, ttl time.Duration) (uint64, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode %q: %w", key, err)
	}
	return c.Create(ctx, key, data, ttl)
}

// UpdateJSON is the revision-checked counterpart of PutJSON.
func UpdateJSON(ctx context.Context, c Cache, key string, record any, rev uint64, ttl time.Duration) (uint64, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode %q: %w", key, err)
	}
	return c.Update(ctx, key, data, rev, ttl)
}

// PutFloat stores a bare numeric value (indicator snapshots, day extremes).
func PutFloat(ctx context.Context, c Cache, key string, v float64, ttl time.Duration) error {
	return c.Put(ctx, key, []byte(strconv.FormatFloat(v, 'f', -1, 64)), ttl)
}

// GetFloat loads a bare numeric value.
func GetFloat(ctx context.Context, c Cache, key string) (float64, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(string(e.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", key, err)
	}
	return v, nil
}

// PutTime / GetTime carry RFC3339 timestamps (trade_start_time).
func PutTime(ctx context.Context, c Cache, key string, t time.Time) error {
	return c.Put(ctx, key, []byte(t.Format(time.RFC3339)), 0)
}

func GetTime(ctx context.Context, c Cache, key string) (time.Time, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, string(e.Value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", key, err)
	}
	return t, nil
}
