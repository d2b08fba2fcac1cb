package indicators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/store"
)

// ErrInsufficientHistory means the stored series is too short to produce a
// single indicator value.
var ErrInsufficientHistory = errors.New("indicators: insufficient history")

// Engine recomputes the trend over a series' full history, writes the values
// back onto the bar rows, and publishes the latest snapshot to the cache.
type Engine struct {
	store     *store.Store
	cache     coord.Cache
	window    int
	span      int
	threshold float64
	ttl       time.Duration
	log       zerolog.Logger
}

// NewEngine builds an indicator engine. window is the RSI lookback in bars,
// span the EMA smoothing span, threshold the smoothed-RSI level above which
// the trend flag flips to 1. Published snapshots expire after ttl.
func NewEngine(s *store.Store, c coord.Cache, window, span int, threshold float64, ttl time.Duration, log zerolog.Logger) *Engine {
	return &Engine{store: s, cache: c, window: window, span: span, threshold: threshold, ttl: ttl, log: log}
}

// Recompute rebuilds the RSI-EMA over every stored closed bar of the series,
// persists values that changed, and publishes the latest trend flag and
// smoothed value under the contract's indicator keys.
//
// Recomputing from the full history keeps the EMA deterministic: the same
// stored bars always yield the same values, regardless of how many bars
// arrived since the last run.
func (e *Engine) Recompute(ctx context.Context, c market.Contract, barSize int, kind market.BarKind) (int, float64, error) {
	bars, err := e.store.ListBars(ctx, c.ID, barSize, kind)
	if err != nil {
		return 0, 0, err
	}
	if len(bars) <= e.window {
		return 0, 0, fmt.Errorf("%w: %d bars, window %d", ErrInsufficientHistory, len(bars), e.window)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	smoothed := EMASeries(RSISeries(closes, e.window), e.span)

	last := smoothed[len(smoothed)-1]
	if math.IsNaN(last) {
		return 0, 0, fmt.Errorf("%w: no defined value at series end", ErrInsufficientHistory)
	}

	updates := make(map[int64]store.TrendUpdate)
	for i, b := range bars {
		v := smoothed[i]
		if math.IsNaN(v) {
			continue
		}
		trend := 0
		if v > e.threshold {
			trend = 1
		}
		if b.Trend != nil && *b.Trend == trend && b.RSIEMA != nil && *b.RSIEMA == v {
			continue
		}
		updates[b.ID] = store.TrendUpdate{Trend: trend, RSIEMA: v}
	}
	if err := e.store.UpdateTrend(ctx, updates); err != nil {
		return 0, 0, err
	}

	trend := 0
	if last > e.threshold {
		trend = 1
	}

	if err := coord.PutFloat(ctx, e.cache, coord.IndicatorKey(c.Symbol, kind, "trend"), float64(trend), e.ttl); err != nil {
		return 0, 0, err
	}
	if err := coord.PutFloat(ctx, e.cache, coord.IndicatorKey(c.Symbol, kind, "rsi_ema"), last, e.ttl); err != nil {
		return 0, 0, err
	}

	e.log.Debug().
		Str("contract", c.Describe()).
		Int("bars", len(bars)).
		Int("updated", len(updates)).
		Int("trend", trend).
		Float64("rsi_ema", last).
		Msg("trend recomputed")

	return trend, last, nil
}

// DayExtremes publishes the session's running high and low for the series.
// The cached high only ever rises and the cached low only ever falls within
// a session; the TTL retires stale values between sessions.
func (e *Engine) DayExtremes(ctx context.Context, c market.Contract, barSize int, kind market.BarKind, now time.Time) (float64, float64, error) {
	start, end := market.SessionDay(now)
	high, low, ok, err := e.store.DayHighLow(ctx, c.ID, barSize, kind, start, end)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: no bars for session %s", ErrInsufficientHistory, start.Format("2006-01-02"))
	}

	highKey := coord.IndicatorKey(c.Symbol, kind, "high")
	lowKey := coord.IndicatorKey(c.Symbol, kind, "low")

	if prev, err := coord.GetFloat(ctx, e.cache, highKey); err == nil && prev > high {
		high = prev
	} else if err != nil && !errors.Is(err, coord.ErrKeyNotFound) {
		return 0, 0, err
	}
	if prev, err := coord.GetFloat(ctx, e.cache, lowKey); err == nil && prev < low {
		low = prev
	} else if err != nil && !errors.Is(err, coord.ErrKeyNotFound) {
		return 0, 0, err
	}

	if err := coord.PutFloat(ctx, e.cache, highKey, high, e.ttl); err != nil {
		return 0, 0, err
	}
	if err := coord.PutFloat(ctx, e.cache, lowKey, low, e.ttl); err != nil {
		return 0, 0, err
	}
	return high, low, nil
}
