package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/htbot/market"
)

// RestBridge talks to the gateway through its HTTP sidecar bridge: plain
// request/response JSON over the bridge's /v1 API. It implements Dialer; the
// sessions it opens implement Session.
type RestBridge struct {
	baseURL    string
	httpClient *http.Client
}

// NewRestBridge builds a bridge client for the given base URL.
func NewRestBridge(baseURL string) *RestBridge {
	return &RestBridge{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type restSession struct {
	bridge    *RestBridge
	sessionID string
}

type apiContract struct {
	ConID    int64   `json:"conId,omitempty"`
	SecType  string  `json:"secType"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Expiry   string  `json:"expiry,omitempty"` // YYYYMMDD
	Strike   float64 `json:"strike,omitempty"`
	Right    string  `json:"right,omitempty"`
}

var secTypes = map[market.ContractKind]string{
	market.Stock:  "STK",
	market.Option: "OPT",
	market.Future: "FUT",
	market.Forex:  "CASH",
	market.Index:  "IND",
}

func toAPIContract(c market.Contract) apiContract {
	ac := apiContract{
		ConID:    c.ConID,
		SecType:  secTypes[c.Kind],
		Symbol:   c.Symbol,
		Exchange: c.Exchange,
		Currency: c.Currency,
	}
	if c.IsOption() {
		ac.Expiry = c.Expiry.Format("20060102")
		ac.Strike = c.Strike
		ac.Right = string(c.Right)
	}
	return ac
}

// Dial opens a gateway session through the bridge.
func (b *RestBridge) Dial(ctx context.Context, host string, port, clientID int) (Session, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	err := b.call(ctx, http.MethodPost, "/v1/connect", map[string]any{
		"host":     host,
		"port":     port,
		"clientId": clientID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &restSession{bridge: b, sessionID: resp.SessionID}, nil
}

func (s *restSession) path(suffix string) string {
	return "/v1/sessions/" + url.PathEscape(s.sessionID) + suffix
}

func (s *restSession) Qualify(ctx context.Context, c market.Contract) (market.Contract, error) {
	var resp struct {
		Contracts []apiContract `json:"contracts"`
	}
	err := s.bridge.call(ctx, http.MethodPost, s.path("/qualify"), toAPIContract(c), &resp)
	if err != nil {
		return market.Contract{}, fmt.Errorf("qualify %s: %w", c.Describe(), err)
	}
	if len(resp.Contracts) == 0 || resp.Contracts[0].ConID == 0 {
		return market.Contract{}, fmt.Errorf("qualify %s: %w", c.Describe(), ErrContractResolution)
	}
	c.ConID = resp.Contracts[0].ConID
	return c, nil
}

func (s *restSession) Quote(ctx context.Context, c market.Contract, side QuoteSide) (float64, error) {
	q := url.Values{}
	q.Set("conId", strconv.FormatInt(c.ConID, 10))
	q.Set("side", string(side))

	var resp struct {
		Price *float64 `json:"price"`
	}
	err := s.bridge.call(ctx, http.MethodGet, s.path("/quote?"+q.Encode()), nil, &resp)
	if err != nil {
		return math.NaN(), fmt.Errorf("quote %s: %w", c.Describe(), err)
	}
	if resp.Price == nil {
		return math.NaN(), nil
	}
	return *resp.Price, nil
}

type apiBar struct {
	Time   string  `json:"time"` // RFC3339
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (s *restSession) HistoricalBars(ctx context.Context, c market.Contract, d Duration, barSize int, kind market.BarKind, useRTH bool) ([]market.Bar, error) {
	q := url.Values{}
	q.Set("conId", strconv.FormatInt(c.ConID, 10))
	q.Set("duration", d.String())
	q.Set("barSize", fmt.Sprintf("%d mins", barSize))
	q.Set("whatToShow", string(kind))
	q.Set("useRTH", strconv.FormatBool(useRTH))

	var resp struct {
		Bars []apiBar `json:"bars"`
	}
	err := s.bridge.call(ctx, http.MethodGet, s.path("/bars?"+q.Encode()), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("historical bars %s: %w", c.Describe(), err)
	}

	bars := make([]market.Bar, 0, len(resp.Bars))
	for _, ab := range resp.Bars {
		t, err := time.Parse(time.RFC3339, ab.Time)
		if err != nil {
			return nil, fmt.Errorf("parse bar time %q: %w", ab.Time, err)
		}
		bars = append(bars, market.Bar{
			Time:   t.In(market.ExchangeTZ()),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: ab.Volume,
		})
	}
	return bars, nil
}

func (s *restSession) OptionChains(ctx context.Context, underlying market.Contract) ([]Chain, error) {
	q := url.Values{}
	q.Set("conId", strconv.FormatInt(underlying.ConID, 10))
	q.Set("symbol", underlying.Symbol)

	var resp struct {
		Chains []struct {
			Exchange     string    `json:"exchange"`
			TradingClass string    `json:"tradingClass"`
			Expirations  []string  `json:"expirations"`
			Strikes      []float64 `json:"strikes"`
		} `json:"chains"`
	}
	err := s.bridge.call(ctx, http.MethodGet, s.path("/chains?"+q.Encode()), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("option chains %s: %w", underlying.Symbol, err)
	}

	chains := make([]Chain, 0, len(resp.Chains))
	for _, ch := range resp.Chains {
		chains = append(chains, Chain{
			Exchange:     ch.Exchange,
			TradingClass: ch.TradingClass,
			Expirations:  ch.Expirations,
			Strikes:      ch.Strikes,
		})
	}
	return chains, nil
}

func (s *restSession) PlaceOrder(ctx context.Context, c market.Contract, side market.Side, size, limit float64) (Trade, error) {
	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	err := s.bridge.call(ctx, http.MethodPost, s.path("/orders"), map[string]any{
		"conId":      c.ConID,
		"side":       side,
		"quantity":   size,
		"orderType":  "LMT",
		"limitPrice": limit,
	}, &resp)
	if err != nil {
		return Trade{}, fmt.Errorf("place order %s: %w", c.Describe(), err)
	}
	return Trade{GatewayOrderID: resp.OrderID, Status: resp.Status}, nil
}

func (s *restSession) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.bridge.call(ctx, http.MethodDelete, s.path(""), nil, nil)
}

// call issues one bridge request and decodes the JSON response into out.
func (b *RestBridge) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bridge error (status %d): %s", resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
