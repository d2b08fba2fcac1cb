package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/htbot/market"
)

func TestMailerSend(t *testing.T) {
	m := NewMailer("smtp.example.com", 587, "bot@example.com", "secret", "ops@example.com", zerolog.Nop())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "subject line", "hello"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: subject line")
	assert.Contains(t, string(gotMsg), "hello")
}

func TestMailerSendFailure(t *testing.T) {
	m := NewMailer("smtp.example.com", 587, "bot@example.com", "secret", "ops@example.com", zerolog.Nop())
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	assert.Error(t, m.Send(context.Background(), "s", "b"))
}

func TestEntryMessage(t *testing.T) {
	expiry := time.Date(2024, 6, 5, 0, 0, 0, 0, market.ExchangeTZ())
	legs := []Leg{
		{Contract: market.NewOption(market.Contract{Symbol: "SPX"}, expiry, 5295, market.Put), Side: market.Sell, Size: 1, Price: 12.30},
		{Contract: market.NewOption(market.Contract{Symbol: "SPX"}, expiry, 5200, market.Put), Side: market.Buy, Size: 1, Price: 2.15},
	}

	subject, body := EntryMessage("primary", legs)
	assert.Contains(t, subject, "primary entered")
	assert.Contains(t, body, "SELL 1 SPX P5295 20240605 @ 12.30")
	assert.Contains(t, body, "BUY 1 SPX P5200 20240605 @ 2.15")
}

func TestExitMessage(t *testing.T) {
	subject, body := ExitMessage("primary", "ProfitTarget", 412.50, 95*time.Minute)
	assert.Contains(t, subject, "ProfitTarget")
	assert.Contains(t, body, "pnl=412.50")
	assert.Contains(t, body, "1h35m0s")
}
