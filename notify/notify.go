// Package notify delivers best-effort trade notifications. Delivery failures
// are logged and never propagate: notification is not on the correctness
// path of any trade transition.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/metrics"
)

// Notifier sends one message. Implementations must not return transport
// errors to callers that sit on the trading path; Send returning an error is
// informational only.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Noop discards every message.
type Noop struct{}

func (Noop) Send(context.Context, string, string) error { return nil }

// Mailer sends mail over SMTP with PLAIN auth.
type Mailer struct {
	addr string
	from string
	to   string
	auth smtp.Auth
	log  zerolog.Logger

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer builds an SMTP notifier. username doubles as the from address.
func NewMailer(server string, port int, username, password, to string, log zerolog.Logger) *Mailer {
	return &Mailer{
		addr: fmt.Sprintf("%s:%d", server, port),
		from: username,
		to:   to,
		auth: smtp.PlainAuth("", username, password, server),
		log:  log,
		send: smtp.SendMail,
	}
}

// Send delivers the message. The error return is best-effort: callers on the
// trading path ignore it, callers that care can log it again.
func (m *Mailer) Send(_ context.Context, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + m.to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := m.send(m.addr, m.auth, m.from, []string{m.to}, []byte(msg)); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("subject", subject).Msg("notification failed")
		return fmt.Errorf("send mail: %w", err)
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Leg is one line of an entry notification.
type Leg struct {
	Contract market.Contract
	Side     market.Side
	Size     float64
	Price    float64
}

// EntryMessage formats an entry notification.
func EntryMessage(strategy string, legs []Leg) (subject, body string) {
	subject = fmt.Sprintf("htbot: %s entered", strategy)

	var b strings.Builder
	fmt.Fprintf(&b, "%s entered %d leg(s):\n", strategy, len(legs))
	for _, l := range legs {
		fmt.Fprintf(&b, "  %s %g %s @ %.2f\n", l.Side, l.Size, l.Contract.Describe(), l.Price)
	}
	return subject, b.String()
}

// ExitMessage formats an exit notification with realized P&L and duration.
func ExitMessage(strategy, reason string, pnl float64, held time.Duration) (subject, body string) {
	subject = fmt.Sprintf("htbot: %s exited (%s)", strategy, reason)
	body = fmt.Sprintf("%s exited: reason=%s pnl=%.2f held=%s\n",
		strategy, reason, pnl, held.Round(time.Second))
	return subject, body
}
