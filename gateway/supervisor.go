package gateway

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// clientIDMax is the gateway's inclusive upper bound for client identities.
const clientIDMax = 32767

// Supervisor acquires and releases one session per job invocation. It holds
// no session state between calls.
type Supervisor struct {
	dialer      Dialer
	host        string
	port        int
	maxAttempts int
	retryDelay  time.Duration
	log         zerolog.Logger
}

// NewSupervisor builds a supervisor with the given retry policy. maxAttempts
// of 0 falls back to 100 attempts.
func NewSupervisor(d Dialer, host string, port, maxAttempts int, retryDelay time.Duration, log zerolog.Logger) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = 100
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Supervisor{
		dialer:      d,
		host:        host,
		port:        port,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		log:         log,
	}
}

// WithSession dials the gateway with a fresh random client identity per
// attempt, runs fn with the session, and disconnects on every exit path.
// All attempts failing yields ErrConnectionExhausted.
func (s *Supervisor) WithSession(ctx context.Context, fn func(Session) error) error {
	var sess Session

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		clientID := rand.Intn(clientIDMax) + 1

		conn, err := s.dialer.Dial(ctx, s.host, s.port, clientID)
		if err == nil {
			s.log.Info().Int("client_id", clientID).Msg("connected to gateway")
			sess = conn
			break
		}

		s.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("client_id", clientID).
			Msg("gateway connection attempt failed")

		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}

	if sess == nil {
		return ErrConnectionExhausted
	}

	defer func() {
		if err := sess.Disconnect(); err != nil {
			s.log.Warn().Err(err).Msg("gateway disconnect failed")
		}
	}()

	return fn(sess)
}
