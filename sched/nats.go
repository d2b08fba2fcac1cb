package sched

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "jobs."

// NATSBus carries job triggers over core NATS pub/sub so workers on other
// processes pick them up. Delivery is at-least-once from the scheduler's
// point of view; handlers stay idempotent.
type NATSBus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// ConnectBus dials the NATS server at url.
func ConnectBus(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("htbot-sched"))
	if err != nil {
		return nil, fmt.Errorf("connect job bus: %w", err)
	}
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(_ context.Context, job string) error {
	if err := b.conn.Publish(subjectPrefix+job, nil); err != nil {
		return fmt.Errorf("publish job %q: %w", job, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(job string, fn func(ctx context.Context)) error {
	sub, err := b.conn.Subscribe(subjectPrefix+job, func(*nats.Msg) {
		fn(context.Background())
	})
	if err != nil {
		return fmt.Errorf("subscribe job %q: %w", job, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *NATSBus) Close() error {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}
