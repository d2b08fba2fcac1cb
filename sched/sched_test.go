package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInprocDeliversInOrder(t *testing.T) {
	bus := NewInproc()
	var got []string

	require.NoError(t, bus.Subscribe("a", func(context.Context) { got = append(got, "a") }))
	require.NoError(t, bus.Subscribe("b", func(context.Context) { got = append(got, "b") }))

	fan := FanOut(bus, "a", "b", "a")
	require.NoError(t, fan(context.Background()))
	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestInprocUnknownJob(t *testing.T) {
	bus := NewInproc()
	assert.Error(t, bus.Publish(context.Background(), "missing"))
}

func TestInprocDuplicateSubscribe(t *testing.T) {
	bus := NewInproc()
	require.NoError(t, bus.Subscribe("a", func(context.Context) {}))
	assert.Error(t, bus.Subscribe("a", func(context.Context) {}))
}

func TestRunnerSwallowsJobErrors(t *testing.T) {
	bus := NewInproc()
	r := NewRunner(bus, zerolog.Nop())

	runs := 0
	r.Register("flaky", func(context.Context) error {
		runs++
		return errors.New("gateway down")
	})
	require.NoError(t, r.Start())

	// The failing handler never propagates past the bus.
	require.NoError(t, bus.Publish(context.Background(), "flaky"))
	require.NoError(t, bus.Publish(context.Background(), "flaky"))
	assert.Equal(t, 2, runs)
}

func TestBeatPublishesUntilCancelled(t *testing.T) {
	bus := NewInproc()
	var ticks atomic.Int32
	require.NoError(t, bus.Subscribe("check", func(context.Context) { ticks.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Beat(ctx, bus, 5*time.Millisecond, "check", zerolog.Nop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
