// Package metrics exposes the engine's Prometheus counters and the scrape
// endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobRuns counts job executions by job name.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htbot_job_runs_total",
		Help: "Job executions by job name.",
	}, []string{"job"})

	// JobErrors counts jobs that ended with an error, by job name.
	JobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htbot_job_errors_total",
		Help: "Job executions that returned an error, by job name.",
	}, []string{"job"})

	// BarsInserted counts price bars committed to the store.
	BarsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "htbot_bars_inserted_total",
		Help: "Price bars committed to the store.",
	})

	// OrdersPlaced counts gateway order submissions by side.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htbot_orders_placed_total",
		Help: "Order submissions by side.",
	}, []string{"side"})

	// TradesExited counts closed positions by exit reason.
	TradesExited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htbot_trades_exited_total",
		Help: "Closed positions by exit reason.",
	}, []string{"reason"})

	// Notifications counts notification attempts by outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htbot_notifications_total",
		Help: "Notification attempts by outcome.",
	}, []string{"outcome"})
)

// Serve runs the scrape endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
