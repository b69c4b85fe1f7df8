package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "simfeed"

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Records handed to the publisher, by topic.",
	}, []string{"topic"})

	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_errors_total",
		Help:      "Publish or flush failures, by stage.",
	}, []string{"stage"}) // stage: publish/flush/breaker

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_duration_seconds",
		Help:      "Time spent handing buffered records to the transport.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms ~ 4s
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "publisher_breaker_state",
		Help:      "Publisher circuit breaker state (0/1).",
	}, []string{"state"}) // closed/open/half_open

	RecordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_consumed_total",
		Help:      "Records read by the auditor, by channel.",
	}, []string{"channel"})

	SequenceAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_anomalies_total",
		Help:      "Sequencing violations seen by the auditor.",
	}, []string{"kind"}) // gap/duplicate/orphan_quote/stale_quote/crossed/spread/reset

	ConnectorTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_trades_total",
		Help:      "Normalized venue trades published by the connector.",
	}, []string{"venue"})
)

// Serve exposes /metrics on addr until ctx is done. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
