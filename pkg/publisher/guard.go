package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/metrics"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("publisher unavailable")

const tripAfterFailures = 5

// Guard bounds every call with a timeout. Flushes go through a breaker that
// opens after consecutive failures; Publish fails fast while it is open.
type Guard struct {
	next    Publisher
	timeout time.Duration
	logger  *zap.Logger
	cb      *gobreaker.CircuitBreaker[struct{}]
}

var _ Publisher = (*Guard)(nil)

func NewGuard(next Publisher, timeout time.Duration, logger *zap.Logger) *Guard {
	g := &Guard{next: next, timeout: timeout, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "publisher",
		MaxRequests: 1,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= tripAfterFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(from.String()).Set(0)
			metrics.BreakerState.WithLabelValues(to.String()).Set(1)
			logger.Warn("Publisher breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	metrics.BreakerState.WithLabelValues(gobreaker.StateClosed.String()).Set(1)
	return g
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Guard) Publish(ctx context.Context, topic string, key []byte, record any) error {
	if g.cb.State() == gobreaker.StateOpen {
		metrics.PublishErrors.WithLabelValues("breaker").Inc()
		return fmt.Errorf("%w: publish to %s", ErrUnavailable, topic)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.next.Publish(ctx, topic, key, record); err != nil {
		metrics.PublishErrors.WithLabelValues("publish").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return nil
}

func (g *Guard) Flush(ctx context.Context) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()

		start := time.Now()
		err := g.next.Flush(ctx)
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
		return struct{}{}, err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PublishErrors.WithLabelValues("breaker").Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		metrics.PublishErrors.WithLabelValues("flush").Inc()
		return err
	}
}

// State exposes the breaker state for logging and tests.
func (g *Guard) State() string { return g.cb.State().String() }

func (g *Guard) Close() error { return g.next.Close() }
