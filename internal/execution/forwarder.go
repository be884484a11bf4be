package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Venue places real orders on an exchange.
type Venue interface {
	Name() string
	PlaceOrder(ctx context.Context, order Order) (Fill, error)
}

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
)

// Forwarder submits orders to a live venue behind a circuit breaker.
// Only transient venue errors are retried; anything ambiguous is
// treated as not filled and flagged for manual reconciliation.
type Forwarder struct {
	venue          Venue
	breaker        *gobreaker.CircuitBreaker
	log            zerolog.Logger
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewForwarder wraps a venue with retry and breaker policy.
func NewForwarder(venue Venue, log zerolog.Logger) *Forwarder {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    venue.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("venue breaker state change")
		},
	})
	return &Forwarder{
		venue:          venue,
		breaker:        breaker,
		log:            log,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		now:            time.Now,
	}
}

// Mode reports the executor's trading mode.
func (f *Forwarder) Mode() Mode { return ModeLive }

// AttemptFill forwards the order to the venue, retrying transient
// failures with bounded backoff. An ambiguous outcome returns a fill
// marked for reconciliation along with ErrAmbiguous so the caller
// books nothing.
func (f *Forwarder) AttemptFill(ctx context.Context, order Order) (Fill, error) {
	var lastErr error
	backoff := f.initialBackoff

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.venue.PlaceOrder(ctx, order)
		})
		if err == nil {
			fill := result.(Fill)
			fill.Mode = ModeLive
			if fill.Ts.IsZero() {
				fill.Ts = f.now()
			}
			return fill, nil
		}

		if errors.Is(err, ErrAmbiguous) {
			f.log.Error().Str("market", order.Market).Err(err).
				Msg("ambiguous venue response, manual reconciliation required")
			return Fill{Order: order, Mode: ModeLive, NeedsReconciliation: true, Ts: f.now()}, ErrAmbiguous
		}
		lastErr = err
		if !IsTransient(err) {
			return Fill{}, fmt.Errorf("place order on %s: %w", f.venue.Name(), err)
		}

		f.log.Warn().Str("market", order.Market).Int("attempt", attempt).Err(err).
			Msg("transient venue error, retrying")
		if attempt == f.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
	return Fill{}, fmt.Errorf("place order on %s after %d attempts: %w", f.venue.Name(), f.maxAttempts, lastErr)
}
