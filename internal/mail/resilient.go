package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	coreerrors "github.com/form4watch/signal-engine/internal/core/errors"
	"github.com/form4watch/signal-engine/internal/platform/observability"
)

const (
	breakerMaxRequests = 3
	breakerInterval    = time.Minute
	breakerTimeout     = 2 * time.Minute
	breakerMinRequests = 5
	breakerFailureRate = 0.6
)

// ResilientSender wraps a Sender with a rate limiter and a circuit breaker.
// A tripped breaker surfaces as ErrMailUnavailable, which the dispatcher
// treats as a transient failure and retries on a later cycle.
type ResilientSender struct {
	inner   Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewResilientSender(inner Sender, ratePerSecond float64) *ResilientSender {
	settings := gobreaker.Settings{
		Name:        "mail",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRate
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				observability.MailBreakerOpens.Inc()
			}
		},
	}

	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &ResilientSender{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *ResilientSender) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}

	start := time.Now()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Send(ctx, msg)
	})

	observability.MailSendDuration.Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", coreerrors.ErrMailUnavailable)
	}

	return err
}
