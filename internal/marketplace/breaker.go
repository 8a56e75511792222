package marketplace

import (
	"errors"

	"github.com/sony/gobreaker"
)

// CircuitBreaker guards remote attempts
type CircuitBreaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (noopBreaker) Execute(fn func() error) error {
	return fn()
}

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g *gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// NewCircuitBreaker returns a gobreaker-backed breaker, or a pass-through one when disabled.
// Only transient faults count as failures; caller errors never trip the breaker.
func NewCircuitBreaker(cfg Config) CircuitBreaker {
	if !cfg.BreakerEnabled {
		return noopBreaker{}
	}

	settings := gobreaker.Settings{
		Name:        "marketplace",
		MaxRequests: 1,
		Interval:    cfg.BreakerSamplingWindow,
		Timeout:     cfg.BreakerRecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.BreakerMinRequests) {
				return false
			}
			return counts.TotalFailures >= uint32(cfg.BreakerFailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			var remote *RemoteError
			if errors.As(err, &remote) {
				return !remote.Transient()
			}
			return true
		},
	}

	return &gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}
