package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	openai "github.com/sashabaranov/go-openai"
)

// ResilientConfig controls timeouts and retries around a Generator.
type ResilientConfig struct {
	// Timeout bounds a single gateway call. Zero disables it.
	Timeout time.Duration
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialDelay is the first backoff delay; it doubles on each retry.
	InitialDelay time.Duration
	// BreakerThreshold is the number of consecutive failures that opens
	// the circuit. Zero disables the breaker.
	BreakerThreshold int
	Logger           *slog.Logger
}

// DefaultResilientConfig returns the defaults used by the CLI.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:          60 * time.Second,
		MaxAttempts:      3,
		InitialDelay:     2 * time.Second,
		BreakerThreshold: 5,
	}
}

// Resilient wraps a Generator with a per-call timeout, bounded retries and a
// circuit breaker.
type Resilient struct {
	next    Generator
	timeout time.Duration
	breaker circuitbreaker.CircuitBreaker[string]
	retrier retry.Retry[string]
	logger  *slog.Logger
}

// NewResilient wraps next according to cfg.
func NewResilient(next Generator, cfg ResilientConfig) *Resilient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resilient{next: next, timeout: cfg.Timeout, logger: logger}

	if cfg.MaxAttempts > 1 {
		delay := cfg.InitialDelay
		if delay <= 0 {
			delay = time.Second
		}
		r.retrier = retry.New[string](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  delay,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   IsRetryable,
		})
	}

	if threshold := cfg.BreakerThreshold; threshold > 0 {
		r.breaker = circuitbreaker.New[string](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= threshold
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("LLM circuit breaker state change",
					"from", from.String(),
					"to", to.String())
			},
		})
	}

	return r
}

// Generate calls the wrapped Generator, retrying transient failures.
func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	attempt := func(ctx context.Context) (string, error) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		out, err := r.next.Generate(ctx, prompt)
		if err != nil {
			r.logger.Debug("LLM attempt failed", "error", err)
		}
		return out, err
	}

	operation := attempt
	if r.retrier != nil {
		operation = func(ctx context.Context) (string, error) {
			return r.retrier.Do(ctx, attempt)
		}
	}
	if r.breaker != nil {
		return r.breaker.Execute(ctx, operation)
	}
	return operation(ctx)
}

// IsRetryable reports whether a gateway error is worth another attempt:
// rate limiting, server-side failures, per-call timeouts and network errors
// such as refused connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
