package embed

import (
	"context"
	"time"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// RetryConfig configures retry behavior for inference calls.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts after the initial try
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration:
// three retries with exponential backoff between 2s and 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// doWithRetry executes fn with exponential backoff. The delay grows by the
// multiplier up to MaxDelay. Context cancellation returns immediately.
// After exhausting retries the last error is wrapped as UpstreamUnavailable.
func doWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err

			// Input and contract errors never clear on retry.
			if apperr.HasCode(err, apperr.CodeInvalidInput) ||
				apperr.HasCode(err, apperr.CodeUpstreamEmpty) {
				return err
			}

			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return apperr.Wrap(apperr.CodeUpstreamUnavailable, lastErr)
}
