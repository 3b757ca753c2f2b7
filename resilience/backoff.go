package resilience

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// RetryableStatusCode reports whether an HTTP status code warrants a
// retry under the source-adapter backoff policy (§5: "retry on
// 429/503/301 with bounded exponential backoff honoring Retry-After").
func RetryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusMovedPermanently ||
		code == http.StatusBadGateway
}

// BackoffConfig tunes DoWithBackoff.
type BackoffConfig struct {
	MaxRetries     int           // default 6
	BaseDelay      time.Duration // default 2s
	MinRateLimit   time.Duration // default 5s, used for 429 responses
}

// DefaultBackoffConfig matches the retry budget used throughout the
// model-provider transport layer (llm.openAICompatClient.doPost).
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{MaxRetries: 6, BaseDelay: 2 * time.Second, MinRateLimit: 5 * time.Second}
}

// DoWithBackoff retries attempt until it returns a nil error or a
// non-retryable error, honoring an optional Retry-After header recovered
// via retryAfter. attempt should return (statusCode, retryAfterHeader,
// err); a zero statusCode means no HTTP response was obtained (network
// error), which is always retried. On persistent failure the last error
// is returned so the caller can degrade to an empty result (§7
// Transport taxonomy: exhausted retries degrade, they don't propagate
// past the adapter boundary).
func DoWithBackoff(ctx context.Context, cfg BackoffConfig, attempt func() (statusCode int, retryAfter string, err error)) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MinRateLimit <= 0 {
		cfg.MinRateLimit = 5 * time.Second
	}

	var lastErr error
	for i := 0; i <= cfg.MaxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, cfg.BaseDelay*time.Duration(1<<(i-1))); err != nil {
				return err
			}
		}

		status, retryAfter, err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err

		if status == 0 {
			continue // network error, always retryable within budget
		}
		if !RetryableStatusCode(status) {
			return err
		}
		if status == http.StatusTooManyRequests {
			delay := cfg.MinRateLimit * time.Duration(1<<i)
			if retryAfter != "" {
				if secs, perr := strconv.Atoi(retryAfter); perr == nil && secs > 0 {
					if hd := time.Duration(secs) * time.Second; hd > delay {
						delay = hd
					}
				}
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
