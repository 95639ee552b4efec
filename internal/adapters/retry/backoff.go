package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// BackoffConfig bounds one Do loop. Base and Cap feed NextDelay; MaxAttempts
// counts every try, not just the retries.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// HTTPConfig is the profile both oracle clients run with. Three tries keeps
// the worst case inside the callers' request budgets.
func HTTPConfig() BackoffConfig {
	return BackoffConfig{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 3}
}

// Retryable reports whether err looks like a transient transport failure.
// Context cancellation is never retried: the caller timed out or gave up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// NXDOMAIN is definitive; any other DNS failure is worth another try.
		return !dnsErr.IsNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// RetryableStatus reports whether an HTTP status is worth another try
// (408, 429, 5xx).
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		(code >= 500 && code < 600)
}

// Do runs fn until it returns nil, fails in a non-retryable way, or the
// attempt budget runs out. fn reports the HTTP status when a response
// arrived; zero means the request never left, and the error alone decides
// retryability.
func Do(ctx context.Context, cfg BackoffConfig, fn func() (int, error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(NextDelay(attempt-1, cfg.Base, cfg.Cap)):
			}
		}

		status, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if status > 0 {
			if !RetryableStatus(status) {
				return err
			}
		} else if !Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
