package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryReason names why an attempt is being retried, surfaced to the user
// through the retry callback.
type RetryReason string

const (
	RetryReasonRateLimit   RetryReason = "rate_limit"
	RetryReasonServerError RetryReason = "server_error"
	RetryReasonTimeout     RetryReason = "timeout"
)

// RetryCallback observes each retry: reason, 1-based attempt number, the
// attempt budget, and how long the next wait is.
type RetryCallback func(reason RetryReason, attempt, max int, wait time.Duration)

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	MaxRetries      int           // Retries after the first attempt (default 5)
	InitialInterval time.Duration // First backoff wait (default 500ms)
	MaxInterval     time.Duration // Backoff ceiling (default 30s)
	OnRetry         RetryCallback // Optional observer
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 5
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	return p
}

// RetryableError marks a failure retryable. RetryAfter, when positive,
// overrides the next backoff wait with the vendor-directed deadline.
type RetryableError struct {
	Reason     RetryReason
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is maps retry reasons onto the package error kinds so callers can use
// errors.Is(err, ErrRateLimited) after retries are exhausted.
func (e *RetryableError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Reason == RetryReasonRateLimit
	case ErrTransient:
		return e.Reason == RetryReasonServerError || e.Reason == RetryReasonTimeout
	}
	return false
}

// retryAfterBackOff overrides the next wait when the vendor dictated one.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	inner := b.BackOff.NextBackOff()
	if inner == backoff.Stop {
		return backoff.Stop
	}
	if b.next > 0 {
		d := b.next
		b.next = 0
		return d
	}
	return inner
}

// Do runs op with jittered exponential backoff. Only *RetryableError values
// are retried; anything else fails immediately. The context cancels waits.
func Do(ctx context.Context, policy RetryPolicy, op func() error) error {
	policy = policy.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0

	ra := &retryAfterBackOff{BackOff: exp}
	bo := backoff.WithContext(backoff.WithMaxRetries(ra, uint64(policy.MaxRetries)), ctx)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			err := op()
			if err == nil {
				return nil
			}
			var re *RetryableError
			if !errors.As(err, &re) {
				return backoff.Permanent(err)
			}
			ra.next = re.RetryAfter
			return err
		},
		bo,
		func(err error, wait time.Duration) {
			attempt++
			if policy.OnRetry == nil {
				return
			}
			reason := RetryReasonServerError
			var re *RetryableError
			if errors.As(err, &re) {
				reason = re.Reason
			}
			policy.OnRetry(reason, attempt, policy.MaxRetries, wait)
		},
	)
}

// CheckResponse classifies a non-2xx HTTP response. 429 and 5xx come back
// retryable (429 honoring Retry-After); 401/403 map to credential errors;
// anything else is a plain error. The body is drained for the message.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{
			Reason:     RetryReasonRateLimit,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("HTTP 429: %s", msg),
		}
	case resp.StatusCode >= 500:
		return &RetryableError{
			Reason: RetryReasonServerError,
			Err:    fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401: %s", ErrInvalidCredentials, msg)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP 403: %s", ErrInvalidCredentials, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
}

// ClassifyTransport wraps transport-level failures (timeouts, connection
// drops) as retryable. Caller cancellation passes through untouched so
// cancelled runs stop instead of retrying; the request context decides,
// because http.Client timeout errors also match context.DeadlineExceeded
// and those must stay retryable.
func ClassifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RetryableError{Reason: RetryReasonTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &RetryableError{Reason: RetryReasonTimeout, Err: err}
	}
	return err
}

// ParseRetryAfter reads a Retry-After header: either delay seconds or an
// HTTP date. Unparseable values yield zero (backoff-controlled wait).
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := when.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
