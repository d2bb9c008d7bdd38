package speechgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors.
var (
	ErrRateLimited    = errors.New("speechgate: rate limited by provider")
	ErrTimeout        = errors.New("speechgate: admission timeout")
	ErrQuotaHardLimit = errors.New("speechgate: quota hard limit exceeded")
	ErrNoSubscription = errors.New("speechgate: no active subscription")
	ErrResolution     = errors.New("speechgate: tenant resolution failed")
)

// RateLimitError indicates the upstream provider rejected the call with a
// rate-limit signal (HTTP 429 or equivalent message).
type RateLimitError struct {
	QueueWait time.Duration
	Message   string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("speechgate: provider rate limited (queue_wait=%s): %s", e.QueueWait, e.Message)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TimeoutError indicates queue wait plus execution exceeded the admission
// timeout. The slot is always released before this error is returned.
type TimeoutError struct {
	QueueWait time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("speechgate: admission timeout after %s (queue_wait=%s)", e.Elapsed, e.QueueWait)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// QuotaHardLimitError indicates a deduction would push usage past the
// effective limit (total allowance plus grace buffer). No mutation occurred.
type QuotaHardLimitError struct {
	Tenant         BillingTarget
	Used           int64
	Total          int64
	EffectiveLimit int64
	OverBy         int64
}

func (e *QuotaHardLimitError) Error() string {
	return fmt.Sprintf("speechgate: quota hard limit exceeded for %s: used=%d total=%d effective_limit=%d over_by=%d",
		e.Tenant, e.Used, e.Total, e.EffectiveLimit, e.OverBy)
}

func (e *QuotaHardLimitError) Is(target error) bool { return target == ErrQuotaHardLimit }

// NoSubscriptionError indicates the tenant has no active billing period.
type NoSubscriptionError struct {
	Tenant BillingTarget
}

func (e *NoSubscriptionError) Error() string {
	return fmt.Sprintf("speechgate: no active subscription for %s", e.Tenant)
}

func (e *NoSubscriptionError) Is(target error) bool { return target == ErrNoSubscription }

// ResolutionError indicates a classroom could not be mapped to a billing
// tenant. The request is rejected before any quota or admission work.
type ResolutionError struct {
	ClassroomID string
	Reason      string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("speechgate: cannot resolve tenant for classroom %q: %s", e.ClassroomID, e.Reason)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// UnsupportedUnitError indicates an unrecognized billing unit.
type UnsupportedUnitError struct {
	Unit Unit
}

func (e *UnsupportedUnitError) Error() string {
	return fmt.Sprintf("speechgate: unsupported billing unit %q", e.Unit)
}

// ProviderError wraps any upstream failure that is not a rate-limit or
// timeout signal.
type ProviderError struct {
	Err        error
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("speechgate: provider error (status=%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("speechgate: provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// BillingError reports a deduction that failed after a successful (and
// billable) upstream call. The assessment result is still returned; this is
// surfaced as a side channel so the discrepancy is never silent.
type BillingError struct {
	Tenant BillingTarget
	Err    error
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("speechgate: billing failed for %s after successful assessment: %v", e.Tenant, e.Err)
}

func (e *BillingError) Unwrap() error { return e.Err }

// IsRetryable returns true for transient failures the caller may retry with
// backoff. The gateway itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// IsTerminal returns true for failures that require tenant or caller action
// rather than a retry.
func IsTerminal(err error) bool {
	if errors.Is(err, ErrQuotaHardLimit) || errors.Is(err, ErrNoSubscription) || errors.Is(err, ErrResolution) {
		return true
	}
	var unitErr *UnsupportedUnitError
	return errors.As(err, &unitErr)
}

// ErrorCode returns the stable machine-readable code for an error, for use
// in structured responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMIT"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrQuotaHardLimit):
		return "QUOTA_HARD_LIMIT_EXCEEDED"
	case errors.Is(err, ErrNoSubscription):
		return "NO_SUBSCRIPTION"
	case errors.Is(err, ErrResolution):
		return "RESOLUTION_FAILED"
	default:
		var unitErr *UnsupportedUnitError
		if errors.As(err, &unitErr) {
			return "UNSUPPORTED_UNIT"
		}
		return "PROVIDER_ERROR"
	}
}

// HTTPStatus maps a gateway error to the status code an HTTP-facing caller
// should return.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrQuotaHardLimit), errors.Is(err, ErrNoSubscription):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrResolution):
		return http.StatusBadRequest
	default:
		var unitErr *UnsupportedUnitError
		if errors.As(err, &unitErr) {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	}
}
