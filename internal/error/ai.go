package derror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Configuration errors: surfaced immediately, never retried.
var (
	ErrProviderNotFound = errors.New("provider is not configured or not registered")
	ErrNoEmbeddingModel = errors.New("no embedding model configured: flag at least one model as an embedding model in AI settings")
	ErrEmptyResponse    = errors.New("provider returned no content")
)

// Abort class: distinguished from failure, never retried. Cancellation wins
// over pending retries, including during backoff sleep.
var (
	ErrCanceled = errors.New("request cancelled")
	ErrTimedOut = errors.New("request timed out waiting for provider output")
)

var ErrQueueClosed = errors.New("request queue is shut down")

// RequestError carries the HTTP status of a failed provider call so the
// queue can decide retryability.
type RequestError struct {
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider http %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider http %d", e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError wraps a provider failure with its HTTP status.
func NewRequestError(status int, err error) *RequestError {
	return &RequestError{Status: status, Err: err}
}

// IsAbort reports whether err belongs to the cancellation/timeout class.
func IsAbort(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, ErrTimedOut) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// networkSignatures are transport-level failure fragments treated as
// transient. Matched case-insensitively against the error text as a last
// resort when no typed error is available.
var networkSignatures = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"unexpected eof",
	"econnreset",
	"etimedout",
	"network is unreachable",
}

// IsRetryable classifies an error per the retry policy: HTTP 5xx, HTTP 429
// and transport-level network failures loop; configuration errors and the
// abort class settle immediately.
func IsRetryable(err error) bool {
	if err == nil || IsAbort(err) {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status == 429 || re.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range networkSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
