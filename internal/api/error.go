package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrDecode is returned when a response body cannot be decoded into the
// expected shape. Decode errors are never retried.
var ErrDecode = errors.New("could not decode API response")

// Kind classifies a remote API failure. The classification decides whether an
// operation is retried.
type Kind uint8

const (
	KindRequest Kind = iota // non-2xx response that matches no specific kind
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServer
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindServer:
		return "server error"
	case KindNetwork:
		return "network error"
	}

	return "request failed"
}

// Error is a remote API failure with enough context to decide on retries and
// to give users an actionable message.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string // provider-supplied error text, if any
	Body       string // response body for diagnostics on generic failures

	// RetryAfter is the provider's hint from a 429 response. Zero when the
	// provider did not send one.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.StatusCode)
	}

	return e.Kind.String()
}

// Retryable reports whether retrying the operation can possibly succeed.
// Unauthorized, forbidden and not-found responses cannot be fixed by a retry
// and would only burn quota.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}

	return false
}

// errorFromResponse maps a non-2xx response to an *Error. The body is read for
// diagnostics, with the provider's own error text extracted where possible.
func errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	e := &Error{
		StatusCode: resp.StatusCode,
		Message:    providerMessage(body),
		Body:       string(body),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = KindForbidden
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindRequest
	}

	return e
}

// retryAfter parses the delay-seconds form of the Retry-After header. The
// HTTP-date form is not used by either provider.
func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
