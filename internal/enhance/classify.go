package enhance

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the retry category of a failed remote call.
type Class int

const (
	// Permanent failures are surfaced immediately.
	Permanent Class = iota
	// Transient failures are network hiccups worth one more try.
	Transient
	// RateLimited failures ask the caller to slow down.
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

var transientMarkers = []string{
	"timed out",
	"timeout",
	"deadline exceeded",
	"peer closed connection",
	"connection reset",
	"incomplete message",
	"unexpected eof",
}

var rateLimitMarkers = []string{
	"status 429",
	"too many requests",
	"throttled",
}

// Classify sorts err into a retry category. Transient network errors take
// precedence over rate limiting; everything unrecognised is permanent.
// A cancelled context is always permanent.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Permanent
	}
	if isTransient(err) {
		return Transient
	}
	if isRateLimited(err) {
		return RateLimited
	}
	return Permanent
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(err.Error(), transientMarkers)
}

// isRateLimited trusts a typed status code over the message text, which may
// carry arbitrary IDs.
func isRateLimited(err error) bool {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		return sc.StatusCode() == http.StatusTooManyRequests
	}
	return containsAny(err.Error(), rateLimitMarkers)
}

func containsAny(msg string, markers []string) bool {
	msg = strings.ToLower(msg)
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
