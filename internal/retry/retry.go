// Package retry wraps operations prone to transient network failure with
// bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times and how quickly a failed operation is retried.
type Policy struct {
	MaxRetries   int           // retries beyond the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap for any single delay
	Multiplier   float64       // growth factor between delays

	// Classify decides whether an error is worth retrying. Nil means IsTransient.
	Classify func(error) bool
}

// DefaultPolicy returns 3 retries starting at 1s, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Delays returns the sequence of waits the policy would perform if every
// attempt failed transiently.
func (p Policy) Delays() []time.Duration {
	b := p.backOff()
	b.Reset()
	out := make([]time.Duration, 0, p.MaxRetries)
	for range p.MaxRetries {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
}

// Do runs op, retrying transient failures according to p. Non-transient errors
// are returned immediately. When retries are exhausted the last error is
// returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !classify(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("transient failure, retrying", "attempt", attempt, "next_delay", next, "error", err)
		}),
	)
	// A permanent error on the final attempt comes back still wrapped.
	if perm, ok := err.(*backoff.PermanentError); ok {
		err = perm.Err
	}
	return res, err
}

// transientPhrases are lower-cased fragments of error messages that indicate
// a network fault rather than an application-level failure.
var transientPhrases = []string{
	"connection refused",
	"econnrefused",
	"timeout",
	"timed out",
	"etimedout",
	"no such host",
	"enotfound",
	"connection reset",
	"econnreset",
	"eai_again",
	"temporary failure in name resolution",
	"fetch failed",
	"network",
	"broken pipe",
	"unexpected eof",
}

// IsTransient reports whether err looks like a connection refused, timeout,
// DNS failure or connection reset. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
