package eldes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrDeviceNotFound is returned when a device id or location matches no
	// entry of the upstream device list.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrPartitionNotFound is returned when a partition name or id matches no
	// partition of the resolved device.
	ErrPartitionNotFound = errors.New("partition not found")
	// ErrAmbiguousPartition is returned when no partition was named and the
	// device has more than one.
	ErrAmbiguousPartition = errors.New("partition must be specified for devices with several partitions")
)

// AuthError is returned when the upstream login fails.
type AuthError struct {
	StatusCode int
	Body       string
	Hint       string
}

func (e *AuthError) Error() string {
	msg := "authentication failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("authentication failed: %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += " " + e.Body
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// UpstreamError is a non-2xx answer from a data endpoint, or a transport
// failure that outlived the retry policy (StatusCode 0, Err set).
type UpstreamError struct {
	StatusCode int
	Body       string
	Endpoint   string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream error %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitError is an UpstreamError whose answer says the account ran out
// of attempts. Callers serve cached data instead of failing.
type RateLimitError struct {
	*UpstreamError
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + e.UpstreamError.Error()
}

func (e *RateLimitError) Unwrap() error { return e.UpstreamError }

// ControlError is returned when an arm or disarm request is not accepted.
type ControlError struct {
	Action     Action
	Location   string
	Partition  string
	StatusCode int
	Body       string
	Err        error
}

func (e *ControlError) Error() string {
	target := e.Location
	if e.Partition != "" {
		target += "/" + e.Partition
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Action, target, e.Err)
	}
	return fmt.Sprintf("%s %s: upstream answered %d: %s", e.Action, target, e.StatusCode, e.Body)
}

func (e *ControlError) Unwrap() error { return e.Err }

var rateLimitPhrases = []string{
	"attempts.limit",
	"rate limit",
	"too many requests",
	"too many attempts",
}

func isRateLimitBody(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	for _, p := range rateLimitPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// newUpstreamError classifies a non-2xx answer.
func newUpstreamError(endpoint string, status int, body []byte) error {
	e := &UpstreamError{StatusCode: status, Body: truncate(string(body), 512), Endpoint: endpoint}
	if isRateLimitBody(status, string(body)) {
		return &RateLimitError{UpstreamError: e}
	}
	return e
}

// IsRateLimit reports whether err carries a rate-limit signal, either as a
// typed RateLimitError or as attempts/rate-limit phrasing in its message.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return isRateLimitBody(0, err.Error())
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
