// Package notify delivers alert notifications to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/config"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/retry"
)

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// FromConfig builds one provider per configured notification target.
func FromConfig(targets []config.NotificationConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(targets))
	for i, t := range targets {
		switch t.Type {
		case "ntfy":
			out = append(out, NewNtfy(t.URL, t.Topic))
		case "webhook":
			out = append(out, NewWebhook(t.URL, t.Method, t.Headers))
		default:
			return nil, fmt.Errorf("notifications[%d]: unknown type %q", i, t.Type)
		}
	}
	return out, nil
}

// Multi fans a notification out to every provider. One failing provider does
// not stop delivery to the rest.
type Multi []Provider

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// statusError is a non-2xx answer from a notification endpoint.
type statusError struct {
	provider string
	code     int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.provider, e.code)
}

// deliveryPolicy retries briefly; alerts are re-evaluated every 30s anyway.
var deliveryPolicy = retry.Policy{
	MaxRetries:   2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2,
	Classify: func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.code >= 500 || se.code == http.StatusTooManyRequests
		}
		return retry.IsTransient(err)
	},
}

// deliver sends the request built by build, retrying network faults and 5xx.
func deliver(ctx context.Context, client *http.Client, provider string, build func(context.Context) (*http.Request, error)) error {
	_, err := retry.Do(ctx, deliveryPolicy, func(ctx context.Context) (struct{}, error) {
		req, err := build(ctx)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s: build request: %w", provider, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s: send: %w", provider, err)
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, &statusError{provider: provider, code: resp.StatusCode}
		}
		return struct{}{}, nil
	})
	return err
}
