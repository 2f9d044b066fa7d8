package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/eldesmon/internal/config"
	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// fastDelivery shrinks retry delays for the duration of a test.
func fastDelivery(t *testing.T) {
	t.Helper()
	prev := deliveryPolicy
	deliveryPolicy.InitialDelay = time.Millisecond
	deliveryPolicy.MaxDelay = time.Millisecond
	t.Cleanup(func() { deliveryPolicy = prev })
}

func TestFromConfig(t *testing.T) {
	ps, err := FromConfig([]config.NotificationConfig{
		{Type: "ntfy", URL: "http://ntfy.local", Topic: "alarm"},
		{Type: "webhook", URL: "http://hooks.local/x", Method: http.MethodPut},
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "ntfy", ps[0].Name())
	assert.Equal(t, "webhook", ps[1].Name())

	_, err = FromConfig([]config.NotificationConfig{{Type: "sms"}})
	assert.ErrorContains(t, err, `unknown type "sms"`)
}

type stubProvider struct {
	name string
	err  error
	got  []model.Notification
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Send(_ context.Context, n model.Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func TestMulti_DeliversToEveryProvider(t *testing.T) {
	a := &stubProvider{name: "a", err: errors.New("down")}
	b := &stubProvider{name: "b"}
	m := Multi{a, b}

	err := m.Send(context.Background(), model.Notification{AlertType: "sync_stale"})
	assert.ErrorContains(t, err, "a: down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1, "a failing provider does not block the next one")

	assert.NoError(t, Multi{b}.Send(context.Background(), model.Notification{}))
	assert.NoError(t, Multi(nil).Send(context.Background(), model.Notification{}))
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	fastDelivery(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewNtfy(srv.URL, "alarm").Send(context.Background(), model.Notification{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	fastDelivery(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", nil).Send(context.Background(), model.Notification{})
	assert.ErrorContains(t, err, "webhook: unexpected status 403")
	assert.Equal(t, int32(1), hits.Load())
}
