package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/secret"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

// fakeUpstream is an in-memory account on ELDES Cloud.
type fakeUpstream struct {
	mu         sync.Mutex
	devices    []model.Device
	sensors    map[string][]model.TemperatureSensor
	statuses   map[string]*model.DeviceStatus // replaces the built status when set
	statusErr  map[string]error
	authErr    error
	listErr    error
	controlErr error
	refetchErr error
	calls      []string
	clock      time.Time

	// listGate, when set, runs before ListDevices takes the lock.
	listGate func()
}

func newFakeUpstream(devices ...model.Device) *fakeUpstream {
	return &fakeUpstream{
		devices:   devices,
		sensors:   map[string][]model.TemperatureSensor{},
		statuses:  map[string]*model.DeviceStatus{},
		statusErr: map[string]error{},
		clock:     time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeUpstream) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("auth")
	return f.authErr
}

func (f *fakeUpstream) ListDevices(context.Context) ([]model.Device, error) {
	if f.listGate != nil {
		f.listGate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Device(nil), f.devices...), nil
}

func (f *fakeUpstream) GetDeviceStatus(_ context.Context, imei string) (*model.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status:" + imei)
	if err := f.statusErr[imei]; err != nil {
		return nil, err
	}
	if f.refetchErr != nil && len(f.calls) > 1 && f.calls[len(f.calls)-2] == "control" {
		return nil, f.refetchErr
	}
	f.clock = f.clock.Add(time.Second)
	if st, ok := f.statuses[imei]; ok {
		cp := *st
		cp.FetchedAt = f.clock
		return &cp, nil
	}
	for _, d := range f.devices {
		if d.IMEI == imei {
			return eldes.BuildStatus(d, nil, f.sensors[imei],
				eldes.RawPayloads{DeviceList: []byte(`{"deviceListEntries":[]}`)}, f.clock)
		}
	}
	return nil, eldes.ErrDeviceNotFound
}

func (f *fakeUpstream) Control(_ context.Context, action eldes.Action, location, partition string, partitionID *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("control")
	if f.controlErr != nil {
		return f.controlErr
	}
	for i := range f.devices {
		if f.devices[i].IMEI != location {
			continue
		}
		p, err := eldes.ResolvePartition(f.devices[i], partition, partitionID)
		if err != nil {
			return err
		}
		for j := range f.devices[i].Partitions {
			if f.devices[i].Partitions[j].ID == p.ID {
				f.devices[i].Partitions[j].Armed = action == eldes.ActionArm
			}
		}
		return nil
	}
	return eldes.ErrDeviceNotFound
}

// accounts routes each login to its own fake and counts client creations.
type accounts struct {
	mu      sync.Mutex
	byLogin map[string]*fakeUpstream
	created atomic.Int32
	creds   []eldes.Credentials
}

func (a *accounts) factory(creds eldes.Credentials) Upstream {
	a.created.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = append(a.creds, creds)
	up, ok := a.byLogin[creds.Login]
	if !ok {
		up = newFakeUpstream()
		up.authErr = &eldes.AuthError{StatusCode: 401}
	}
	return up
}

// flakyStore fails AppendStatus for chosen device rows.
type flakyStore struct {
	*store.Store
	failDevice atomic.Int64
}

func (s *flakyStore) AppendStatus(ctx context.Context, snaps []model.PartitionSnapshot, readings []model.TemperatureReading) error {
	if len(snaps) > 0 && snaps[0].DeviceID == s.failDevice.Load() {
		return errors.New("disk I/O error")
	}
	return s.Store.AppendStatus(ctx, snaps, readings)
}

type harness struct {
	t        *testing.T
	store    *flakyStore
	box      *secret.Box
	accounts *accounts
	cache    *cache.Cache
	metrics  *metrics.Metrics
	syncer   *Syncer
}

const demoLogin, demoSecret = "demo@eldes.demo", "demo"

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	box, err := secret.New("collector-test-passphrase")
	require.NoError(t, err)

	h := &harness{
		t:        t,
		store:    &flakyStore{Store: st},
		box:      box,
		accounts: &accounts{byLogin: map[string]*fakeUpstream{}},
		cache:    cache.New(),
		metrics:  metrics.New(),
	}
	h.syncer = NewSyncer(Deps{
		Store:     h.store,
		Secrets:   box,
		NewClient: h.accounts.factory,
		Cache:     h.cache,
		Metrics:   h.metrics,
		Demo:      DemoAccount{Login: demoLogin, Secret: demoSecret},
	})
	return h
}

// addAccount stores a credential and wires an upstream for its login.
func (h *harness) addAccount(login string, up *fakeUpstream) int64 {
	h.t.Helper()
	sealed, err := h.box.Encrypt("pw-" + login)
	require.NoError(h.t, err)
	if login == demoLogin {
		sealed, err = h.box.Encrypt(demoSecret)
		require.NoError(h.t, err)
	}
	id, err := h.store.CreateCredential(context.Background(), model.Credential{Login: login, SecretEncrypted: sealed})
	require.NoError(h.t, err)
	if up != nil {
		h.accounts.mu.Lock()
		h.accounts.byLogin[login] = up
		h.accounts.mu.Unlock()
	}
	return id
}

func (h *harness) count(table string) int {
	h.t.Helper()
	n := 0
	for _, d := range h.allDevices() {
		switch table {
		case "snapshots":
			s, err := h.store.RecentSnapshots(context.Background(), d.ID, 1_000_000)
			require.NoError(h.t, err)
			n += len(s)
		case "readings":
			r, err := h.store.TemperatureHistory(context.Background(), d.ID, 0)
			require.NoError(h.t, err)
			n += len(r)
		}
	}
	return n
}

func (h *harness) allDevices() []model.DeviceRecord {
	h.t.Helper()
	ids, err := h.store.ListCredentialIDs(context.Background())
	require.NoError(h.t, err)
	var out []model.DeviceRecord
	for _, id := range ids {
		d, err := h.store.ListDevices(context.Background(), id)
		require.NoError(h.t, err)
		out = append(out, d...)
	}
	return out
}

func home() model.Device {
	return model.Device{
		IMEI:  "111111111111111",
		Name:  "Home",
		Model: "ESIM364",
		Partitions: []model.Partition{
			{ID: 1, Name: "House", Ready: true},
			{ID: 2, Name: "Garage", Armed: true},
		},
	}
}

func cabin() model.Device {
	return model.Device{
		IMEI:       "222222222222222",
		Name:       "Cabin",
		Partitions: []model.Partition{{ID: 1, Name: "Partition 1"}},
	}
}
