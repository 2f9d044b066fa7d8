package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

func rateLimitErr() error {
	return &eldes.RateLimitError{UpstreamError: &eldes.UpstreamError{StatusCode: 429, Endpoint: "/device/list", Body: "attempts.limit"}}
}

// ---------------------------------------------------------------------------
// SyncCredential
// ---------------------------------------------------------------------------

func TestSyncCredential_WritesHistory(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home(), cabin())
	up.sensors[home().IMEI] = []model.TemperatureSensor{
		{SensorID: 1, SensorName: "Hall", Temperature: 21.5},
		{SensorID: 2, SensorName: "Attic", Temperature: 12},
	}
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)

	assert.Equal(t, model.OutcomeOK, pass.Outcome)
	assert.Empty(t, pass.Error)
	assert.NotEmpty(t, pass.RunID)
	assert.Equal(t, 2, pass.Devices)
	assert.Equal(t, 3, pass.Snapshots)
	assert.Equal(t, 2, pass.Readings)
	assert.Zero(t, pass.Failures)
	assert.Equal(t, []string{"auth", "list", "status:" + home().IMEI, "status:" + cabin().IMEI}, up.Calls(),
		"devices are fetched in list order")

	devs := h.allDevices()
	require.Len(t, devs, 2)
	assert.Equal(t, home().IMEI, devs[0].ExternalID)
	assert.Equal(t, "ESIM364", devs[0].Model)

	snaps, err := h.store.RecentSnapshots(context.Background(), devs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, snaps[0].FetchedAt, snaps[1].FetchedAt, "rows of one fetch share a timestamp")
	require.NotNil(t, snaps[0].Temperature)
	assert.Equal(t, 21.5, *snaps[0].Temperature)

	readings, err := h.store.TemperatureHistory(context.Background(), devs[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, snaps[0].FetchedAt, readings[0].RecordedAt)

	snap := h.cache.Snapshot()
	assert.Equal(t, model.OutcomeOK, snap.Passes[id].Outcome)
	assert.Equal(t, "user@example.com", snap.Logins[id])
	assert.Equal(t, StageIdle, snap.Stages[id])
	assert.Len(t, snap.Devices, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncPasses.WithLabelValues(model.OutcomeOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.HistoryRows.WithLabelValues("partition_snapshots")))
}

func TestSyncCredential_OverlappingPassKeepsStage(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	id := h.addAccount("user@example.com", up)

	var listCalls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	up.listGate = func() {
		if listCalls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}

	done := make(chan model.SyncPass, 1)
	go func() { done <- h.syncer.SyncCredential(context.Background(), id) }()
	<-entered

	second := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeOK, second.Outcome)
	assert.Equal(t, StageListingDevices, h.cache.Snapshot().Stages[id],
		"the first pass is still listing devices")

	close(release)
	first := <-done
	assert.Equal(t, model.OutcomeOK, first.Outcome)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, StageIdle, h.cache.Snapshot().Stages[id])
}

func TestSyncCredential_ClientGetsStoredCredentials(t *testing.T) {
	h := newHarness(t)
	id := h.addAccount("user@example.com", newFakeUpstream())

	h.syncer.SyncCredential(context.Background(), id)

	require.Len(t, h.accounts.creds, 1)
	assert.Equal(t, "user@example.com", h.accounts.creds[0].Login)
	assert.Equal(t, "pw-user@example.com", h.accounts.creds[0].Secret)
}

func TestSyncCredential_DemoMakesNoUpstreamCalls(t *testing.T) {
	h := newHarness(t)
	id := h.addAccount(demoLogin, nil)

	pass := h.syncer.SyncCredential(context.Background(), id)

	assert.Equal(t, model.OutcomeDemo, pass.Outcome)
	assert.Zero(t, h.accounts.created.Load(), "no client is even built")
	assert.False(t, h.cache.Snapshot().LastSuccess[id].IsZero())
}

func TestSyncCredential_DemoLoginWithOtherSecretIsReal(t *testing.T) {
	h := newHarness(t)
	sealed, err := h.box.Encrypt("not-the-demo-secret")
	require.NoError(t, err)
	id, err := h.store.CreateCredential(context.Background(), model.Credential{Login: demoLogin, SecretEncrypted: sealed})
	require.NoError(t, err)

	pass := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeAuthFailed, pass.Outcome)
	assert.Equal(t, int32(1), h.accounts.created.Load())
}

func TestSyncCredential_RateLimitKeepsHistoryUntouched(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	id := h.addAccount("user@example.com", up)

	first := h.syncer.SyncCredential(context.Background(), id)
	require.Equal(t, model.OutcomeOK, first.Outcome)
	before := h.count("snapshots")

	up.mu.Lock()
	up.listErr = rateLimitErr()
	up.mu.Unlock()

	pass := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeRateLimited, pass.Outcome)
	assert.Contains(t, pass.Error, "attempts.limit")
	assert.Equal(t, before, h.count("snapshots"), "no new rows")

	snap := h.cache.Snapshot()
	assert.Contains(t, snap.RateLimitedSince, id)
	assert.Len(t, snap.Devices, 1, "cached status survives")
}

func TestSyncCredential_RateLimitDuringLogin(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	up.authErr = rateLimitErr()
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeRateLimited, pass.Outcome)
	assert.Equal(t, []string{"auth"}, up.Calls())
	assert.Zero(t, h.count("snapshots"))
}

func TestSyncCredential_AuthFailure(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	up.authErr = &eldes.AuthError{StatusCode: 401, Hint: "check the login"}
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeAuthFailed, pass.Outcome)
	assert.Empty(t, h.allDevices())
}

func TestSyncCredential_ListFailure(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	up.listErr = &eldes.UpstreamError{StatusCode: 500, Endpoint: "/device/list"}
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeFailed, pass.Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncPasses.WithLabelValues(model.OutcomeFailed)))
}

func TestSyncCredential_DeviceFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home(), cabin())
	up.statusErr[home().IMEI] = &eldes.UpstreamError{StatusCode: 500, Endpoint: "/device/list"}
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)

	assert.Equal(t, model.OutcomeOK, pass.Outcome)
	assert.Equal(t, 1, pass.Failures)
	assert.Contains(t, pass.Error, home().IMEI)
	assert.Equal(t, 1, pass.Snapshots, "the second device is still written")
	assert.Len(t, h.allDevices(), 2, "both devices are recorded from the list")
}

func TestSyncCredential_RateLimitMidPassStops(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home(), cabin())
	up.statusErr[home().IMEI] = rateLimitErr()
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)

	assert.Equal(t, model.OutcomeRateLimited, pass.Outcome)
	assert.NotContains(t, up.Calls(), "status:"+cabin().IMEI)
	assert.Zero(t, h.count("snapshots"))
}

func TestSyncCredential_WriteFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home(), cabin())
	id := h.addAccount("user@example.com", up)
	require.Equal(t, model.OutcomeOK, h.syncer.SyncCredential(context.Background(), id).Outcome)
	devs := h.allDevices()
	h.store.failDevice.Store(devs[0].ID)
	before := h.count("snapshots")

	pass := h.syncer.SyncCredential(context.Background(), id)

	assert.Equal(t, model.OutcomeOK, pass.Outcome)
	assert.Equal(t, 1, pass.Failures)
	assert.Contains(t, pass.Error, "disk I/O error")
	assert.Equal(t, before+1, h.count("snapshots"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WriteFailures))
}

func TestSyncCredential_FallbackReadingWithoutSensors(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(cabin())
	temp := 4.5
	up.statuses[cabin().IMEI] = &model.DeviceStatus{
		DeviceID:    cabin().IMEI,
		IMEI:        cabin().IMEI,
		Device:      cabin(),
		Partitions:  cabin().Partitions,
		Temperature: &temp,
	}
	id := h.addAccount("user@example.com", up)

	pass := h.syncer.SyncCredential(context.Background(), id)
	require.Equal(t, model.OutcomeOK, pass.Outcome)
	assert.Equal(t, 1, pass.Readings)

	readings, err := h.store.TemperatureHistory(context.Background(), h.allDevices()[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Nil(t, readings[0].SensorID)
	assert.Equal(t, 4.5, readings[0].Temperature)
}

func TestSyncCredential_RepeatedPassesAppend(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(cabin())
	id := h.addAccount("user@example.com", up)

	a := h.syncer.SyncCredential(context.Background(), id)
	b := h.syncer.SyncCredential(context.Background(), id)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, int32(2), h.accounts.created.Load(), "one client per pass")

	snaps, err := h.store.RecentSnapshots(context.Background(), h.allDevices()[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.NotEqual(t, snaps[0].FetchedAt, snaps[1].FetchedAt)
	assert.Equal(t, snaps[0].IsArmed, snaps[1].IsArmed)
}

func TestSyncCredential_UnknownOrUnreadableCredential(t *testing.T) {
	h := newHarness(t)

	pass := h.syncer.SyncCredential(context.Background(), 42)
	assert.Equal(t, model.OutcomeFailed, pass.Outcome)
	assert.Contains(t, pass.Error, "not found")

	id, err := h.store.CreateCredential(context.Background(), model.Credential{Login: "x@y.z", SecretEncrypted: "garbage"})
	require.NoError(t, err)
	pass = h.syncer.SyncCredential(context.Background(), id)
	assert.Equal(t, model.OutcomeFailed, pass.Outcome)
	assert.Contains(t, pass.Error, "decrypting")
	assert.Zero(t, h.accounts.created.Load())
}

// ---------------------------------------------------------------------------
// SyncAll
// ---------------------------------------------------------------------------

func TestSyncAll_ContinuesPastFailingCredential(t *testing.T) {
	h := newHarness(t)
	limited := newFakeUpstream(home())
	limited.listErr = rateLimitErr()
	h.addAccount("limited@example.com", limited)
	h.addAccount("nobody@example.com", nil) // auth fails
	h.addAccount(demoLogin, nil)
	okID := h.addAccount("ok@example.com", newFakeUpstream(cabin()))

	passes := h.syncer.SyncAll(context.Background())

	require.Len(t, passes, 4)
	assert.Equal(t, model.OutcomeRateLimited, passes[0].Outcome)
	assert.Equal(t, model.OutcomeAuthFailed, passes[1].Outcome)
	assert.Equal(t, model.OutcomeDemo, passes[2].Outcome)
	assert.Equal(t, model.OutcomeOK, passes[3].Outcome)
	assert.Equal(t, okID, passes[3].CredentialID)
	assert.Equal(t, 1, h.count("snapshots"))
}

func TestSyncAll_CancelledContext(t *testing.T) {
	h := newHarness(t)
	h.addAccount("ok@example.com", newFakeUpstream(cabin()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, h.syncer.SyncAll(ctx))
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

func TestControl_ArmThenDisarm(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(cabin())
	id := h.addAccount("user@example.com", up)
	require.Equal(t, model.OutcomeOK, h.syncer.SyncCredential(context.Background(), id).Outcome)
	devID := h.allDevices()[0].ID

	res, err := h.syncer.Control(context.Background(), devID, eldes.ActionArm, nil, "")
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.True(t, res.Status.Partitions[0].Armed)

	latest, err := h.store.LatestPartitions(context.Background(), devID)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].IsArmed, "refetched status is appended")

	res, err = h.syncer.Control(context.Background(), devID, eldes.ActionDisarm, nil, "Partition 1")
	require.NoError(t, err)
	assert.False(t, res.Status.Partitions[0].Armed)

	cached, ok := h.cache.Device(devID)
	require.True(t, ok)
	assert.False(t, cached.Status.Partitions[0].Armed)
}

func TestControl_PartitionByID(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(home())
	id := h.addAccount("user@example.com", up)
	h.syncer.SyncCredential(context.Background(), id)
	devID := h.allDevices()[0].ID

	_, err := h.syncer.Control(context.Background(), devID, eldes.ActionArm, nil, "")
	assert.ErrorIs(t, err, eldes.ErrAmbiguousPartition)

	one := 1
	res, err := h.syncer.Control(context.Background(), devID, eldes.ActionArm, &one, "")
	require.NoError(t, err)
	assert.True(t, res.Status.Partitions[0].Armed)
}

func TestControl_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.syncer.Control(context.Background(), 99, eldes.ActionArm, nil, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sealed, err := h.box.Encrypt(demoSecret)
	require.NoError(t, err)
	res, err := h.store.SeedDemo(context.Background(), demoLogin, sealed, time.Now())
	require.NoError(t, err)
	_, err = h.syncer.Control(context.Background(), res.DeviceID, eldes.ActionArm, nil, "")
	assert.ErrorIs(t, err, ErrDemoCredential)
	assert.Zero(t, h.accounts.created.Load())

	up := newFakeUpstream(cabin())
	id := h.addAccount("user@example.com", up)
	h.syncer.SyncCredential(context.Background(), id)
	devID := h.allDevices()[1].ID
	up.controlErr = &eldes.ControlError{Action: eldes.ActionArm, StatusCode: 400}
	_, err = h.syncer.Control(context.Background(), devID, eldes.ActionArm, nil, "")
	var ce *eldes.ControlError
	assert.ErrorAs(t, err, &ce)
}

func TestControl_RefetchFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	up := newFakeUpstream(cabin())
	id := h.addAccount("user@example.com", up)
	h.syncer.SyncCredential(context.Background(), id)
	devID := h.allDevices()[0].ID
	before := h.count("snapshots")

	up.refetchErr = &eldes.UpstreamError{StatusCode: 503, Endpoint: "/device/list"}
	res, err := h.syncer.Control(context.Background(), devID, eldes.ActionArm, nil, "")
	require.NoError(t, err)
	assert.Nil(t, res.Status)
	assert.Contains(t, res.RefreshError, "503")
	assert.Equal(t, before, h.count("snapshots"))
}
