package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

func TestNewPruner(t *testing.T) {
	s := newTestStore(t)
	p := NewPruner(s, 48*time.Hour)

	assert.NotNil(t, p)
	assert.Equal(t, s, p.store)
	assert.Equal(t, 48*time.Hour, p.retention)
	assert.Equal(t, 1*time.Hour, p.interval)
}

func TestPrunerRun_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	p := NewPruner(s, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrune_DeletesOldData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, devID := seedDevice(t, s)

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	oldTS := now.Add(-49 * time.Hour).UnixMilli()
	newTS := now.Add(-time.Hour).UnixMilli()

	for _, ts := range []int64{oldTS, newTS} {
		require.NoError(t, s.AppendStatus(ctx,
			[]model.PartitionSnapshot{{DeviceID: devID, PartitionID: 1, PartitionName: "P", FetchedAt: ts}},
			[]model.TemperatureReading{{DeviceID: devID, Temperature: 1, RecordedAt: ts}},
		))
		require.NoError(t, s.InsertAlert(ctx, ts, "sync_stale", "c", "s", "m", "warning"))
	}

	p := NewPruner(s, 48*time.Hour)
	p.now = func() time.Time { return now }
	p.prune(ctx)

	for _, table := range []string{"partition_snapshots", "temperature_readings", "alert_log"} {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	snaps, err := s.RecentSnapshots(ctx, devID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, newTS, snaps[0].FetchedAt)
}

func TestPrune_ClosedDB(t *testing.T) {
	s := closedTestStore(t)
	p := NewPruner(s, time.Hour)
	// Errors are logged, never fatal.
	assert.NotPanics(t, func() { p.prune(context.Background()) })
}
