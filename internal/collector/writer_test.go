package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/model"
)

type recordingStore struct {
	snaps    []model.PartitionSnapshot
	readings []model.TemperatureReading
	err      error
}

func (r *recordingStore) AppendStatus(_ context.Context, snaps []model.PartitionSnapshot, readings []model.TemperatureReading) error {
	if r.err != nil {
		return r.err
	}
	r.snaps = append(r.snaps, snaps...)
	r.readings = append(r.readings, readings...)
	return nil
}

func status(at time.Time) *model.DeviceStatus {
	temp := 20.5
	lo, hi := 30.0, 5.0
	return &model.DeviceStatus{
		IMEI: "1",
		Partitions: []model.Partition{
			{ID: 1, Name: "House", Armed: true, Ready: true},
			{ID: 2, Name: "Garage"},
		},
		Temperature: &temp,
		TemperatureDetails: []model.TemperatureSensor{
			{SensorID: 1, SensorName: "Hall", Temperature: 20.5, MinTemperature: &lo, MaxTemperature: &hi},
			{SensorID: 2, SensorName: "Porch", Temperature: -3},
		},
		Zones:     []model.Zone{{ZoneID: 1, ZoneName: "Door"}},
		RawData:   json.RawMessage(`{"deviceListResponse":null}`),
		FetchedAt: at,
	}
}

func TestBuildRows_SharedTimestamp(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 789_000_000, time.UTC)
	snaps, readings := BuildRows(7, status(at))

	require.Len(t, snaps, 2)
	require.Len(t, readings, 2)
	for _, s := range snaps {
		assert.Equal(t, at.UnixMilli(), s.FetchedAt)
		assert.Equal(t, int64(7), s.DeviceID)
		assert.Equal(t, 20.5, *s.Temperature)
		assert.Len(t, s.Zones, 1)
		assert.JSONEq(t, `{"deviceListResponse":null}`, string(s.RawData))
	}
	for _, r := range readings {
		assert.Equal(t, at.UnixMilli(), r.RecordedAt)
	}
	assert.True(t, snaps[0].IsArmed)
	assert.True(t, snaps[0].IsReady)
	assert.False(t, snaps[1].IsArmed)

	assert.Equal(t, 1, *readings[0].SensorID)
	assert.Equal(t, "Hall", *readings[0].SensorName)
	assert.Equal(t, 30.0, *readings[0].MinTemperature, "min and max are kept as reported")
	assert.Equal(t, 5.0, *readings[0].MaxTemperature)
	assert.Equal(t, 2, *readings[1].SensorID, "each row gets its own sensor id")
}

func TestBuildRows_AggregateFallback(t *testing.T) {
	st := status(time.Now())
	st.TemperatureDetails = nil
	_, readings := BuildRows(1, st)
	require.Len(t, readings, 1)
	assert.Nil(t, readings[0].SensorID)
	assert.Nil(t, readings[0].SensorName)
	assert.Equal(t, 20.5, readings[0].Temperature)

	st.Temperature = nil
	_, readings = BuildRows(1, st)
	assert.Empty(t, readings)
}

func TestBuildRows_NoPartitions(t *testing.T) {
	st := status(time.Now())
	st.Partitions = nil
	snaps, readings := BuildRows(1, st)
	assert.Empty(t, snaps)
	assert.Len(t, readings, 2)
}

func TestHistoryWriter_Write(t *testing.T) {
	rec := &recordingStore{}
	m := metrics.New()
	w := NewHistoryWriter(rec, m)

	res, err := w.Write(context.Background(), 3, status(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Snapshots: 2, Readings: 2}, res)
	assert.Len(t, rec.snaps, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HistoryRows.WithLabelValues("temperature_readings")))
}

func TestHistoryWriter_WriteError(t *testing.T) {
	cause := errors.New("database is locked")
	m := metrics.New()
	w := NewHistoryWriter(&recordingStore{err: cause}, m)

	_, err := w.Write(context.Background(), 3, status(time.Now()))

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, int64(3), we.DeviceID)
	assert.Equal(t, "1", we.IMEI)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "device 3")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteFailures))
}

func TestHistoryWriter_NilMetrics(t *testing.T) {
	w := NewHistoryWriter(&recordingStore{}, nil)
	_, err := w.Write(context.Background(), 1, status(time.Now()))
	assert.NoError(t, err)
}
