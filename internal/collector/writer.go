package collector

import (
	"context"
	"fmt"

	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// HistoryStore appends the rows of one device status atomically.
type HistoryStore interface {
	AppendStatus(ctx context.Context, snaps []model.PartitionSnapshot, readings []model.TemperatureReading) error
}

// WriteError is a history write failure for one device.
type WriteError struct {
	DeviceID int64
	IMEI     string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing history for device %d (%s): %v", e.DeviceID, e.IMEI, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteResult counts the rows one write appended.
type WriteResult struct {
	Snapshots int
	Readings  int
}

// HistoryWriter turns device statuses into append-only history rows.
type HistoryWriter struct {
	store   HistoryStore
	metrics *metrics.Metrics
}

// NewHistoryWriter creates a writer over store. m may be nil.
func NewHistoryWriter(store HistoryStore, m *metrics.Metrics) *HistoryWriter {
	return &HistoryWriter{store: store, metrics: m}
}

// Write appends one snapshot per partition and one reading per sensor, all
// stamped with the status's fetch time.
func (w *HistoryWriter) Write(ctx context.Context, deviceID int64, st *model.DeviceStatus) (WriteResult, error) {
	snaps, readings := BuildRows(deviceID, st)
	if err := w.store.AppendStatus(ctx, snaps, readings); err != nil {
		w.metrics.WriteFailed()
		return WriteResult{}, &WriteError{DeviceID: deviceID, IMEI: st.IMEI, Err: err}
	}
	w.metrics.RowsWritten("partition_snapshots", len(snaps))
	w.metrics.RowsWritten("temperature_readings", len(readings))
	return WriteResult{Snapshots: len(snaps), Readings: len(readings)}, nil
}

// BuildRows maps a status to history rows. A status without sensors but with
// an aggregate temperature yields one reading with no sensor identity.
func BuildRows(deviceID int64, st *model.DeviceStatus) ([]model.PartitionSnapshot, []model.TemperatureReading) {
	fetchedAt := st.FetchedAt.UnixMilli()

	snaps := make([]model.PartitionSnapshot, 0, len(st.Partitions))
	for _, p := range st.Partitions {
		snaps = append(snaps, model.PartitionSnapshot{
			DeviceID:      deviceID,
			PartitionID:   p.ID,
			PartitionName: p.Name,
			IsArmed:       p.Armed,
			IsReady:       p.Ready,
			Temperature:   st.Temperature,
			Zones:         st.Zones,
			RawData:       st.RawData,
			FetchedAt:     fetchedAt,
		})
	}

	readings := make([]model.TemperatureReading, 0, len(st.TemperatureDetails))
	for _, s := range st.TemperatureDetails {
		id, name := s.SensorID, s.SensorName
		readings = append(readings, model.TemperatureReading{
			DeviceID:       deviceID,
			SensorID:       &id,
			SensorName:     &name,
			Temperature:    s.Temperature,
			MinTemperature: s.MinTemperature,
			MaxTemperature: s.MaxTemperature,
			RecordedAt:     fetchedAt,
		})
	}
	if len(readings) == 0 && st.Temperature != nil {
		readings = append(readings, model.TemperatureReading{
			DeviceID:    deviceID,
			Temperature: *st.Temperature,
			RecordedAt:  fetchedAt,
		})
	}
	return snaps, readings
}
