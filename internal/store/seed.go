package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// Demo fixture identity.
const (
	DemoDeviceID    = "999999999999999"
	DemoDeviceName  = "Demo ELDES Device"
	DemoDeviceModel = "ESIM364"
	DemoSensors     = 3
	DemoDays        = 30
)

// SeedResult reports what SeedDemo wrote.
type SeedResult struct {
	CredentialID int64
	DeviceID     int64
	Readings     int
}

// SeedDemo creates (or reuses) the demo credential and device and replaces
// the device's temperature history with DemoDays of hourly readings for
// DemoSensors sensors ending at now. secretEncrypted is stored as is.
func (s *Store) SeedDemo(ctx context.Context, login, secretEncrypted string, now time.Time) (SeedResult, error) {
	var res SeedResult

	cred, err := s.FindCredentialByLogin(ctx, login)
	switch {
	case err == nil:
		res.CredentialID = cred.ID
	case errors.Is(err, ErrNotFound):
		res.CredentialID, err = s.CreateCredential(ctx, model.Credential{
			Login:           login,
			SecretEncrypted: secretEncrypted,
			Label:           "Demo Device",
		})
		if err != nil {
			return res, err
		}
	default:
		return res, err
	}

	nowMs := now.UnixMilli()
	res.DeviceID, err = s.UpsertDevice(ctx, res.CredentialID, model.Device{
		IMEI:            DemoDeviceID,
		Name:            DemoDeviceName,
		Model:           DemoDeviceModel,
		FirmwareVersion: "1.0.0",
	}, nowMs)
	if err != nil {
		return res, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM temperature_readings WHERE device_id = ?`, res.DeviceID); err != nil {
		return res, fmt.Errorf("clearing demo readings: %w", err)
	}

	hours := DemoDays * 24
	start := now.Add(-time.Duration(hours) * time.Hour).UnixMilli()
	readings := make([]model.TemperatureReading, 0, DemoSensors*hours)
	for sensor := 1; sensor <= DemoSensors; sensor++ {
		name := fmt.Sprintf("Sensor %d", sensor)
		base := 18 + float64(sensor)*2
		for i := range hours {
			daily := math.Sin(float64(i%24-6)*math.Pi/12) * 5
			jitter := math.Sin(float64(i)*1.3+float64(sensor)) * 0.8
			t := round2(base + daily + jitter)
			lo, hi := round2(t-0.5), round2(t+0.5)
			readings = append(readings, model.TemperatureReading{
				DeviceID:       res.DeviceID,
				SensorID:       &sensor,
				SensorName:     &name,
				Temperature:    t,
				MinTemperature: &lo,
				MaxTemperature: &hi,
				RecordedAt:     start + int64(i)*time.Hour.Milliseconds(),
			})
		}
	}

	snap := model.PartitionSnapshot{
		DeviceID:      res.DeviceID,
		PartitionID:   1,
		PartitionName: "Partition 1",
		IsReady:       true,
		FetchedAt:     nowMs,
	}
	if err := s.AppendStatus(ctx, []model.PartitionSnapshot{snap}, readings); err != nil {
		return res, fmt.Errorf("seeding demo history: %w", err)
	}
	res.Readings = len(readings)
	return res, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
