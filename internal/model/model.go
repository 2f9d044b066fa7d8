// Package model defines all shared domain types for eldesmon.
package model

import (
	"encoding/json"
	"time"
)

// Credential is one ELDES Cloud account the sync subsystem polls on behalf of
// a user. SecretEncrypted is the sealed form produced by the secret package and
// is never serialized.
type Credential struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Login           string    `json:"login"`
	SecretEncrypted string    `json:"-"`
	Label           string    `json:"label,omitempty"`
	HostDeviceID    string    `json:"host_device_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Partition is the canonical form of one independently armable zone group.
// ID is the upstream partition index used when issuing control calls.
type Partition struct {
	ID    int    `json:"-"`
	Name  string `json:"-"`
	Armed bool   `json:"-"`
	Ready bool   `json:"-"`
}

type partitionJSON struct {
	InternalID    int    `json:"internalId"`
	PartitionID   int    `json:"partitionId"`
	Name          string `json:"name"`
	PartitionName string `json:"partitionName"`
	IsArmed       bool   `json:"isArmed"`
	Armed         bool   `json:"armed"`
	IsReady       bool   `json:"isReady"`
}

// MarshalJSON writes both the canonical and the legacy field names so older
// consumers of the stored payloads keep working.
func (p Partition) MarshalJSON() ([]byte, error) {
	return json.Marshal(partitionJSON{
		InternalID:    p.ID,
		PartitionID:   p.ID,
		Name:          p.Name,
		PartitionName: p.Name,
		IsArmed:       p.Armed,
		Armed:         p.Armed,
		IsReady:       p.Ready,
	})
}

// UnmarshalJSON accepts the shape written by MarshalJSON. Canonical names win.
func (p *Partition) UnmarshalJSON(data []byte) error {
	var raw struct {
		InternalID    *int    `json:"internalId"`
		PartitionID   *int    `json:"partitionId"`
		Name          *string `json:"name"`
		PartitionName *string `json:"partitionName"`
		IsArmed       *bool   `json:"isArmed"`
		Armed         *bool   `json:"armed"`
		IsReady       *bool   `json:"isReady"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Partition{}
	switch {
	case raw.InternalID != nil:
		p.ID = *raw.InternalID
	case raw.PartitionID != nil:
		p.ID = *raw.PartitionID
	}
	switch {
	case raw.Name != nil:
		p.Name = *raw.Name
	case raw.PartitionName != nil:
		p.Name = *raw.PartitionName
	}
	switch {
	case raw.IsArmed != nil:
		p.Armed = *raw.IsArmed
	case raw.Armed != nil:
		p.Armed = *raw.Armed
	}
	if raw.IsReady != nil {
		p.Ready = *raw.IsReady
	}
	return nil
}

// Device is one physical alarm panel as reported by the upstream device list.
type Device struct {
	IMEI            string      `json:"-"`
	Name            string      `json:"-"`
	Model           string      `json:"-"`
	FirmwareVersion string      `json:"-"`
	Partitions      []Partition `json:"-"`
	Zones           []Zone      `json:"-"`
}

type deviceJSON struct {
	IMEI            string      `json:"imei"`
	DeviceID        string      `json:"deviceId"`
	DeviceName      string      `json:"deviceName"`
	Name            string      `json:"name"`
	Model           string      `json:"model,omitempty"`
	FirmwareVersion string      `json:"firmwareVersion,omitempty"`
	Partitions      []Partition `json:"partitions"`
	Zones           []Zone      `json:"zones,omitempty"`
}

// MarshalJSON writes both the canonical and the legacy field names.
func (d Device) MarshalJSON() ([]byte, error) {
	parts := d.Partitions
	if parts == nil {
		parts = []Partition{}
	}
	return json.Marshal(deviceJSON{
		IMEI:            d.IMEI,
		DeviceID:        d.IMEI,
		DeviceName:      d.Name,
		Name:            d.Name,
		Model:           d.Model,
		FirmwareVersion: d.FirmwareVersion,
		Partitions:      parts,
		Zones:           d.Zones,
	})
}

// UnmarshalJSON accepts the shape written by MarshalJSON.
func (d *Device) UnmarshalJSON(data []byte) error {
	var raw deviceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Device{
		IMEI:            raw.IMEI,
		Name:            raw.DeviceName,
		Model:           raw.Model,
		FirmwareVersion: raw.FirmwareVersion,
		Partitions:      raw.Partitions,
		Zones:           raw.Zones,
	}
	if d.IMEI == "" {
		d.IMEI = raw.DeviceID
	}
	if d.Name == "" {
		d.Name = raw.Name
	}
	return nil
}

// TemperatureSensor is one sensor reading. MinTemperature and MaxTemperature
// are stored exactly as the upstream labels them.
type TemperatureSensor struct {
	SensorID       int      `json:"sensorId"`
	SensorName     string   `json:"sensorName"`
	Temperature    float64  `json:"temperature"`
	MinTemperature *float64 `json:"minTemperature,omitempty"`
	MaxTemperature *float64 `json:"maxTemperature,omitempty"`
}

// Zone is an individual monitored contact within a partition.
type Zone struct {
	ZoneID     int    `json:"zoneId"`
	ZoneName   string `json:"zoneName,omitempty"`
	IsOpen     bool   `json:"isOpen"`
	IsTampered bool   `json:"isTampered"`
}

// DeviceInfo holds the best-effort fields of the upstream device info call.
type DeviceInfo struct {
	Online             *bool  `json:"online,omitempty"`
	GSMStrength        *int   `json:"gsmStrength,omitempty"` // 1-4
	BatteryStatus      *bool  `json:"batteryStatus,omitempty"`
	PhoneNumber        string `json:"phoneNumber,omitempty"`
	ViewCamerasAllowed *bool  `json:"viewCamerasAllowed,omitempty"`
	MigrationPending   *bool  `json:"migrationPending,omitempty"`
}

// DeviceStatus is the canonical merge of the device list entry, device info
// and temperature payloads for one device at one fetch.
type DeviceStatus struct {
	DeviceID           string              `json:"deviceId"`
	IMEI               string              `json:"imei"`
	Device             Device              `json:"-"`
	Partitions         []Partition         `json:"partitions"`
	Temperature        *float64            `json:"temperature"`
	TemperatureDetails []TemperatureSensor `json:"temperatureDetails"`
	Zones              []Zone              `json:"zones"`
	DeviceInfo         *DeviceInfo         `json:"deviceInfo"`
	RawData            json.RawMessage     `json:"rawData,omitempty"`
	FetchedAt          time.Time           `json:"fetchedAt"`
}

// PartitionSnapshot is one append-only row of partition state history.
type PartitionSnapshot struct {
	ID            int64           `json:"id"`
	DeviceID      int64           `json:"device_id"`
	PartitionID   int             `json:"partition_id"`
	PartitionName string          `json:"partition_name"`
	IsArmed       bool            `json:"is_armed"`
	IsReady       bool            `json:"is_ready"`
	Temperature   *float64        `json:"temperature,omitempty"`
	Zones         []Zone          `json:"zones"`
	RawData       json.RawMessage `json:"raw_data,omitempty"`
	FetchedAt     int64           `json:"fetched_at"` // unix millis
}

// TemperatureReading is one append-only row of sensor history. SensorID and
// SensorName are nil for the aggregate fallback row.
type TemperatureReading struct {
	ID             int64    `json:"id"`
	DeviceID       int64    `json:"device_id"`
	SensorID       *int     `json:"sensor_id"`
	SensorName     *string  `json:"sensor_name"`
	Temperature    float64  `json:"temperature"`
	MinTemperature *float64 `json:"min_temperature,omitempty"`
	MaxTemperature *float64 `json:"max_temperature,omitempty"`
	RecordedAt     int64    `json:"recorded_at"` // unix millis
}

// DeviceRecord is a persisted device row.
type DeviceRecord struct {
	ID              int64  `json:"id"`
	CredentialID    int64  `json:"credential_id"`
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	LastSeen        int64  `json:"last_seen"` // unix millis
}

// Sync pass outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeDemo        = "demo"
	OutcomeRateLimited = "rate_limited"
	OutcomeAuthFailed  = "auth_failed"
	OutcomeFailed      = "failed"
)

// SyncPass summarizes one sync pass for one credential.
type SyncPass struct {
	RunID        string    `json:"run_id"`
	CredentialID int64     `json:"credential_id"`
	Outcome      string    `json:"outcome"`
	Devices      int       `json:"devices"`
	Snapshots    int       `json:"snapshots"`
	Readings     int       `json:"readings"`
	Failures     int       `json:"failures"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Notification represents a structured alert message.
type Notification struct {
	AlertType string            `json:"alert_type"`
	Severity  string            `json:"severity"` // "info", "warning", "critical"
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Account   string            `json:"account"`
	Subject   string            `json:"subject"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
