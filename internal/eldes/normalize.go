package eldes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// Field priority lists. The first present, non-null field wins.
var (
	deviceIDFields       = []string{"imei", "deviceId"}
	deviceNameFields     = []string{"deviceName", "name"}
	partitionIDFields    = []string{"internalId", "partitionId"}
	partitionNameFields  = []string{"name", "partitionName"}
	partitionArmedFields = []string{"isArmed", "armed"}
	partitionReadyFields = []string{"isReady", "ready"}
	sensorIDFields       = []string{"sensorId", "id"}
	sensorNameFields     = []string{"sensorName", "name"}
	sensorValueFields    = []string{"temperature", "temp", "value", "t"}
	zoneIDFields         = []string{"zoneId", "id"}
	zoneNameFields       = []string{"zoneName", "name"}
	zoneOpenFields       = []string{"isOpen", "open"}
	zoneTamperedFields   = []string{"isTampered", "tampered"}
)

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
			if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
				return int(f), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func firstBool(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n != 0, true
			}
		}
	}
	return false, false
}

// firstFloat resolves a numeric field, coercing numeric strings. Non-finite
// values are treated as absent.
func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		var f float64
		var err error
		switch v := m[k].(type) {
		case json.Number:
			f, err = v.Float64()
		case string:
			f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		default:
			continue
		}
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func optFloat(m map[string]any, key string) *float64 {
	if f, ok := firstFloat(m, key); ok {
		return &f
	}
	return nil
}

func optBool(m map[string]any, key string) *bool {
	if b, ok := firstBool(m, key); ok {
		return &b
	}
	return nil
}

// ParseDeviceList normalizes a device list body. The body may be the usual
// {"deviceListEntries": [...]} envelope or a bare array. Entries without a
// stable identifier are dropped.
func ParseDeviceList(body []byte) ([]model.Device, error) {
	v, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding device list: %w", err)
	}
	var entries []any
	switch t := v.(type) {
	case map[string]any:
		entries, _ = t["deviceListEntries"].([]any)
	case []any:
		entries = t
	}

	devices := make([]model.Device, 0, len(entries))
	for i, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		d, ok := NormalizeDevice(m)
		if !ok {
			slog.Warn("dropping device list entry without identifier", "index", i)
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// NormalizeDevice maps one device list entry to its canonical form. It
// reports false when the entry carries neither imei nor deviceId.
func NormalizeDevice(m map[string]any) (model.Device, bool) {
	id := firstString(m, deviceIDFields...)
	if id == "" {
		return model.Device{}, false
	}
	d := model.Device{
		IMEI:            id,
		Name:            firstString(m, deviceNameFields...),
		Model:           firstString(m, "model"),
		FirmwareVersion: firstString(m, "firmwareVersion"),
		Partitions:      []model.Partition{},
		Zones:           []model.Zone{},
	}
	if parts, ok := m["partitions"].([]any); ok {
		d.Partitions = normalizePartitions(id, parts)
	}
	if zones, ok := m["zones"].([]any); ok {
		for i, z := range zones {
			zm, ok := z.(map[string]any)
			if !ok {
				continue
			}
			d.Zones = append(d.Zones, normalizeZone(zm, i+1))
		}
	}
	return d, true
}

// normalizePartitions maps a device's partition list. Entries without an
// explicit id take their 1-based position, unless another entry claims that
// id explicitly. Entries whose id is already taken are dropped, since a
// control request for them would address a different partition.
func normalizePartitions(imei string, parts []any) []model.Partition {
	entries := make([]map[string]any, len(parts))
	explicit := make(map[int]bool)
	for i, p := range parts {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		entries[i] = pm
		if id, ok := firstInt(pm, partitionIDFields...); ok {
			explicit[id] = true
		}
	}

	out := []model.Partition{}
	used := make(map[int]bool)
	for i, pm := range entries {
		if pm == nil {
			continue
		}
		_, hasID := firstInt(pm, partitionIDFields...)
		p := NormalizePartition(pm, i+1)
		if used[p.ID] || (!hasID && explicit[p.ID]) {
			slog.Warn("dropping partition with conflicting id",
				"imei", imei, "index", i, "partition_id", p.ID, "name", p.Name)
			continue
		}
		used[p.ID] = true
		out = append(out, p)
	}
	return out
}

// NormalizePartition maps one partition entry. position is the 1-based index
// used when the entry has no explicit id.
func NormalizePartition(m map[string]any, position int) model.Partition {
	id, ok := firstInt(m, partitionIDFields...)
	if !ok {
		id = position
	}
	name := firstString(m, partitionNameFields...)
	if name == "" {
		name = fmt.Sprintf("Partition %d", id)
	}
	armed, _ := firstBool(m, partitionArmedFields...)
	ready, _ := firstBool(m, partitionReadyFields...)
	return model.Partition{ID: id, Name: name, Armed: armed, Ready: ready}
}

func normalizeZone(m map[string]any, position int) model.Zone {
	id, ok := firstInt(m, zoneIDFields...)
	if !ok {
		id = position
	}
	open, _ := firstBool(m, zoneOpenFields...)
	tampered, _ := firstBool(m, zoneTamperedFields...)
	return model.Zone{
		ZoneID:     id,
		ZoneName:   firstString(m, zoneNameFields...),
		IsOpen:     open,
		IsTampered: tampered,
	}
}

// ParseTemperatures normalizes a temperature body. The sensor list is read
// from temperatureDetailsList, then temperatures, then a bare array. Sensors
// without a usable value are dropped. The result is never nil.
func ParseTemperatures(body []byte) ([]model.TemperatureSensor, error) {
	v, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding temperatures: %w", err)
	}
	var list []any
	switch t := v.(type) {
	case map[string]any:
		if l, ok := t["temperatureDetailsList"].([]any); ok {
			list = l
		} else if l, ok := t["temperatures"].([]any); ok {
			list = l
		}
	case []any:
		list = t
	}

	sensors := make([]model.TemperatureSensor, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := NormalizeSensor(m); ok {
			sensors = append(sensors, s)
		}
	}
	return sensors, nil
}

// NormalizeSensor maps one temperature entry. It reports false when no value
// field holds a number or numeric string.
func NormalizeSensor(m map[string]any) (model.TemperatureSensor, bool) {
	value, ok := firstFloat(m, sensorValueFields...)
	if !ok {
		return model.TemperatureSensor{}, false
	}
	id, _ := firstInt(m, sensorIDFields...)
	name := firstString(m, sensorNameFields...)
	if name == "" {
		name = fmt.Sprintf("Sensor %d", id)
	}
	return model.TemperatureSensor{
		SensorID:       id,
		SensorName:     name,
		Temperature:    value,
		MinTemperature: optFloat(m, "minTemperature"),
		MaxTemperature: optFloat(m, "maxTemperature"),
	}, true
}

// ParseDeviceInfo extracts the known fields of a device info body.
func ParseDeviceInfo(body []byte) (*model.DeviceInfo, error) {
	v, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding device info: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decoding device info: expected object, got %T", v)
	}
	info := &model.DeviceInfo{
		Online:             optBool(m, "online"),
		BatteryStatus:      optBool(m, "batteryStatus"),
		PhoneNumber:        firstString(m, "phoneNumber"),
		ViewCamerasAllowed: optBool(m, "viewCamerasAllowed"),
		MigrationPending:   optBool(m, "migrationPending"),
	}
	if n, ok := firstInt(m, "gsmStrength"); ok {
		info.GSMStrength = &n
	}
	return info, nil
}

// AggregateTemperature returns the first sensor's value, or nil without sensors.
func AggregateTemperature(sensors []model.TemperatureSensor) *float64 {
	if len(sensors) == 0 {
		return nil
	}
	t := sensors[0].Temperature
	return &t
}

// RawPayloads holds the unmodified upstream bodies behind one status.
// A nil field means the call failed or was not made.
type RawPayloads struct {
	DeviceList  []byte
	DeviceInfo  []byte
	Temperature []byte
}

// BuildStatus merges a device list entry with the optional device info and
// temperature data into one canonical status.
func BuildStatus(dev model.Device, info *model.DeviceInfo, sensors []model.TemperatureSensor, raw RawPayloads, fetchedAt time.Time) (*model.DeviceStatus, error) {
	if sensors == nil {
		sensors = []model.TemperatureSensor{}
	}
	zones := dev.Zones
	if zones == nil {
		zones = []model.Zone{}
	}
	partitions := dev.Partitions
	if partitions == nil {
		partitions = []model.Partition{}
	}
	st := &model.DeviceStatus{
		DeviceID:           dev.IMEI,
		IMEI:               dev.IMEI,
		Device:             dev,
		Partitions:         partitions,
		Temperature:        AggregateTemperature(sensors),
		TemperatureDetails: sensors,
		Zones:              zones,
		DeviceInfo:         info,
		FetchedAt:          fetchedAt.UTC(),
	}
	rawData, err := encodeRawData(st, raw)
	if err != nil {
		return nil, err
	}
	st.RawData = rawData
	return st, nil
}

// RawData is the decoded form of a status's rawData document. Each upstream
// response is kept as a JSON string holding the exact bytes it arrived
// with; nil means the call failed or was not made.
type RawData struct {
	DeviceListResponse  *string                   `json:"deviceListResponse"`
	DeviceInfoResponse  *string                   `json:"deviceInfoResponse"`
	TemperatureResponse *string                   `json:"temperatureResponse"`
	Device              model.Device              `json:"device"`
	DeviceInfo          *model.DeviceInfo         `json:"deviceInfo"`
	TemperatureDetails  []model.TemperatureSensor `json:"temperatureDetails"`
	FetchedAt           time.Time                 `json:"fetchedAt"`
}

// ParseRawData decodes a stored rawData document.
func ParseRawData(b []byte) (*RawData, error) {
	var rd RawData
	if err := json.Unmarshal(b, &rd); err != nil {
		return nil, fmt.Errorf("decoding raw data: %w", err)
	}
	return &rd, nil
}

func encodeRawData(st *model.DeviceStatus, raw RawPayloads) (json.RawMessage, error) {
	b, err := json.Marshal(RawData{
		DeviceListResponse:  rawString(raw.DeviceList),
		DeviceInfoResponse:  rawString(raw.DeviceInfo),
		TemperatureResponse: rawString(raw.Temperature),
		Device:              st.Device,
		DeviceInfo:          st.DeviceInfo,
		TemperatureDetails:  st.TemperatureDetails,
		FetchedAt:           st.FetchedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding raw data: %w", err)
	}
	return b, nil
}

func rawString(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

// ResolvePartition picks the partition a control request addresses. A name
// wins over an id. With neither, a device with exactly one partition
// resolves to it.
func ResolvePartition(dev model.Device, name string, id *int) (model.Partition, error) {
	switch {
	case name != "":
		for _, p := range dev.Partitions {
			if p.Name == name {
				return p, nil
			}
		}
		return model.Partition{}, fmt.Errorf("%w: %q on %q", ErrPartitionNotFound, name, dev.Name)
	case id != nil:
		for _, p := range dev.Partitions {
			if p.ID == *id {
				return p, nil
			}
		}
		return model.Partition{}, fmt.Errorf("%w: id %d on %q", ErrPartitionNotFound, *id, dev.Name)
	}
	switch len(dev.Partitions) {
	case 0:
		return model.Partition{}, fmt.Errorf("%w: %q has no partitions", ErrPartitionNotFound, dev.Name)
	case 1:
		return dev.Partitions[0], nil
	default:
		return model.Partition{}, ErrAmbiguousPartition
	}
}

// FindDevice returns the device whose IMEI or display name equals location.
func FindDevice(devices []model.Device, location string) (model.Device, bool) {
	for _, d := range devices {
		if d.IMEI == location {
			return d, true
		}
	}
	for _, d := range devices {
		if d.Name == location {
			return d, true
		}
	}
	return model.Device{}, false
}
