// Package store provides SQLite persistence for eldesmon.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database holding credentials, devices and history.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// --- credentials ---

// CreateCredential inserts a credential. SecretEncrypted must already be
// encrypted; the store never sees plaintext secrets.
func (s *Store) CreateCredential(ctx context.Context, c model.Credential) (int64, error) {
	if c.UserID == 0 {
		c.UserID = 1
	}
	now := nowMillis()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, login, secret_encrypted, label, host_device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Login, c.SecretEncrypted, c.Label, c.HostDeviceID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting credential: %w", err)
	}
	return res.LastInsertId()
}

const credentialColumns = `id, user_id, login, secret_encrypted, label, host_device_id, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (model.Credential, error) {
	var c model.Credential
	var created, updated int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Login, &c.SecretEncrypted, &c.Label, &c.HostDeviceID, &created, &updated); err != nil {
		return c, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

// GetCredential returns one credential, including its encrypted secret.
func (s *Store) GetCredential(ctx context.Context, id int64) (*model.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential %d: %w", id, err)
	}
	return &c, nil
}

// FindCredentialByLogin returns the oldest credential registered for login.
func (s *Store) FindCredentialByLogin(ctx context.Context, login string) (*model.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE login = ? ORDER BY id LIMIT 1`, login)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %q: %w", login, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential %q: %w", login, err)
	}
	return &c, nil
}

// ListCredentials returns every credential ordered by id.
func (s *Store) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCredentialIDs returns the ids of every stored credential.
func (s *Store) ListCredentialIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM credentials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying credential ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning credential id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCredential removes a credential; its devices and history go with it.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting credential %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- devices ---

// UpsertDevice records a device seen under a credential and returns its row id.
func (s *Store) UpsertDevice(ctx context.Context, credentialID int64, dev model.Device, seenAt int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (credential_id, external_id, name, model, firmware_version, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(credential_id, external_id) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			firmware_version = excluded.firmware_version,
			last_seen = excluded.last_seen
		RETURNING id`,
		credentialID, dev.IMEI, dev.Name, dev.Model, dev.FirmwareVersion, seenAt, nowMillis(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting device %s: %w", dev.IMEI, err)
	}
	return id, nil
}

const deviceColumns = `id, credential_id, external_id, name, model, firmware_version, last_seen`

func scanDevice(row interface{ Scan(...any) error }) (model.DeviceRecord, error) {
	var d model.DeviceRecord
	err := row.Scan(&d.ID, &d.CredentialID, &d.ExternalID, &d.Name, &d.Model, &d.FirmwareVersion, &d.LastSeen)
	return d, err
}

// GetDevice returns one device row.
func (s *Store) GetDevice(ctx context.Context, id int64) (*model.DeviceRecord, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying device %d: %w", id, err)
	}
	return &d, nil
}

// ListDevices returns the devices stored under a credential.
func (s *Store) ListDevices(ctx context.Context, credentialID int64) ([]model.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE credential_id = ? ORDER BY id`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceRecord
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- history ---

// AppendStatus inserts the snapshot and reading rows of one device status in
// a single transaction. Either every row lands or none does.
func (s *Store) AppendStatus(ctx context.Context, snaps []model.PartitionSnapshot, readings []model.TemperatureReading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, snap := range snaps {
		zones := snap.Zones
		if zones == nil {
			zones = []model.Zone{}
		}
		zonesJSON, err := json.Marshal(zones)
		if err != nil {
			return fmt.Errorf("encoding zones: %w", err)
		}
		var raw any
		if len(snap.RawData) > 0 {
			raw = string(snap.RawData)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO partition_snapshots
			(device_id, partition_id, partition_name, is_armed, is_ready, temperature, zones_json, raw_json, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.DeviceID, snap.PartitionID, snap.PartitionName, snap.IsArmed, snap.IsReady,
			snap.Temperature, string(zonesJSON), raw, snap.FetchedAt,
		); err != nil {
			return fmt.Errorf("inserting partition snapshot: %w", err)
		}
	}

	for _, r := range readings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO temperature_readings
			(device_id, sensor_id, sensor_name, temperature, min_temperature, max_temperature, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.DeviceID, r.SensorID, r.SensorName, r.Temperature, r.MinTemperature, r.MaxTemperature, r.RecordedAt,
		); err != nil {
			return fmt.Errorf("inserting temperature reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history transaction: %w", err)
	}
	return nil
}

const snapshotColumns = `id, device_id, partition_id, partition_name, is_armed, is_ready, temperature, zones_json, raw_json, fetched_at`

func scanSnapshots(rows *sql.Rows) ([]model.PartitionSnapshot, error) {
	var out []model.PartitionSnapshot
	for rows.Next() {
		var (
			p     model.PartitionSnapshot
			temp  sql.NullFloat64
			zones string
			raw   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.PartitionID, &p.PartitionName, &p.IsArmed, &p.IsReady,
			&temp, &zones, &raw, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scanning partition snapshot: %w", err)
		}
		if temp.Valid {
			p.Temperature = &temp.Float64
		}
		if err := json.Unmarshal([]byte(zones), &p.Zones); err != nil {
			return nil, fmt.Errorf("decoding zones of snapshot %d: %w", p.ID, err)
		}
		if raw.Valid {
			p.RawData = json.RawMessage(raw.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPartitions returns the most recent snapshot of every partition of a
// device, ordered by partition id.
func (s *Store) LatestPartitions(ctx context.Context, deviceID int64) ([]model.PartitionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM partition_snapshots ps
		WHERE device_id = ?
		AND id = (SELECT p2.id FROM partition_snapshots p2
			WHERE p2.device_id = ps.device_id AND p2.partition_id = ps.partition_id
			ORDER BY p2.fetched_at DESC, p2.id DESC LIMIT 1)
		ORDER BY partition_id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying latest partitions: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// RecentSnapshots returns the newest snapshot rows of a device, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, deviceID int64, limit int) ([]model.PartitionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM partition_snapshots
		WHERE device_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

const readingColumns = `id, device_id, sensor_id, sensor_name, temperature, min_temperature, max_temperature, recorded_at`

func scanReadings(rows *sql.Rows) ([]model.TemperatureReading, error) {
	var out []model.TemperatureReading
	for rows.Next() {
		var (
			r        model.TemperatureReading
			sensorID sql.NullInt64
			name     sql.NullString
			lo, hi   sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &sensorID, &name, &r.Temperature, &lo, &hi, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning temperature reading: %w", err)
		}
		if sensorID.Valid {
			id := int(sensorID.Int64)
			r.SensorID = &id
		}
		if name.Valid {
			r.SensorName = &name.String
		}
		if lo.Valid {
			r.MinTemperature = &lo.Float64
		}
		if hi.Valid {
			r.MaxTemperature = &hi.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestReadings returns the newest reading of every identified sensor of a
// device, ordered by sensor id.
func (s *Store) LatestReadings(ctx context.Context, deviceID int64) ([]model.TemperatureReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+` FROM temperature_readings tr
		WHERE device_id = ? AND sensor_id IS NOT NULL
		AND id = (SELECT t2.id FROM temperature_readings t2
			WHERE t2.device_id = tr.device_id AND t2.sensor_id = tr.sensor_id
			ORDER BY t2.recorded_at DESC, t2.id DESC LIMIT 1)
		ORDER BY sensor_id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying latest readings: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

// TemperatureHistory returns every reading of a device recorded at or after
// since (unix millis), oldest first.
func (s *Store) TemperatureHistory(ctx context.Context, deviceID, since int64) ([]model.TemperatureReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+` FROM temperature_readings
		WHERE device_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC`, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("querying temperature history: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

// ReadingCounts returns, for every history period, how many identified
// sensor readings of a device fall inside it.
func (s *Store) ReadingCounts(ctx context.Context, deviceID int64, now time.Time) (map[string]int, error) {
	query := `SELECT `
	args := make([]any, 0, len(Periods)+1)
	for i, p := range Periods {
		if i > 0 {
			query += `, `
		}
		since, _ := PeriodStart(p, now)
		query += `COALESCE(SUM(CASE WHEN recorded_at >= ? THEN 1 ELSE 0 END), 0)`
		args = append(args, since)
	}
	query += ` FROM temperature_readings WHERE device_id = ? AND sensor_id IS NOT NULL`
	args = append(args, deviceID)

	counts := make([]int, len(Periods))
	dest := make([]any, len(Periods))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("counting readings: %w", err)
	}

	out := make(map[string]int, len(Periods))
	for i, p := range Periods {
		out[p] = counts[i]
	}
	return out, nil
}

// --- alerts ---

// InsertAlert logs an alert.
func (s *Store) InsertAlert(ctx context.Context, ts int64, alertType, credential, subject, message, severity string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_log (ts, alert_type, credential, subject, message, severity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts, alertType, credential, subject, message, severity,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// AlertEntry is one row of the alert log.
type AlertEntry struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"ts"`
	AlertType  string `json:"alert_type"`
	Credential string `json:"credential"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

// RecentAlerts returns the newest alert log entries, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, alert_type, credential, subject, message, severity
		FROM alert_log ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertEntry
	for rows.Next() {
		var a AlertEntry
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.AlertType, &a.Credential, &a.Subject, &a.Message, &a.Severity); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
