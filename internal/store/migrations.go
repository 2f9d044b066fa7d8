package store

// schema is applied on every open. All timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          INTEGER NOT NULL DEFAULT 1,
	login            TEXT    NOT NULL,
	secret_encrypted TEXT    NOT NULL,
	label            TEXT    NOT NULL DEFAULT '',
	host_device_id   TEXT    NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	credential_id    INTEGER NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
	external_id      TEXT    NOT NULL,
	name             TEXT    NOT NULL DEFAULT '',
	model            TEXT    NOT NULL DEFAULT '',
	firmware_version TEXT    NOT NULL DEFAULT '',
	last_seen        INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	UNIQUE (credential_id, external_id)
);

CREATE TABLE IF NOT EXISTS partition_snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	partition_id   INTEGER NOT NULL,
	partition_name TEXT    NOT NULL,
	is_armed       INTEGER NOT NULL,
	is_ready       INTEGER NOT NULL,
	temperature    REAL,
	zones_json     TEXT    NOT NULL DEFAULT '[]',
	raw_json       TEXT,
	fetched_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_partition_snapshots_device_ts ON partition_snapshots(device_id, fetched_at);

CREATE TABLE IF NOT EXISTS temperature_readings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id       INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	sensor_id       INTEGER,
	sensor_name     TEXT,
	temperature     REAL    NOT NULL,
	min_temperature REAL,
	max_temperature REAL,
	recorded_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_temperature_readings_device_sensor_ts ON temperature_readings(device_id, sensor_id, recorded_at);

CREATE TABLE IF NOT EXISTS alert_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	alert_type TEXT    NOT NULL,
	credential TEXT    NOT NULL,
	subject    TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	severity   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_log_ts ON alert_log(ts);
`
