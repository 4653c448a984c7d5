// Package postgres implements the Device Repository and Reading
// Repository contracts (SPEC_FULL.md §4.3, §4.4) over a pgx connection
// pool, adapted from the ingestion service's TimescaleDB writer: pooled
// connections and COPY-protocol bulk writes with a pgx.Batch fallback. The
// repositories do not retry; a failed call returns its error to the caller.
package postgres

// Schema is the DDL this repository expects to already exist (migrations
// are out of scope for the core per SPEC_FULL.md §1 non-goals — "the
// persistent inventory store itself" is an external collaborator). It is
// embedded here only as documentation for operators provisioning a fresh
// database, not executed by this package.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
	id                  BIGSERIAL PRIMARY KEY,
	name                TEXT NOT NULL,
	mac                 TEXT,
	ip_address          TEXT NOT NULL UNIQUE,
	subnet              TEXT,
	ports               JSONB NOT NULL DEFAULT '[502]',
	protocol            TEXT NOT NULL DEFAULT 'modbus_tcp',
	tipo                TEXT,
	unit_id             SMALLINT NOT NULL DEFAULT 1,
	polling_interval_ms INTEGER NOT NULL DEFAULT 1000,
	timeout_ms          INTEGER NOT NULL DEFAULT 3000,
	word_order          TEXT,
	active              BOOLEAN NOT NULL DEFAULT true,
	online              BOOLEAN NOT NULL DEFAULT false,
	last_connection     TIMESTAMPTZ,
	manual              BOOLEAN NOT NULL DEFAULT false,
	info                JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS register_configs (
	id            BIGSERIAL PRIMARY KEY,
	device_id     BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	address       INTEGER NOT NULL,
	count         INTEGER NOT NULL,
	register_type TEXT NOT NULL,
	data_type     TEXT NOT NULL,
	scale_factor  DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	offset_value  DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	unit          TEXT,
	interval_ms   INTEGER,
	active        BOOLEAN NOT NULL DEFAULT true,
	UNIQUE (device_id, address, register_type)
);

CREATE TABLE IF NOT EXISTS readings (
	id            BIGSERIAL PRIMARY KEY,
	register_id   BIGINT NOT NULL REFERENCES register_configs(id),
	timestamp     TIMESTAMPTZ NOT NULL,
	raw_value     DOUBLE PRECISION NOT NULL,
	scaled_value  DOUBLE PRECISION NOT NULL,
	quality       TEXT NOT NULL DEFAULT 'good'
);

CREATE INDEX IF NOT EXISTS idx_readings_register_ts ON readings (register_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings (timestamp);
`
