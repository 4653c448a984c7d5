package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// DeviceRepository implements SPEC_FULL.md §4.3 over a pgx pool.
type DeviceRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDeviceRepository wraps an already-connected pool.
func NewDeviceRepository(pool *pgxpool.Pool, logger zerolog.Logger) *DeviceRepository {
	return &DeviceRepository{pool: pool, logger: logger.With().Str("component", "device-repository").Logger()}
}

// ListActive returns all devices with active=true.
func (r *DeviceRepository) ListActive(ctx context.Context) ([]*domain.Device, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, mac, ip_address, subnet, ports, protocol, tipo, unit_id,
		       polling_interval_ms, timeout_ms, word_order, active, online,
		       last_connection, manual, info, created_at
		FROM devices WHERE active = true`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list_active", Err: err}
	}
	defer rows.Close()

	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list_active", Err: err}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetByIP returns the device at ip, or nil if none exists. Lookup is
// O(index) via the unique index on ip_address.
func (r *DeviceRepository) GetByIP(ctx context.Context, ip string) (*domain.Device, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, mac, ip_address, subnet, ports, protocol, tipo, unit_id,
		       polling_interval_ms, timeout_ms, word_order, active, online,
		       last_connection, manual, info, created_at
		FROM devices WHERE ip_address = $1`, ip)

	d, err := scanDevice(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "get_by_ip", Err: err}
	}
	return d, nil
}

// DiscoveredFields is the subset of a Device discovery may propose.
type DiscoveredFields struct {
	Name            string
	MAC             string
	Subnet          string
	Ports           []int
	Protocol        domain.Protocol
	Kind            string
	Online          bool
	LastConnection  time.Time
	PollingInterval time.Duration
	Timeout         time.Duration
	UnitID          uint8
}

// UpsertDiscovered creates the device if ip is unseen, else merges
// according to the manual-protection rule in SPEC_FULL.md §4.3: mac,
// subnet, ports, protocol, tipo, online, last_connection update only when
// the stored row isn't manual or overwriteExisting is set; name, active,
// polling_interval, timeout, unit_id are preserved unless overwriteExisting
// is set, regardless of manual.
func (r *DeviceRepository) UpsertDiscovered(ctx context.Context, ip string, f DiscoveredFields, overwriteExisting bool) (*domain.Device, error) {
	ports, err := json.Marshal(f.Ports)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "upsert_discovered", Err: err}
	}

	pollingMs := int64(f.PollingInterval / time.Millisecond)
	if pollingMs == 0 {
		pollingMs = 1000
	}
	timeoutMs := int64(f.Timeout / time.Millisecond)
	if timeoutMs == 0 {
		timeoutMs = 3000
	}
	unitID := f.UnitID
	if unitID == 0 {
		unitID = 1
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO devices (
			name, ip_address, mac, subnet, ports, protocol, tipo, unit_id,
			polling_interval_ms, timeout_ms, active, online, last_connection, manual
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,true,$11,$12,false)
		ON CONFLICT (ip_address) DO UPDATE SET
			mac             = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.mac             ELSE devices.mac END,
			subnet          = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.subnet          ELSE devices.subnet END,
			ports           = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.ports           ELSE devices.ports END,
			protocol        = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.protocol        ELSE devices.protocol END,
			tipo            = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.tipo            ELSE devices.tipo END,
			online          = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.online          ELSE devices.online END,
			last_connection = CASE WHEN NOT devices.manual OR $13 THEN EXCLUDED.last_connection ELSE devices.last_connection END,
			name                = CASE WHEN $13 THEN EXCLUDED.name                ELSE devices.name END,
			active              = CASE WHEN $13 THEN EXCLUDED.active              ELSE devices.active END,
			polling_interval_ms = CASE WHEN $13 THEN EXCLUDED.polling_interval_ms ELSE devices.polling_interval_ms END,
			timeout_ms          = CASE WHEN $13 THEN EXCLUDED.timeout_ms          ELSE devices.timeout_ms END,
			unit_id             = CASE WHEN $13 THEN EXCLUDED.unit_id             ELSE devices.unit_id END
		RETURNING id, name, mac, ip_address, subnet, ports, protocol, tipo, unit_id,
		          polling_interval_ms, timeout_ms, word_order, active, online,
		          last_connection, manual, info, created_at`,
		f.Name, ip, nullIfEmpty(f.MAC), nullIfEmpty(f.Subnet), ports, f.Protocol, nullIfEmpty(f.Kind), unitID,
		pollingMs, timeoutMs, f.Online, nullIfZeroTime(f.LastConnection), overwriteExisting,
	)

	d, err := scanDevice(row)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "upsert_discovered", Err: err}
	}
	return d, nil
}

// UpsertOperator creates or fully replaces a device row via the operator
// path, bypassing manual protection entirely — the operator always wins.
func (r *DeviceRepository) UpsertOperator(ctx context.Context, d *domain.Device) (*domain.Device, error) {
	ports, err := json.Marshal(d.Ports)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "upsert_operator", Err: err}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO devices (
			name, ip_address, mac, subnet, ports, protocol, tipo, unit_id,
			polling_interval_ms, timeout_ms, word_order, active, online,
			last_connection, manual
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (ip_address) DO UPDATE SET
			name = EXCLUDED.name, mac = EXCLUDED.mac, subnet = EXCLUDED.subnet,
			ports = EXCLUDED.ports, protocol = EXCLUDED.protocol, tipo = EXCLUDED.tipo,
			unit_id = EXCLUDED.unit_id, polling_interval_ms = EXCLUDED.polling_interval_ms,
			timeout_ms = EXCLUDED.timeout_ms, word_order = EXCLUDED.word_order,
			active = EXCLUDED.active, manual = EXCLUDED.manual
		RETURNING id, name, mac, ip_address, subnet, ports, protocol, tipo, unit_id,
		          polling_interval_ms, timeout_ms, word_order, active, online,
		          last_connection, manual, info, created_at`,
		d.Name, d.IP, nullIfEmpty(d.MAC), nullIfEmpty(d.Subnet), ports, d.Protocol, nullIfEmpty(d.Kind),
		d.UnitID, int64(d.PollingInterval/time.Millisecond), int64(d.Timeout/time.Millisecond),
		nullIfEmpty(string(d.WordOrder)), d.Active, d.Online, nullIfZeroTime(d.LastConnection), true,
	)

	out, err := scanDevice(row)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "upsert_operator", Err: err}
	}
	return out, nil
}

// SetOnline updates a device's online flag; used by Pollers on connect/
// disconnect transitions.
func (r *DeviceRepository) SetOnline(ctx context.Context, id int64, online bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET online = $1 WHERE id = $2`, online, id)
	if err != nil {
		return &domain.PersistenceError{Op: "set_online", Err: err}
	}
	return nil
}

// SetLastConnection records the time of the most recent successful connect.
func (r *DeviceRepository) SetLastConnection(ctx context.Context, id int64, ts time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET last_connection = $1 WHERE id = $2`, ts, id)
	if err != nil {
		return &domain.PersistenceError{Op: "set_last_connection", Err: err}
	}
	return nil
}

// LoadActiveRegisterConfigs returns every active RegisterConfig for a
// device.
func (r *DeviceRepository) LoadActiveRegisterConfigs(ctx context.Context, deviceID int64) ([]*domain.RegisterConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, device_id, name, address, count, register_type, data_type,
		       scale_factor, offset_value, unit, interval_ms, active
		FROM register_configs WHERE device_id = $1 AND active = true`, deviceID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load_active_register_configs", Err: err}
	}
	defer rows.Close()

	var out []*domain.RegisterConfig
	for rows.Next() {
		c := &domain.RegisterConfig{}
		var intervalMs *int64
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Name, &c.Address, &c.Count,
			&c.RegisterType, &c.DataType, &c.ScaleFactor, &c.Offset, &c.Unit,
			&intervalMs, &c.Active); err != nil {
			return nil, &domain.PersistenceError{Op: "load_active_register_configs", Err: err}
		}
		if intervalMs != nil {
			c.Interval = time.Duration(*intervalMs) * time.Millisecond
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertRegisterConfig creates or replaces one RegisterConfig row, keyed
// by (device_id, address, register_type). Used by the one-time YAML
// register-config importer — the database is the sole source of truth at
// poll time, so bulk-loading is a separate administrative path rather
// than something the Poller does implicitly.
func (r *DeviceRepository) UpsertRegisterConfig(ctx context.Context, c *domain.RegisterConfig) error {
	var intervalMs *int64
	if c.Interval > 0 {
		ms := int64(c.Interval / time.Millisecond)
		intervalMs = &ms
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO register_configs (
			device_id, name, address, count, register_type, data_type,
			scale_factor, offset_value, unit, interval_ms, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (device_id, address, register_type) DO UPDATE SET
			name         = EXCLUDED.name,
			count        = EXCLUDED.count,
			data_type    = EXCLUDED.data_type,
			scale_factor = EXCLUDED.scale_factor,
			offset_value = EXCLUDED.offset_value,
			unit         = EXCLUDED.unit,
			interval_ms  = EXCLUDED.interval_ms,
			active       = EXCLUDED.active`,
		c.DeviceID, c.Name, c.Address, c.Count, c.RegisterType, c.DataType,
		c.ScaleFactor, c.Offset, nullIfEmpty(c.Unit), intervalMs, c.Active,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "upsert_register_config", Err: err}
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDevice(row scannable) (*domain.Device, error) {
	d := &domain.Device{}
	var mac, subnet, kind, wordOrder *string
	var ports json.RawMessage
	var unitID int16
	var pollingMs, timeoutMs int64
	var lastConnection *time.Time
	var info json.RawMessage

	if err := row.Scan(&d.ID, &d.Name, &mac, &d.IP, &subnet, &ports, &d.Protocol, &kind,
		&unitID, &pollingMs, &timeoutMs, &wordOrder, &d.Active, &d.Online,
		&lastConnection, &d.Manual, &info, &d.CreatedAt); err != nil {
		return nil, err
	}

	if mac != nil {
		d.MAC = *mac
	}
	if subnet != nil {
		d.Subnet = *subnet
	}
	if kind != nil {
		d.Kind = *kind
	}
	if wordOrder != nil {
		d.WordOrder = domain.WordOrder(*wordOrder)
	}
	if lastConnection != nil {
		d.LastConnection = *lastConnection
	}
	d.UnitID = uint8(unitID)
	d.PollingInterval = time.Duration(pollingMs) * time.Millisecond
	d.Timeout = time.Duration(timeoutMs) * time.Millisecond
	d.Info = info
	if len(ports) > 0 {
		_ = json.Unmarshal(ports, &d.Ports)
	}
	return d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
