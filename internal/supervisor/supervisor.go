// Package supervisor implements the fleet-level Supervisor from
// SPEC_FULL.md §4.7: it owns every device's Poller, keyed by device id, in
// the shape of the protocol gateway's service.PollingService — generalized
// from one shared worker pool into one Poller goroutine per device plus a
// crash-recreation tick.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/adapter"
	"github.com/nexus-edge/plc-fleet/internal/adapter/registry"
	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/metrics"
	"github.com/nexus-edge/plc-fleet/internal/poller"
)

// DeviceRepository is the slice of the repository the Supervisor needs to
// discover which devices should be running.
type DeviceRepository interface {
	ListActive(ctx context.Context) ([]*domain.Device, error)
	poller.DeviceRepository
}

// entry pairs a running Poller with the device it was built for. The
// stored device is not compared with later repository reads, so a
// device's config changing under a running Poller is not detected.
type entry struct {
	device *domain.Device
	poller *Poller
}

// Poller is the subset of *poller.Poller the Supervisor drives; declared
// as an interface so tests can substitute a fake.
type Poller interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	LastStatus() domain.PollerStatus
	SnapshotCache() map[string]domain.CacheEntry
}

// PollerFactory builds a Poller for one device; production code supplies
// poller.New bound to the real repositories and metrics registry.
type PollerFactory func(device *domain.Device, ad adapter.Adapter) Poller

// Supervisor owns the set of Pollers keyed by device id.
type Supervisor struct {
	devRepo    DeviceRepository
	registry   *registry.Registry
	newPoller  PollerFactory
	metrics    *metrics.Registry
	logger     zerolog.Logger

	tick            time.Duration
	shutdownDeadline time.Duration

	mu      sync.Mutex
	entries map[int64]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes the Supervisor's background tick and shutdown deadline.
type Config struct {
	Tick             time.Duration
	ShutdownDeadline time.Duration
}

// New builds a Supervisor. newPoller is called once per device start; the
// Supervisor never constructs adapters itself — it asks the Adapter
// Registry for one matching the device's declared protocol.
func New(devRepo DeviceRepository, reg *registry.Registry, newPoller PollerFactory, m *metrics.Registry, logger zerolog.Logger, cfg Config) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 10 * time.Second
	}
	return &Supervisor{
		devRepo:          devRepo,
		registry:         reg,
		newPoller:        newPoller,
		metrics:          m,
		logger:           logger.With().Str("component", "supervisor").Logger(),
		tick:             cfg.Tick,
		shutdownDeadline: cfg.ShutdownDeadline,
		entries:          make(map[int64]*entry),
	}
}

// Run starts the crash-recreation background tick; callers invoke this
// once after StartAllFromRepository. Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(s.ctx)
		}
	}
}

// StartAllFromRepository loads every active device and starts a Poller
// for each not already running.
func (s *Supervisor) StartAllFromRepository(ctx context.Context) error {
	devices, err := s.devRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		s.Start(ctx, d)
	}
	return nil
}

// Start is idempotent: starting an already-running device is a no-op.
func (s *Supervisor) Start(ctx context.Context, device *domain.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[device.ID]; ok && e.poller.IsRunning() {
		return
	}

	ad, err := s.registry.New(device.Protocol)
	if err != nil {
		s.logger.Error().Err(err).Int64("device_id", device.ID).Msg("no adapter for protocol, skipping")
		return
	}

	runCtx := ctx
	if s.ctx != nil {
		runCtx = s.ctx
	}

	p := s.newPoller(device, ad)
	s.entries[device.ID] = &entry{device: device, poller: p}
	p.Start(runCtx)

	if s.metrics != nil {
		s.metrics.SetPollersRunning(len(s.entries))
	}
	s.logger.Info().Int64("device_id", device.ID).Str("protocol", string(device.Protocol)).Msg("poller started")
}

// Stop is idempotent: stopping an unknown or already-stopped device is a
// no-op.
func (s *Supervisor) Stop(deviceID int64) {
	s.mu.Lock()
	e, ok := s.entries[deviceID]
	if ok {
		delete(s.entries, deviceID)
	}
	if s.metrics != nil {
		s.metrics.SetPollersRunning(len(s.entries))
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	e.poller.Stop()
	s.logger.Info().Int64("device_id", deviceID).Msg("poller stopped")
}

// StopAll performs a cooperative shutdown of every Poller within
// ShutdownDeadline; Pollers that do not exit in time are detached and
// logged (each individual Poller.Stop already enforces its own stop_grace,
// so this deadline is a fleet-wide upper bound on the sum of slow stops).
func (s *Supervisor) StopAll() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.entries = make(map[int64]*entry)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, e := range all {
			wg.Add(1)
			go func(e *entry) {
				defer wg.Done()
				e.poller.Stop()
			}(e)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("all pollers stopped")
	case <-time.After(s.shutdownDeadline):
		s.logger.Warn().Msg("shutdown deadline exceeded, detaching remaining pollers")
	}

	if s.metrics != nil {
		s.metrics.SetPollersRunning(0)
	}
}

// Status returns device_id -> status for every known Poller.
func (s *Supervisor) Status() map[int64]domain.PollerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]domain.PollerStatus, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.poller.LastStatus()
	}
	return out
}

// Snapshot returns a device's in-process register cache, or nil if no
// Poller is running for it.
func (s *Supervisor) Snapshot(deviceID int64) map[string]domain.CacheEntry {
	s.mu.Lock()
	e, ok := s.entries[deviceID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return e.poller.SnapshotCache()
}

// reconcile starts a Poller for any active device that has none (not
// tracked) or whose Poller has crashed (tracked but not running), per
// SPEC_FULL.md §4.7's crash-recreation semantics. Pollers of devices that
// are no longer active are left running.
func (s *Supervisor) reconcile(ctx context.Context) {
	devices, err := s.devRepo.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reconcile: failed to list active devices")
		return
	}

	active := make(map[int64]*domain.Device, len(devices))
	for _, d := range devices {
		active[d.ID] = d
	}

	s.mu.Lock()
	var toRestart []*domain.Device
	for id, d := range active {
		e, ok := s.entries[id]
		if !ok || !e.poller.IsRunning() {
			toRestart = append(toRestart, d)
		}
	}
	s.mu.Unlock()

	for _, d := range toRestart {
		s.logger.Warn().Int64("device_id", d.ID).Msg("poller missing or crashed, recreating")
		s.Start(ctx, d)
	}
}
