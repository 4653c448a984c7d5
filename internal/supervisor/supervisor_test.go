package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/adapter"
	"github.com/nexus-edge/plc-fleet/internal/adapter/registry"
	"github.com/nexus-edge/plc-fleet/internal/domain"
)

type fakePoller struct {
	running atomic.Bool
	stopped atomic.Bool
}

func (f *fakePoller) Start(ctx context.Context)                { f.running.Store(true) }
func (f *fakePoller) Stop()                                    { f.running.Store(false); f.stopped.Store(true) }
func (f *fakePoller) IsRunning() bool                           { return f.running.Load() }
func (f *fakePoller) LastStatus() domain.PollerStatus {
	state := domain.PollerStopped
	if f.running.Load() {
		state = domain.PollerConnected
	}
	return domain.PollerStatus{Running: f.running.Load(), State: state}
}
func (f *fakePoller) SnapshotCache() map[string]domain.CacheEntry { return map[string]domain.CacheEntry{} }

type noopAdapter struct{}

func (noopAdapter) Connect(ctx context.Context, d *domain.Device, port int) bool { return true }
func (noopAdapter) Disconnect(d *domain.Device)                                 {}
func (noopAdapter) IsConnected(d *domain.Device) bool                           { return true }
func (noopAdapter) Read(ctx context.Context, d *domain.Device, rt domain.RegisterType, address, count int) []uint16 {
	return nil
}
func (noopAdapter) Write(ctx context.Context, d *domain.Device, rt domain.RegisterType, address int, value uint16) bool {
	return true
}

type fakeDeviceRepo struct {
	devices []*domain.Device
}

func (r *fakeDeviceRepo) ListActive(ctx context.Context) ([]*domain.Device, error) {
	return r.devices, nil
}
func (r *fakeDeviceRepo) LoadActiveRegisterConfigs(ctx context.Context, deviceID int64) ([]*domain.RegisterConfig, error) {
	return nil, nil
}
func (r *fakeDeviceRepo) SetOnline(ctx context.Context, deviceID int64, online bool) error { return nil }
func (r *fakeDeviceRepo) SetLastConnection(ctx context.Context, deviceID int64, ts time.Time) error {
	return nil
}

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(domain.ProtocolModbusTCP, func() adapter.Adapter { return noopAdapter{} })
	reg.Seal()
	return reg
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	repo := &fakeDeviceRepo{}
	reg := newTestRegistry()

	var built []*fakePoller
	factory := func(device *domain.Device, ad adapter.Adapter) Poller {
		p := &fakePoller{}
		built = append(built, p)
		return p
	}

	sup := New(repo, reg, factory, nil, zerolog.Nop(), Config{})
	device := &domain.Device{ID: 1, Protocol: domain.ProtocolModbusTCP, Active: true}

	sup.Start(context.Background(), device)
	sup.Start(context.Background(), device)

	assert.Len(t, built, 1, "starting an already-running device must not build a second poller")
}

func TestSupervisor_StopAllRespectsDeadline(t *testing.T) {
	repo := &fakeDeviceRepo{}
	reg := newTestRegistry()

	factory := func(device *domain.Device, ad adapter.Adapter) Poller {
		return &fakePoller{}
	}

	sup := New(repo, reg, factory, nil, zerolog.Nop(), Config{ShutdownDeadline: 200 * time.Millisecond})
	for i := int64(1); i <= 5; i++ {
		sup.Start(context.Background(), &domain.Device{ID: i, Protocol: domain.ProtocolModbusTCP, Active: true})
	}

	done := make(chan struct{})
	go func() {
		sup.StopAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return within a bounded time")
	}

	require.Empty(t, sup.Status())
}

func TestSupervisor_StatusReportsEveryDevice(t *testing.T) {
	repo := &fakeDeviceRepo{}
	reg := newTestRegistry()
	factory := func(device *domain.Device, ad adapter.Adapter) Poller { return &fakePoller{} }

	sup := New(repo, reg, factory, nil, zerolog.Nop(), Config{})
	sup.Start(context.Background(), &domain.Device{ID: 7, Protocol: domain.ProtocolModbusTCP, Active: true})

	status := sup.Status()
	require.Contains(t, status, int64(7))
	assert.True(t, status[7].Running)
}
