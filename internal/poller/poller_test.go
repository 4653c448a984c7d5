package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// fakeAdapter is a minimal in-memory adapter for exercising the Poller's
// scheduling loop without a real Modbus/OPC-UA/S7 transport.
type fakeAdapter struct {
	mu          sync.Mutex
	connected   bool
	connectSeq  []bool // results returned by successive Connect calls
	connectIdx  int
	readResults [][]uint16
	readIdx     int
	readDelay   time.Duration
}

func (f *fakeAdapter) Connect(ctx context.Context, d *domain.Device, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectIdx < len(f.connectSeq) {
		ok := f.connectSeq[f.connectIdx]
		f.connectIdx++
		f.connected = ok
		return ok
	}
	f.connected = true
	return true
}

func (f *fakeAdapter) Disconnect(d *domain.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeAdapter) IsConnected(d *domain.Device) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) Read(ctx context.Context, d *domain.Device, rt domain.RegisterType, address, count int) []uint16 {
	if f.readDelay > 0 {
		select {
		case <-time.After(f.readDelay):
		case <-ctx.Done():
			return nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readIdx < len(f.readResults) {
		r := f.readResults[f.readIdx]
		f.readIdx++
		return r
	}
	if len(f.readResults) > 0 {
		return f.readResults[len(f.readResults)-1]
	}
	return nil
}

func (f *fakeAdapter) Write(ctx context.Context, d *domain.Device, rt domain.RegisterType, address int, value uint16) bool {
	return true
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	configs []*domain.RegisterConfig
	online  bool
}

func (r *fakeDeviceRepo) LoadActiveRegisterConfigs(ctx context.Context, deviceID int64) ([]*domain.RegisterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configs, nil
}

func (r *fakeDeviceRepo) SetOnline(ctx context.Context, deviceID int64, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
	return nil
}

func (r *fakeDeviceRepo) SetLastConnection(ctx context.Context, deviceID int64, ts time.Time) error {
	return nil
}

type fakeReadingRepo struct {
	mu       sync.Mutex
	appended []*domain.Reading
}

func (r *fakeReadingRepo) AppendBatch(ctx context.Context, readings []*domain.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, readings...)
	return nil
}

func (r *fakeReadingRepo) snapshot() []*domain.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Reading, len(r.appended))
	copy(out, r.appended)
	return out
}

func testDevice() *domain.Device {
	return &domain.Device{
		ID:              1,
		Name:            "test-plc",
		IP:              "10.0.0.5",
		Protocol:        domain.ProtocolModbusTCP,
		PollingInterval: 50 * time.Millisecond,
		Timeout:         1 * time.Second,
		Active:          true,
	}
}

func TestPoller_SingleRead(t *testing.T) {
	device := testDevice()
	cfg := &domain.RegisterConfig{
		ID: 10, DeviceID: 1, Name: "temp", Address: 0, Count: 1,
		RegisterType: domain.RegisterHolding, DataType: domain.DataTypeUint16,
		ScaleFactor: 2.0, Offset: -1.0, Active: true,
	}

	ad := &fakeAdapter{connectSeq: []bool{true}, readResults: [][]uint16{{42}}}
	devRepo := &fakeDeviceRepo{configs: []*domain.RegisterConfig{cfg}}
	rdgRepo := &fakeReadingRepo{}

	p := New(device, ad, devRepo, rdgRepo, nil, zerolog.Nop(), Config{Tick: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	p.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	p.Stop()

	readings := rdgRepo.snapshot()
	require.NotEmpty(t, readings)
	assert.Equal(t, float64(42), readings[0].RawValue)
	assert.Equal(t, 83.0, readings[0].ScaledValue)
	assert.Equal(t, domain.QualityGood, readings[0].Quality)

	cache := p.SnapshotCache()
	entry, ok := cache["temp"]
	require.True(t, ok)
	assert.Equal(t, 83.0, entry.Value)
	assert.Equal(t, 0, entry.Address)
}

func TestPoller_Reconnect(t *testing.T) {
	device := testDevice()
	cfg := &domain.RegisterConfig{
		ID: 11, DeviceID: 1, Name: "pressure", Address: 0, Count: 1,
		RegisterType: domain.RegisterHolding, DataType: domain.DataTypeUint16,
		ScaleFactor: 1, Active: true,
	}

	ad := &fakeAdapter{connectSeq: []bool{false, false, true}, readResults: [][]uint16{{7}}}
	devRepo := &fakeDeviceRepo{configs: []*domain.RegisterConfig{cfg}}
	rdgRepo := &fakeReadingRepo{}

	p := New(device, ad, devRepo, rdgRepo, nil, zerolog.Nop(), Config{
		Tick:             20 * time.Millisecond,
		ReconnectBackoff: 150 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.Start(ctx)

	require.Eventually(t, func() bool {
		return len(rdgRepo.snapshot()) > 0
	}, 5*time.Second, 20*time.Millisecond)

	p.Stop()
	assert.Equal(t, domain.PollerStopped, p.LastStatus().State)
}

func TestPoller_StopIsResponsiveUnderSlowRead(t *testing.T) {
	device := testDevice()
	cfg := &domain.RegisterConfig{
		ID: 12, DeviceID: 1, Name: "slow", Address: 0, Count: 1,
		RegisterType: domain.RegisterHolding, DataType: domain.DataTypeUint16,
		ScaleFactor: 1, Active: true,
	}
	ad := &fakeAdapter{connectSeq: []bool{true}, readResults: [][]uint16{{1}}, readDelay: 30 * time.Second}
	devRepo := &fakeDeviceRepo{configs: []*domain.RegisterConfig{cfg}}
	rdgRepo := &fakeReadingRepo{}

	p := New(device, ad, devRepo, rdgRepo, nil, zerolog.Nop(), Config{
		Tick:      10 * time.Millisecond,
		StopGrace: 200 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within bound despite a 30s in-flight read")
	}
}
