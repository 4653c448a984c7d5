// Package poller implements the Per-Device Poller: it owns one device's
// connection and schedules its reads, in the shape of the protocol
// gateway's service.devicePoller, generalized from a single ticker loop
// into the explicit Created/Starting/Connected/Reconnecting/Stopping/
// Stopped state machine and retry/backoff policy.
package poller

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/adapter"
	"github.com/nexus-edge/plc-fleet/internal/batch"
	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/metrics"
)

// DeviceRepository is the slice of the repository a Poller needs.
type DeviceRepository interface {
	LoadActiveRegisterConfigs(ctx context.Context, deviceID int64) ([]*domain.RegisterConfig, error)
	SetOnline(ctx context.Context, deviceID int64, online bool) error
	SetLastConnection(ctx context.Context, deviceID int64, ts time.Time) error
}

// ReadingRepository is the slice of the repository a Poller needs.
type ReadingRepository interface {
	AppendBatch(ctx context.Context, readings []*domain.Reading) error
}

// Config tunes a Poller's timing constants; New applies the spec's
// documented default to every field left at zero except CacheSize, which
// the Poller does not read.
type Config struct {
	IdleBackoff      time.Duration // no active register configs
	ReconnectBackoff time.Duration // failed connect
	Tick             time.Duration // loop cadence
	StopGrace        time.Duration // in-flight batch grace on stop()
	MaxFlushRetries  int
	CacheSize        int
	LogRingSize      int
}

func (c *Config) applyDefaults() {
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 5 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 2 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 500 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	if c.MaxFlushRetries <= 0 {
		c.MaxFlushRetries = 3
	}
	if c.LogRingSize <= 0 {
		c.LogRingSize = 200
	}
}

// Poller owns one device's adapter connection and register schedule.
type Poller struct {
	device  *domain.Device
	adapter adapter.Adapter
	devRepo DeviceRepository
	rdgRepo ReadingRepository
	metrics *metrics.Registry
	logger  zerolog.Logger
	cfg     Config

	state      atomic.Value // domain.PollerState
	running    atomic.Bool
	lastError  atomic.Value // string
	lastGood   atomic.Value // time.Time
	timeouts   atomic.Int64

	lastRead map[int64]time.Time // register id -> last read time

	cacheMu sync.RWMutex
	cache   map[string]domain.CacheEntry // register name -> entry

	logMu    sync.Mutex
	logRing  []string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Poller bound to one device and its adapter instance. The
// adapter must already be the one obtained from the Adapter Registry for
// device.Protocol; the Poller exclusively drives it from here on.
func New(device *domain.Device, ad adapter.Adapter, devRepo DeviceRepository, rdgRepo ReadingRepository, m *metrics.Registry, logger zerolog.Logger, cfg Config) *Poller {
	cfg.applyDefaults()
	p := &Poller{
		device:   device,
		adapter:  ad,
		devRepo:  devRepo,
		rdgRepo:  rdgRepo,
		metrics:  m,
		logger:   logger.With().Str("component", "poller").Int64("device_id", device.ID).Str("device", device.Name).Logger(),
		cfg:      cfg,
		lastRead: make(map[int64]time.Time),
		cache:    make(map[string]domain.CacheEntry),
	}
	p.state.Store(domain.PollerCreated)
	p.lastError.Store("")
	p.lastGood.Store(time.Time{})
	return p
}

// Start launches the scheduling loop in a goroutine and returns
// immediately; it is idempotent.
func (p *Poller) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.setState(domain.PollerStarting)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(ctx)
}

// Stop signals the loop to exit; it finishes the in-flight batch or
// StopGrace, whichever comes first, then disconnects. Blocks until the
// loop has returned or StopGrace plus one Tick has elapsed; in the latter
// case the loop is detached and may still be running when Stop returns.
func (p *Poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.setState(domain.PollerStopping)
	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-time.After(p.cfg.StopGrace + p.cfg.Tick):
		p.logf("stop_grace exceeded, force-detaching")
	}
	p.adapter.Disconnect(p.device)
	p.setState(domain.PollerStopped)
}

// IsRunning reports whether the scheduling loop is active.
func (p *Poller) IsRunning() bool { return p.running.Load() }

// LastStatus returns the Poller's current status snapshot.
func (p *Poller) LastStatus() domain.PollerStatus {
	lg, _ := p.lastGood.Load().(time.Time)
	return domain.PollerStatus{
		DeviceID:       p.device.ID,
		Running:        p.running.Load(),
		State:          p.state.Load().(domain.PollerState),
		LastError:      p.lastError.Load().(string),
		LastGoodReadTs: lg,
		TimeoutCount:   p.timeouts.Load(),
	}
}

// SnapshotCache returns a copy of the Poller's in-process last-value
// cache, keyed by register name.
func (p *Poller) SnapshotCache() map[string]domain.CacheEntry {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	out := make(map[string]domain.CacheEntry, len(p.cache))
	for k, v := range p.cache {
		out[k] = v
	}
	return out
}

func (p *Poller) setState(s domain.PollerState) {
	p.state.Store(s)
}

func (p *Poller) logf(msg string, fields ...any) {
	p.logMu.Lock()
	if len(p.logRing) == 0 || p.logRing[len(p.logRing)-1] != msg {
		p.logRing = append(p.logRing, msg)
		if len(p.logRing) > p.cfg.LogRingSize {
			p.logRing = p.logRing[len(p.logRing)-p.cfg.LogRingSize:]
		}
	}
	p.logMu.Unlock()
	p.logger.Debug().Msg(msg)
}

// run is the scheduling loop from SPEC_FULL.md §4.6, executed until
// cancelled or stopped.
func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	var pending []*domain.Reading

	for {
		select {
		case <-ctx.Done():
			p.flush(ctx, &pending)
			return
		case <-p.stopCh:
			p.flush(context.Background(), &pending)
			return
		default:
		}

		configs, err := p.devRepo.LoadActiveRegisterConfigs(ctx, p.device.ID)
		if err != nil {
			p.lastError.Store(err.Error())
			if !p.sleep(ctx, p.cfg.IdleBackoff) {
				return
			}
			continue
		}
		if len(configs) == 0 {
			if !p.sleep(ctx, p.cfg.IdleBackoff) {
				return
			}
			continue
		}

		batches := batch.Plan(configs)

		for _, b := range batches {
			if p.stopped() {
				break
			}
			if !p.batchNeedsRead(b) {
				continue
			}
			p.pollBatch(ctx, b, &pending)
		}

		p.flush(ctx, &pending)

		if !p.sleep(ctx, p.cfg.Tick) {
			return
		}
	}
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// sleep blocks for d or until cancellation/stop, returning false if the
// loop should exit.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (p *Poller) batchNeedsRead(b *batch.Batch) bool {
	now := time.Now()
	for _, c := range b.Members {
		last, ok := p.lastRead[c.ID]
		interval := c.EffectiveInterval(p.device.PollingInterval)
		if !ok || now.Sub(last) >= interval {
			return true
		}
	}
	return false
}

func (p *Poller) pollBatch(ctx context.Context, b *batch.Batch, pending *[]*domain.Reading) {
	if !p.adapter.IsConnected(p.device) {
		p.setState(domain.PollerReconnecting)
		connectCtx, cancel := context.WithTimeout(ctx, p.device.Timeout)
		ok := p.adapter.Connect(connectCtx, p.device, 0)
		cancel()
		if !ok {
			p.logf("connect failed")
			_ = p.devRepo.SetOnline(ctx, p.device.ID, false)
			p.sleep(ctx, p.cfg.ReconnectBackoff)
			return
		}
		p.setState(domain.PollerConnected)
		_ = p.devRepo.SetOnline(ctx, p.device.ID, true)
		_ = p.devRepo.SetLastConnection(ctx, p.device.ID, time.Now())
	}

	readCtx, cancel := context.WithTimeout(ctx, p.device.Timeout)
	raw := p.adapter.Read(readCtx, p.device, b.RegisterType, b.Start, b.Count)
	cancel()

	if raw == nil {
		p.logf("read returned nil, marking reconnecting")
		p.setState(domain.PollerReconnecting)
		p.timeouts.Add(1)
		if p.metrics != nil {
			p.metrics.IncPollError("read")
		}
		return
	}

	if p.state.Load().(domain.PollerState) == domain.PollerReconnecting {
		p.setState(domain.PollerConnected)
	}

	now := time.Now()
	for _, c := range b.Members {
		lo, hi := b.MemberOffset(c)
		if lo < 0 || hi > len(raw) {
			continue
		}
		words := raw[lo:hi]

		rd := domain.AcquireReading()
		rd.RegisterID = c.ID
		rd.Timestamp = now
		rd.Quality = domain.QualityGood
		rd.RawValue = decode(words, c.DataType, p.device.EffectiveWordOrder())
		rd.Scale(c.ScaleFactor, c.Offset)

		p.cacheMu.Lock()
		p.cache[c.Name] = domain.CacheEntry{Value: rd.ScaledValue, Timestamp: now, Address: c.Address}
		p.cacheMu.Unlock()

		*pending = append(*pending, rd)
		p.lastRead[c.ID] = now
	}

	p.lastGood.Store(now)
	if p.metrics != nil {
		p.metrics.IncPollCycles()
	}
}

// decode turns a word slice into a float64 raw value per the data type's
// wire representation. Integer types pass through; float32 decodes the
// device's declared word order; bool is non-zero.
func decode(words []uint16, dt domain.DataType, order domain.WordOrder) float64 {
	switch dt {
	case domain.DataTypeUint16:
		return float64(words[0])
	case domain.DataTypeInt16:
		return float64(int16(words[0]))
	case domain.DataTypeBool:
		if words[0] != 0 {
			return 1
		}
		return 0
	case domain.DataTypeFloat32:
		if len(words) < 2 {
			return 0
		}
		hi, lo := words[0], words[1]
		switch order {
		case domain.WordOrderLowFirst:
			hi, lo = lo, hi
		case domain.WordOrderHighSwap:
			hi = swapBytes(hi)
			lo = swapBytes(lo)
		case domain.WordOrderLowSwap:
			hi, lo = lo, hi
			hi = swapBytes(hi)
			lo = swapBytes(lo)
		}
		bits := uint32(hi)<<16 | uint32(lo)
		return float64(math.Float32frombits(bits))
	default:
		return 0
	}
}

func swapBytes(w uint16) uint16 {
	return w<<8 | w>>8
}

// flush drains pending into the ReadingRepository, retrying up to
// MaxFlushRetries times per SPEC_FULL.md §4.6 step 6 (backoff starting at
// 100ms and growing fourfold: 100ms/400ms/1600ms at the default of 3)
// before dropping the batch.
func (p *Poller) flush(ctx context.Context, pending *[]*domain.Reading) {
	if len(*pending) == 0 {
		return
	}
	batchToWrite := *pending
	*pending = nil

	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		err = p.rdgRepo.AppendBatch(ctx, batchToWrite)
		if err == nil || attempt >= p.cfg.MaxFlushRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 4
	}

	if err != nil {
		p.logf("dropping reading batch after retry exhaustion")
		p.lastError.Store(err.Error())
		if p.metrics != nil {
			p.metrics.IncWriteErrors()
		}
	} else if p.metrics != nil {
		p.metrics.AddReadingsWritten(int64(len(batchToWrite)))
		p.metrics.IncBatchesFlushed()
	}

	for _, rd := range batchToWrite {
		domain.ReleaseReading(rd)
	}
}
