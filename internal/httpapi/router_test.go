package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

type fakeSupervisor struct {
	status  map[int64]domain.PollerStatus
	started []int64
	stopped []int64
}

func (f *fakeSupervisor) Start(ctx context.Context, device *domain.Device) {
	f.started = append(f.started, device.ID)
}
func (f *fakeSupervisor) Stop(deviceID int64) { f.stopped = append(f.stopped, deviceID) }
func (f *fakeSupervisor) Status() map[int64]domain.PollerStatus { return f.status }

type fakeDevices struct {
	byID map[int64]*domain.Device
}

func (f *fakeDevices) GetByID(id int64) (*domain.Device, bool) {
	d, ok := f.byID[id]
	return d, ok
}

type fakeDiscovery struct {
	runErr error
	status DiscoveryStatus
	logs   []string
}

func (f *fakeDiscovery) RunAsync(flags DiscoveryRunFlags) error { return f.runErr }
func (f *fakeDiscovery) Status() DiscoveryStatus                { return f.status }
func (f *fakeDiscovery) Logs() []string                         { return f.logs }

func TestHandleStart_UnknownDeviceIs404(t *testing.T) {
	sup := &fakeSupervisor{status: map[int64]domain.PollerStatus{}}
	devices := &fakeDevices{byID: map[int64]*domain.Device{}}
	s := New(sup, devices, &fakeDiscovery{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/supervisor/devices/99/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStart_AlreadyRunningIs409(t *testing.T) {
	sup := &fakeSupervisor{status: map[int64]domain.PollerStatus{1: {Running: true}}}
	devices := &fakeDevices{byID: map[int64]*domain.Device{1: {ID: 1}}}
	s := New(sup, devices, &fakeDiscovery{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/supervisor/devices/1/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStart_AcceptsAndStartsDevice(t *testing.T) {
	sup := &fakeSupervisor{status: map[int64]domain.PollerStatus{}}
	devices := &fakeDevices{byID: map[int64]*domain.Device{1: {ID: 1}}}
	s := New(sup, devices, &fakeDiscovery{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/supervisor/devices/1/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{1}, sup.started)
}

func TestHandleStop_NotRunningIs409(t *testing.T) {
	sup := &fakeSupervisor{status: map[int64]domain.PollerStatus{}}
	devices := &fakeDevices{byID: map[int64]*domain.Device{1: {ID: 1}}}
	s := New(sup, devices, &fakeDiscovery{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/supervisor/devices/1/stop", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDiscoveryRun_InvalidBodyIs400(t *testing.T) {
	s := New(&fakeSupervisor{status: map[int64]domain.PollerStatus{}}, &fakeDevices{byID: map[int64]*domain.Device{}}, &fakeDiscovery{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/discovery/run", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDiscoveryLogs_StreamsLines(t *testing.T) {
	disc := &fakeDiscovery{logs: []string{"line1", "line2"}}
	s := New(&fakeSupervisor{status: map[int64]domain.PollerStatus{}}, &fakeDevices{byID: map[int64]*domain.Device{}}, disc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/discovery/logs", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "line1\nline2\n", rec.Body.String())
}
