package importer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/repository/postgres"
)

type fakeRepo struct {
	existing map[string]*domain.Device
	upserts  []postgres.DiscoveredFields
}

func (f *fakeRepo) GetByIP(ctx context.Context, ip string) (*domain.Device, error) {
	return f.existing[ip], nil
}

func (f *fakeRepo) UpsertDiscovered(ctx context.Context, ip string, fields postgres.DiscoveredFields, overwriteExisting bool) (*domain.Device, error) {
	f.upserts = append(f.upserts, fields)
	return &domain.Device{ID: 1, IP: ip, Name: fields.Name}, nil
}

func modbusHost(ip string) *domain.DiscoveredHost {
	h := domain.NewDiscoveredHost(ip)
	h.Ports[502] = &domain.PortInfo{Port: 502, State: domain.PortOpen}
	h.Ports[80] = &domain.PortInfo{Port: 80, State: domain.PortOpen}
	return h
}

func TestImport_SavesNewPLCCandidate(t *testing.T) {
	repo := &fakeRepo{existing: map[string]*domain.Device{}}
	im := New(repo, zerolog.Nop())

	report := im.Import(context.Background(), []*domain.DiscoveredHost{modbusHost("10.0.0.5")}, Flags{})

	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 0, report.Skipped)
	require.Len(t, repo.upserts, 1)
	assert.Equal(t, domain.ProtocolModbusTCP, repo.upserts[0].Protocol)
}

func TestImport_UpdatesExistingDevice(t *testing.T) {
	repo := &fakeRepo{existing: map[string]*domain.Device{"10.0.0.5": {ID: 9, IP: "10.0.0.5"}}}
	im := New(repo, zerolog.Nop())

	report := im.Import(context.Background(), []*domain.DiscoveredHost{modbusHost("10.0.0.5")}, Flags{})

	assert.Equal(t, 0, report.Saved)
	assert.Equal(t, 1, report.Updated)
}

func TestImport_SkipsLowConfidenceNonIndustrialHost(t *testing.T) {
	repo := &fakeRepo{existing: map[string]*domain.Device{}}
	im := New(repo, zerolog.Nop())

	host := domain.NewDiscoveredHost("10.0.0.9")
	host.Ports[80] = &domain.PortInfo{Port: 80, State: domain.PortOpen}

	report := im.Import(context.Background(), []*domain.DiscoveredHost{host}, Flags{})

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, repo.upserts)
}

func TestImport_RespectsTargetInterfaces(t *testing.T) {
	repo := &fakeRepo{existing: map[string]*domain.Device{}}
	im := New(repo, zerolog.Nop())

	host := modbusHost("10.0.0.5")
	host.Interface = "eth1"

	report := im.Import(context.Background(), []*domain.DiscoveredHost{host}, Flags{TargetInterfaces: []string{"eth0"}})

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, repo.upserts)
}
