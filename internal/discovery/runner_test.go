package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/importer"
)

type fakeImporter struct {
	report importer.Report
	called int
}

func (f *fakeImporter) Import(ctx context.Context, hosts []*domain.DiscoveredHost, flags importer.Flags) importer.Report {
	f.called++
	return f.report
}

type fakeDiscoverer struct {
	hosts []*domain.DiscoveredHost
	delay time.Duration
	err   error
}

func (f *fakeDiscoverer) Run(ctx context.Context) ([]*domain.DiscoveredHost, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.hosts, f.err
}

func TestRunner_RunAsyncRejectsConcurrentRun(t *testing.T) {
	p := &fakeDiscoverer{delay: 200 * time.Millisecond}
	im := &fakeImporter{}
	r := NewRunner(p, im, zerolog.Nop())

	require.NoError(t, r.RunAsync(RunFlags{}))
	err := r.RunAsync(RunFlags{})
	assert.Error(t, err)
}

func TestRunner_StatusReflectsCompletion(t *testing.T) {
	p := &fakeDiscoverer{hosts: []*domain.DiscoveredHost{domain.NewDiscoveredHost("10.0.0.5")}}
	im := &fakeImporter{}
	r := NewRunner(p, im, zerolog.Nop())

	require.NoError(t, r.RunAsync(RunFlags{}))

	require.Eventually(t, func() bool {
		return !r.Status().Running
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, im.called)
	assert.Equal(t, 1, r.Status().ResultCount)
	assert.NotEmpty(t, r.Logs())
}

func TestRunner_PipelineFailureLogsAndFinishes(t *testing.T) {
	p := &fakeDiscoverer{err: assert.AnError}
	im := &fakeImporter{}
	r := NewRunner(p, im, zerolog.Nop())

	require.NoError(t, r.RunAsync(RunFlags{}))

	require.Eventually(t, func() bool {
		return !r.Status().Running
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, im.called)
	assert.Equal(t, 0, r.Status().ResultCount)
}
