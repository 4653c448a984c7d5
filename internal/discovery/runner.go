package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/importer"
)

// RunFlags mirrors the HTTP control surface's POST /discovery/run body.
type RunFlags struct {
	Interfaces        []string
	AutoActivate      bool
	OverwriteExisting bool
}

// RunStatus mirrors GET /discovery/status. RunID identifies one run
// across its log lines for operators correlating a scheduled run against
// an operator-triggered one.
type RunStatus struct {
	RunID          string
	Running        bool
	StartedAt      time.Time
	LastFinishedAt time.Time
	ResultCount    int
}

// Importer is the slice of *importer.Importer the Runner needs.
type Importer interface {
	Import(ctx context.Context, hosts []*domain.DiscoveredHost, flags importer.Flags) importer.Report
}

// Discoverer is the slice of *Pipeline the Runner needs, declared as an
// interface so tests can substitute a fake instead of driving real
// network I/O.
type Discoverer interface {
	Run(ctx context.Context) ([]*domain.DiscoveredHost, error)
}

// Runner wraps a Discoverer with the async run-once-at-a-time semantics
// the HTTP control surface expects, plus a capped in-memory log of the
// current run (mirroring the Poller's log ring).
type Runner struct {
	pipeline Discoverer
	importer Importer
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	status  RunStatus
	logs    []string
}

// NewRunner builds a Runner around an already-configured Discoverer
// (production code passes a *Pipeline).
func NewRunner(pipeline Discoverer, im Importer, logger zerolog.Logger) *Runner {
	return &Runner{pipeline: pipeline, importer: im, logger: logger.With().Str("component", "discovery-runner").Logger()}
}

// RunAsync starts a discovery run in the background; returns an error if a
// run is already in progress.
func (r *Runner) RunAsync(flags RunFlags) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errAlreadyRunning
	}
	runID := uuid.NewString()
	r.running = true
	r.status = RunStatus{RunID: runID, Running: true, StartedAt: time.Now()}
	r.logs = nil
	r.mu.Unlock()

	go r.run(runID, flags)
	return nil
}

func (r *Runner) run(runID string, flags RunFlags) {
	ctx := context.Background()
	r.appendLog("discovery run " + runID + " started")

	hosts, err := r.pipeline.Run(ctx)
	if err != nil {
		r.appendLog("pipeline failed: " + err.Error())
		r.finish(0)
		return
	}
	r.appendLog("pipeline found " + itoa(len(hosts)) + " hosts")

	report := r.importer.Import(ctx, hosts, importer.Flags{
		AutoActivate:      flags.AutoActivate,
		OverwriteExisting: flags.OverwriteExisting,
		TargetInterfaces:  flags.Interfaces,
	})
	r.appendLog("import: saved=" + itoa(report.Saved) + " updated=" + itoa(report.Updated) + " skipped=" + itoa(report.Skipped) + " errors=" + itoa(report.Errors))

	r.finish(len(hosts))
}

func (r *Runner) finish(resultCount int) {
	r.mu.Lock()
	r.running = false
	r.status.Running = false
	r.status.LastFinishedAt = time.Now()
	r.status.ResultCount = resultCount
	r.mu.Unlock()
}

func (r *Runner) appendLog(line string) {
	r.mu.Lock()
	r.logs = append(r.logs, line)
	if len(r.logs) > 500 {
		r.logs = r.logs[len(r.logs)-500:]
	}
	r.mu.Unlock()
	r.logger.Info().Msg(line)
}

// Status returns the current/most recent run's status.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Logs returns a snapshot of the current run's log lines.
func (r *Runner) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logs))
	copy(out, r.logs)
	return out
}

var errAlreadyRunning = runErr("discovery: a run is already in progress")

type runErr string

func (e runErr) Error() string { return string(e) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
