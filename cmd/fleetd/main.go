// Command fleetd is the entry point for the PLC fleet supervisor daemon.
// It composes the Adapter Registry, Supervisor, Discovery Pipeline, and
// HTTP control surface, in the shape of the protocol gateway's
// cmd/gateway/main.go lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/plc-fleet/internal/adapter"
	"github.com/nexus-edge/plc-fleet/internal/adapter/modbus"
	"github.com/nexus-edge/plc-fleet/internal/adapter/opcua"
	"github.com/nexus-edge/plc-fleet/internal/adapter/registry"
	"github.com/nexus-edge/plc-fleet/internal/adapter/s7"
	"github.com/nexus-edge/plc-fleet/internal/config"
	"github.com/nexus-edge/plc-fleet/internal/discovery"
	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/health"
	"github.com/nexus-edge/plc-fleet/internal/httpapi"
	"github.com/nexus-edge/plc-fleet/internal/importer"
	"github.com/nexus-edge/plc-fleet/internal/metrics"
	"github.com/nexus-edge/plc-fleet/internal/poller"
	"github.com/nexus-edge/plc-fleet/internal/repository/postgres"
	"github.com/nexus-edge/plc-fleet/internal/supervisor"
	"github.com/nexus-edge/plc-fleet/internal/telemetry"
	"github.com/nexus-edge/plc-fleet/pkg/logging"
	"github.com/rs/zerolog"
)

const serviceVersion = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("FLEETD_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: failed to load configuration: %v\n", err)
		return 64
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Service.Name, serviceVersion)
	logger.Info().Str("env", cfg.Service.Environment).Msg("starting fleetd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsRegistry := metrics.NewRegistry()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		PoolSize:    cfg.Database.PoolSize,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to postgres")
		return 74
	}
	defer pool.Close()

	deviceRepo := postgres.NewDeviceRepository(pool, logger)
	readingRepo := postgres.NewReadingRepository(pool, logger)

	reg := registry.New()
	reg.Register(domain.ProtocolModbusTCP, func() adapter.Adapter { return modbus.New(logger) })
	reg.Register(domain.ProtocolOPCUA, func() adapter.Adapter { return opcua.New(logger) })
	reg.Register(domain.ProtocolS7, func() adapter.Adapter { return s7.New(logger) })
	reg.Seal()

	telemetryPub := telemetry.NewPublisher(telemetry.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TopicRoot: cfg.MQTT.TopicRoot,
		QoS:       cfg.MQTT.QoS,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, logger)
	telemetryPub.Connect(ctx)
	defer telemetryPub.Disconnect()

	newPoller := func(device *domain.Device, ad adapter.Adapter) supervisor.Poller {
		p := poller.New(device, ad, deviceRepo, readingRepo, metricsRegistry, logger, poller.Config{
			CacheSize: cfg.Polling.CacheSize,
		})
		return p
	}

	sup := supervisor.New(deviceRepo, reg, newPoller, metricsRegistry, logger, supervisor.Config{
		Tick:             cfg.Polling.SupervisorTick,
		ShutdownDeadline: cfg.Polling.ShutdownTimeout,
	})

	if err := sup.StartAllFromRepository(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start active devices from repository")
	}
	go sup.Run(ctx)

	devices := newDeviceCache(deviceRepo, logger)
	go devices.run(ctx, cfg.Polling.SupervisorTick)

	deviceImporter := importer.New(deviceRepo, logger)
	pipeline := discovery.New(discovery.Config{
		BasePassive: cfg.Discovery.PassiveWindow,
		DeepScan:    cfg.Discovery.DeepScan,
		NmapPath:    cfg.Discovery.NmapPath,
	}, metricsRegistry, logger)
	discoveryRunner := discovery.NewRunner(pipeline, deviceImporter, logger)

	if cfg.Discovery.Enabled {
		go runScheduledDiscovery(ctx, discoveryRunner, cfg, logger)
	}

	go runRetention(ctx, readingRepo, cfg, logger)

	healthChecker := health.NewChecker(logger)
	healthChecker.AddCheck("postgres", postgres.Health{Pool: pool})

	apiServer := httpapi.New(discoveryAPISupervisor{sup}, devices, discoveryAPIAdapter{discoveryRunner}, logger)
	router := apiServer.Router()
	router.HandleFunc("/health", healthChecker.HealthHandler)
	router.HandleFunc("/health/live", healthChecker.LiveHandler)
	router.HandleFunc("/health/ready", healthChecker.HealthHandler)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("starting http control surface")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Polling.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	sup.StopAll()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}

	cancel()
	logger.Info().Msg("fleetd shutdown complete")

	if sig == syscall.SIGINT {
		return 130
	}
	return 0
}

// runScheduledDiscovery fires an automatic discovery run on cfg.Discovery.Schedule,
// independent of operator-triggered runs through POST /discovery/run.
func runScheduledDiscovery(ctx context.Context, runner *discovery.Runner, cfg *config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.Discovery.Schedule)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flags := discovery.RunFlags{
				Interfaces:        cfg.Discovery.Interfaces,
				AutoActivate:      cfg.Discovery.ImportOnFinish,
				OverwriteExisting: false,
			}
			if err := runner.RunAsync(flags); err != nil {
				logger.Warn().Err(err).Msg("scheduled discovery run skipped")
			}
		}
	}
}

// runRetention prunes readings older than cfg.Retention.Days on
// cfg.Retention.Schedule.
func runRetention(ctx context.Context, readingRepo *postgres.ReadingRepository, cfg *config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.Retention.Schedule)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -cfg.Retention.Days)
			n, err := readingRepo.PruneBefore(ctx, cutoff)
			if err != nil {
				logger.Error().Err(err).Msg("retention prune failed")
				continue
			}
			logger.Info().Int64("rows_pruned", n).Time("cutoff", cutoff).Msg("retention prune complete")
		}
	}
}

// discoveryAPISupervisor adapts *supervisor.Supervisor to httpapi.SupervisorControl.
type discoveryAPISupervisor struct {
	sup *supervisor.Supervisor
}

func (a discoveryAPISupervisor) Start(ctx context.Context, device *domain.Device) { a.sup.Start(ctx, device) }
func (a discoveryAPISupervisor) Stop(deviceID int64)                             { a.sup.Stop(deviceID) }
func (a discoveryAPISupervisor) Status() map[int64]domain.PollerStatus            { return a.sup.Status() }

// discoveryAPIAdapter adapts *discovery.Runner to httpapi.DiscoveryControl.
type discoveryAPIAdapter struct {
	runner *discovery.Runner
}

func (a discoveryAPIAdapter) RunAsync(flags httpapi.DiscoveryRunFlags) error {
	return a.runner.RunAsync(discovery.RunFlags{
		Interfaces:        flags.Interfaces,
		AutoActivate:      flags.AutoActivate,
		OverwriteExisting: flags.OverwriteExisting,
	})
}

func (a discoveryAPIAdapter) Status() httpapi.DiscoveryStatus {
	s := a.runner.Status()
	return httpapi.DiscoveryStatus{
		RunID:          s.RunID,
		Running:        s.Running,
		StartedAt:      s.StartedAt,
		LastFinishedAt: s.LastFinishedAt,
		ResultCount:    s.ResultCount,
	}
}

func (a discoveryAPIAdapter) Logs() []string { return a.runner.Logs() }
