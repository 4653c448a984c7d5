// Command registerimport bulk-loads register-config definitions from a
// YAML file into the devices/register_configs tables, a one-time
// administrative path separate from the daemon's runtime read path (the
// database, not the YAML file, is the source of truth once loaded).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/repository/postgres"
	"github.com/nexus-edge/plc-fleet/pkg/logging"
)

// registerFile is the YAML shape operators author: one entry per device
// IP, with a list of registers to declare for it.
type registerFile struct {
	Devices []deviceRegisters `yaml:"devices"`
}

type deviceRegisters struct {
	IP        string           `yaml:"ip"`
	Registers []registerEntry `yaml:"registers"`
}

type registerEntry struct {
	Name         string  `yaml:"name"`
	Address      int     `yaml:"address"`
	Count        int     `yaml:"count"`
	RegisterType string  `yaml:"register_type"`
	DataType     string  `yaml:"data_type"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	Offset       float64 `yaml:"offset"`
	Unit         string  `yaml:"unit"`
	IntervalMS   int64   `yaml:"interval_ms"`
	Active       *bool   `yaml:"active"`
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		filePath string
		dbHost   string
		dbPort   int
		dbName   string
		dbUser   string
		dbPass   string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "registerimport",
		Short: "Bulk-load register-config declarations from YAML into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(context.Background(), filePath, postgres.PoolConfig{
				Host:     dbHost,
				Port:     dbPort,
				Database: dbName,
				User:     dbUser,
				Password: dbPass,
				PoolSize: 2,
			}, dryRun)
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "path to the register definitions YAML file (required)")
	cmd.Flags().StringVar(&dbHost, "db-host", "localhost", "Postgres host")
	cmd.Flags().IntVar(&dbPort, "db-port", 5432, "Postgres port")
	cmd.Flags().StringVar(&dbName, "db-name", "plc_fleet", "Postgres database name")
	cmd.Flags().StringVar(&dbUser, "db-user", "plc_fleet", "Postgres user")
	cmd.Flags().StringVar(&dbPass, "db-password", os.Getenv("FLEETD_DB_PASSWORD"), "Postgres password")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing to the database")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, filePath string, poolCfg postgres.PoolConfig, dryRun bool) error {
	logger := logging.New("info", "console", "registerimport", "0.1.0")

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var doc registerFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse register file: %w", err)
	}

	if dryRun {
		return validateOnly(doc, logger)
	}

	pool, err := postgres.NewPool(ctx, poolCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	deviceRepo := postgres.NewDeviceRepository(pool, logger)

	var loaded, errored int
	for _, dr := range doc.Devices {
		device, err := deviceRepo.GetByIP(ctx, dr.IP)
		if err != nil {
			logger.Error().Err(err).Str("ip", dr.IP).Msg("failed to look up device")
			errored++
			continue
		}
		if device == nil {
			logger.Error().Str("ip", dr.IP).Msg("no device registered for this ip, skipping its registers")
			errored += len(dr.Registers)
			continue
		}

		for _, re := range dr.Registers {
			cfg, err := re.toDomain(device.ID)
			if err != nil {
				logger.Error().Err(err).Str("ip", dr.IP).Str("register", re.Name).Msg("invalid register definition")
				errored++
				continue
			}
			if err := cfg.Validate(); err != nil {
				logger.Error().Err(err).Str("ip", dr.IP).Str("register", re.Name).Msg("register failed validation")
				errored++
				continue
			}
			if err := deviceRepo.UpsertRegisterConfig(ctx, cfg); err != nil {
				logger.Error().Err(err).Str("ip", dr.IP).Str("register", re.Name).Msg("failed to upsert register config")
				errored++
				continue
			}
			loaded++
		}
	}

	logger.Info().Int("loaded", loaded).Int("errors", errored).Msg("register import complete")
	if errored > 0 {
		return fmt.Errorf("%d register(s) failed to import", errored)
	}
	return nil
}

func validateOnly(doc registerFile, logger zerolog.Logger) error {
	var errored int
	for _, dr := range doc.Devices {
		for _, re := range dr.Registers {
			cfg, err := re.toDomain(0)
			if err != nil {
				logger.Error().Err(err).Str("ip", dr.IP).Str("register", re.Name).Msg("invalid register definition")
				errored++
				continue
			}
			if err := cfg.Validate(); err != nil {
				logger.Error().Err(err).Str("ip", dr.IP).Str("register", re.Name).Msg("register failed validation")
				errored++
			}
		}
	}
	if errored > 0 {
		return fmt.Errorf("%d register(s) failed validation", errored)
	}
	return nil
}

func (re registerEntry) toDomain(deviceID int64) (*domain.RegisterConfig, error) {
	active := true
	if re.Active != nil {
		active = *re.Active
	}
	scale := re.ScaleFactor
	if scale == 0 {
		scale = 1.0
	}

	cfg := &domain.RegisterConfig{
		DeviceID:     deviceID,
		Name:         re.Name,
		Address:      re.Address,
		Count:        re.Count,
		RegisterType: domain.RegisterType(re.RegisterType),
		DataType:     domain.DataType(re.DataType),
		ScaleFactor:  scale,
		Offset:       re.Offset,
		Unit:         re.Unit,
		Active:       active,
	}
	if re.IntervalMS > 0 {
		cfg.Interval = time.Duration(re.IntervalMS) * time.Millisecond
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("register entry missing name")
	}
	return cfg, nil
}
