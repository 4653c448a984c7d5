package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/repository/postgres"
)

// deviceCache mirrors the active device set for the HTTP control surface's
// DeviceLookup, refreshed on the same tick as the Supervisor's reconcile
// loop rather than hitting Postgres on every /supervisor/devices/{id}/*
// request.
type deviceCache struct {
	repo   *postgres.DeviceRepository
	logger zerolog.Logger

	mu   sync.RWMutex
	byID map[int64]*domain.Device
}

func newDeviceCache(repo *postgres.DeviceRepository, logger zerolog.Logger) *deviceCache {
	return &deviceCache{
		repo:   repo,
		logger: logger.With().Str("component", "device-cache").Logger(),
		byID:   make(map[int64]*domain.Device),
	}
}

func (c *deviceCache) GetByID(id int64) (*domain.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

func (c *deviceCache) refresh(ctx context.Context) {
	devices, err := c.repo.ListActive(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to refresh device cache")
		return
	}
	next := make(map[int64]*domain.Device, len(devices))
	for _, d := range devices {
		next[d.ID] = d
	}
	c.mu.Lock()
	c.byID = next
	c.mu.Unlock()
}

// run refreshes the cache immediately, then on every tick until ctx is
// cancelled.
func (c *deviceCache) run(ctx context.Context, tick time.Duration) {
	c.refresh(ctx)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}
