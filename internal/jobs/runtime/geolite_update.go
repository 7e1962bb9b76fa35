package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"threatmesh/internal/config"
	"threatmesh/internal/geolite"
)

const geoLiteUpdateLockKey = "threatmesh:leader:geolite_update"

// StartGeoLiteUpdateRoutine refreshes the country database on the configured
// schedule while this instance is leader.
func StartGeoLiteUpdateRoutine(ctx context.Context, client *redis.Client, updater *geolite.Updater) {
	if ctx == nil {
		ctx = context.Background()
	}

	updates := config.GeoLiteUpdateIntervalUpdates()

	err := runLeaderLoop(ctx, client, geoLiteUpdateLockKey, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, updater, updates)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, updater *geolite.Updater, updates <-chan time.Duration) {
	current := config.GetGeoLiteUpdateInterval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	triggerGeoLiteUpdate(ctx, updater, "startup", false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			triggerGeoLiteUpdate(ctx, updater, "scheduled", false)
		case next := <-updates:
			if next <= 0 || next == current {
				continue
			}
			drainTicker(ticker)
			current = next
			ticker.Reset(current)
		}
	}
}

// RunGeoLiteUpdate runs the updater on demand. When force is false the update
// only runs if auto updates are enabled.
func RunGeoLiteUpdate(ctx context.Context, updater *geolite.Updater, reason string, force bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return triggerGeoLiteUpdate(ctx, updater, reason, force)
}

func triggerGeoLiteUpdate(ctx context.Context, updater *geolite.Updater, reason string, force bool) bool {
	cfg := config.GetConfig()
	apiKey := strings.TrimSpace(cfg.GeoLite.APIKey)
	if apiKey == "" {
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
		return false
	}
	if !force && !cfg.GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
		return false
	}

	updater.SetAPIKey(apiKey)
	updated, err := updater.Update(ctx)
	switch {
	case errors.Is(err, geolite.ErrNoAPIKey):
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	case updated:
		log.Info("GeoLite database updated", "reason", reason)
		if err := config.MarkGeoLiteUpdated(time.Now()); err != nil {
			log.Warn("GeoLite update timestamp not persisted", "error", err)
		}
	}
	return updated
}
