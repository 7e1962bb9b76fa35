package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	InstanceHeartbeatKeyPrefix = "threatmesh:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

// InstanceID identifies this process in heartbeats and event relays.
func InstanceID() string {
	return instanceID
}

// StartInstanceHeartbeat refreshes a TTL key for this instance until ctx ends.
// The value is the ledger height reported by height.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, interval, ttl time.Duration, height func() uint64) {
	if client == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := InstanceHeartbeatKeyPrefix + instanceID

	beat := func() {
		var value uint64
		if height != nil {
			value = height()
		}
		if err := client.SetEx(ctx, key, value, ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", key, "error", err)
		}
	}

	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// CountActiveInstances counts live heartbeat keys.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	if client == nil {
		return 1, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	count := 0
	iter := client.Scan(ctx, 0, InstanceHeartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
