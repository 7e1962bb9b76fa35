package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	RedisEventsChannel  = "threatmesh:events"
	redisPublishTimeout = 5 * time.Second
)

// Encode renders an event the way it is published for other processes.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func Decode(payload []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// RunRedisRelay forwards events from ch to the Redis channel until ctx is done
// or ch is closed. The firewall sync daemon and cross-network relay listen there.
func RunRedisRelay(ctx context.Context, client *redis.Client, ch <-chan Event) {
	if client == nil {
		log.Warn("Event relay disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := Encode(ev)
			if err != nil {
				log.Error("Event relay: failed to encode event", "kind", ev.Kind, "error", err)
				continue
			}

			opCtx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
			err = client.Publish(opCtx, RedisEventsChannel, payload).Err()
			cancel()
			if err != nil {
				log.Error("Event relay: publish failed", "kind", ev.Kind, "seq", ev.Seq, "error", err)
			}
		}
	}
}
