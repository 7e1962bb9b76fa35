package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"threatmesh/internal/config"
	"threatmesh/internal/support"
)

const blockProducerLockKey = "threatmesh:leader:block_producer"

// Ticker advances the ledger by one empty block.
type Ticker interface {
	Tick(ctx context.Context) (uint64, error)
}

// StartBlockProducer ticks the ledger at the configured block interval while
// this instance is leader. Reveal delays are measured in these blocks, so only
// one instance per database may produce them. onHeight may be nil.
func StartBlockProducer(ctx context.Context, client *redis.Client, ticker Ticker, onHeight func(uint64)) {
	if ctx == nil {
		ctx = context.Background()
	}

	updates := config.BlockIntervalUpdates()

	err := runLeaderLoop(ctx, client, blockProducerLockKey, func(leaderCtx context.Context) {
		runBlockLoop(leaderCtx, ticker, config.GetBlockInterval(), updates, onHeight)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Block producer stopped", "error", err)
	}
}

func runBlockLoop(ctx context.Context, ticker Ticker, current time.Duration, updates <-chan time.Duration, onHeight func(uint64)) {
	timer := time.NewTicker(current)
	defer timer.Stop()

	log.Info("Block producer running", "interval", current)

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			if next <= 0 || next == current {
				continue
			}
			drainTicker(timer)
			current = next
			timer.Reset(current)
			log.Info("Block interval changed", "interval", current)
		case <-timer.C:
			height, err := ticker.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("Block tick failed", "error", err)
				continue
			}
			if onHeight != nil {
				onHeight(height)
			}
		}
	}
}

func runLeaderLoop(ctx context.Context, client *redis.Client, key string, run func(context.Context)) error {
	return support.RunWithLeader(ctx, client, key, support.DefaultLeadershipTTL, run)
}

func drainTicker(t *time.Ticker) {
	for {
		select {
		case <-t.C:
		default:
			return
		}
	}
}
