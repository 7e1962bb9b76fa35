package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leaderRetryDelay     = time.Second
	leaderOpTimeout      = 5 * time.Second
)

var (
	leaderSeq atomic.Uint64

	// Both scripts act only while the key still holds our token.
	extendLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	dropLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	errLeaseLost = errors.New("leader lease lost")
)

// RunWithLeader runs fn only while this instance holds the Redis lease at key,
// so jobs like the block producer have a single writer across instances
// sharing one database. The context passed to run is cancelled when the lease
// is lost; the instance then competes again. Without a Redis client the
// instance is its own leader.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	if client == nil {
		run(ctx)
		return ctx.Err()
	}

	for ctx.Err() == nil {
		l, err := acquireLease(ctx, client, key, ttl)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("leader lease: acquire failed", "key", key, "error", err)
		} else {
			log.Debug("leader lease: acquired", "key", key)
			run(l.ctx)
			l.release()
			log.Debug("leader lease: released", "key", key)
		}

		if !sleepCtx(ctx, leaderRetryDelay) {
			break
		}
	}
	return ctx.Err()
}

type lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// acquireLease blocks until the key is ours or ctx ends.
func acquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*lease, error) {
	token := generateLeaderID()
	for {
		ok, err := client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			leaseCtx, cancel := context.WithCancel(ctx)
			l := &lease{
				client: client,
				key:    key,
				token:  token,
				ttl:    ttl,
				ctx:    leaseCtx,
				cancel: cancel,
				done:   make(chan struct{}),
			}
			go l.keepAlive()
			return l, nil
		}
		if !sleepCtx(ctx, leaderRetryDelay) {
			return nil, ctx.Err()
		}
	}
}

// keepAlive extends the lease at a third of its TTL and cancels the lease
// context when an extension fails.
func (l *lease) keepAlive() {
	defer close(l.done)

	every := l.ttl / 3
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.extend(); err != nil {
				log.Warn("leader lease: extend failed", "key", l.key, "error", err)
				l.cancel()
				return
			}
		}
	}
}

func (l *lease) extend() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaderOpTimeout)
	defer cancel()

	n, err := extendLease.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}

func (l *lease) release() {
	l.cancel()
	<-l.done

	ctx, cancel := context.WithTimeout(context.Background(), leaderOpTimeout)
	defer cancel()
	if err := dropLease.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("leader lease: release failed", "key", l.key, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func generateLeaderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderSeq.Add(1))
}
