package config

import (
	"sync"
	"time"
)

const (
	defaultBlockInterval          = 2 * time.Second
	minBlockInterval              = 50 * time.Millisecond
	defaultDenylistReloadInterval = 10 * time.Minute
	defaultGeoLiteUpdateInterval  = 24 * time.Hour
)

// interval is a duration setting that notifies listeners when it changes.
// Listeners get a buffered channel primed with the current value; a listener
// that has not drained the previous value misses intermediate updates.
type interval struct {
	mu        sync.Mutex
	value     time.Duration
	listeners []chan time.Duration
}

func newInterval(d time.Duration) *interval {
	return &interval{value: d}
}

func (iv *interval) get() time.Duration {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.value
}

func (iv *interval) set(d time.Duration) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.value == d {
		return
	}
	iv.value = d
	for _, ch := range iv.listeners {
		select {
		case ch <- d:
		default:
		}
	}
}

func (iv *interval) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	iv.mu.Lock()
	iv.listeners = append(iv.listeners, ch)
	ch <- iv.value
	iv.mu.Unlock()
	return ch
}

var (
	blockInterval          = newInterval(defaultBlockInterval)
	denylistReloadInterval = newInterval(defaultDenylistReloadInterval)
	geoLiteUpdateInterval  = newInterval(defaultGeoLiteUpdateInterval)
)

// SetIntervals recomputes every interval from the current config.
func SetIntervals() {
	cfg := GetConfig()
	blockInterval.set(calculateBlockInterval(cfg.Ledger.BlockIntervalMs))
	denylistReloadInterval.set(timerOrDefault(cfg.Denylist.ReloadTimer, defaultDenylistReloadInterval))
	geoLiteUpdateInterval.set(timerOrDefault(cfg.GeoLite.UpdateTimer, defaultGeoLiteUpdateInterval))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMilliseconds(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMilliseconds(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if CalculateMilliseconds(timer) == 0 {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func calculateBlockInterval(ms uint32) time.Duration {
	if ms == 0 {
		return defaultBlockInterval
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minBlockInterval {
		return minBlockInterval
	}
	return d
}

// GetBlockInterval is how often the ledger advances by one block.
func GetBlockInterval() time.Duration {
	return blockInterval.get()
}

func BlockIntervalUpdates() <-chan time.Duration {
	return blockInterval.updates()
}

func GetDenylistReloadInterval() time.Duration {
	return denylistReloadInterval.get()
}

func DenylistReloadIntervalUpdates() <-chan time.Duration {
	return denylistReloadInterval.updates()
}

func GetGeoLiteUpdateInterval() time.Duration {
	return geoLiteUpdateInterval.get()
}

func GeoLiteUpdateIntervalUpdates() <-chan time.Duration {
	return geoLiteUpdateInterval.updates()
}
