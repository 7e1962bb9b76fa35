// Package denylist materialises the confirmed threats for the firewall sync
// boundary: an exact in-memory set plus a compact bloom filter snapshot that
// edge nodes can bulk-load.
package denylist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"threatmesh/internal/events"
)

const (
	DefaultFalsePositiveRate = 0.001
	DefaultReloadInterval    = 10 * time.Minute
	minFilterCapacity        = 1024
)

// Loader returns every currently confirmed address.
type Loader func(ctx context.Context) ([]string, error)

type atomicSet struct {
	val atomic.Value
}

func (a *atomicSet) Load() map[string]struct{} {
	raw, ok := a.val.Load().(map[string]struct{})
	if !ok || raw == nil {
		return map[string]struct{}{}
	}
	return raw
}

func (a *atomicSet) Store(m map[string]struct{}) {
	a.val.Store(m)
}

// Snapshot is an immutable view of the denylist at one version.
type Snapshot struct {
	Version           uint64    `json:"version"`
	Addresses         []string  `json:"addresses"`
	Bloom             []byte    `json:"bloom"`
	FalsePositiveRate float64   `json:"false_positive_rate"`
	BuiltAt           time.Time `json:"built_at"`
}

type Manager struct {
	loader Loader
	fpRate float64

	set      atomicSet
	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64

	// mu orders copy-on-write updates; readers never take it.
	mu     sync.Mutex
	reload singleflight.Group
}

func NewManager(loader Loader) *Manager {
	m := &Manager{loader: loader, fpRate: DefaultFalsePositiveRate}
	m.set.Store(map[string]struct{}{})
	m.publish(map[string]struct{}{})
	return m
}

// Contains is an exact membership test.
func (m *Manager) Contains(address string) bool {
	_, found := m.set.Load()[address]
	return found
}

func (m *Manager) Len() int {
	return len(m.set.Load())
}

func (m *Manager) Version() uint64 {
	return m.version.Load()
}

func (m *Manager) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Reload replaces the set with what the loader returns. Concurrent callers
// share one load.
func (m *Manager) Reload(ctx context.Context, reason string) error {
	if m.loader == nil {
		return errors.New("denylist: no loader configured")
	}
	_, err, _ := m.reload.Do("reload", func() (any, error) {
		addresses, err := m.loader(ctx)
		if err != nil {
			return nil, fmt.Errorf("denylist: load confirmed threats: %w", err)
		}

		next := make(map[string]struct{}, len(addresses))
		for _, addr := range addresses {
			next[addr] = struct{}{}
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		added, removed := diff(next, m.set.Load())
		m.set.Store(next)
		m.publish(next)

		log.Info("Denylist reloaded", "reason", reason, "size", len(next), "added", added, "removed", removed, "version", m.Version())
		return nil, nil
	})
	return err
}

// Apply folds one engine event into the set.
func (m *Manager) Apply(ev events.Event) bool {
	switch ev.Kind {
	case events.KindGlobalThreatConfirmed:
		return m.update(ev.Address, true)
	case events.KindGlobalThreatRevoked:
		return m.update(ev.Address, false)
	default:
		return false
	}
}

func (m *Manager) update(address string, present bool) bool {
	if address == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.set.Load()
	if _, found := current[address]; found == present {
		return false
	}

	next := cloneSet(current)
	if present {
		next[address] = struct{}{}
	} else {
		delete(next, address)
	}
	m.set.Store(next)
	m.publish(next)
	return true
}

// publish rebuilds the bloom snapshot. Callers hold mu, except NewManager.
func (m *Manager) publish(set map[string]struct{}) {
	addresses := make([]string, 0, len(set))
	for addr := range set {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	capacity := uint(len(addresses)) * 2
	if capacity < minFilterCapacity {
		capacity = minFilterCapacity
	}
	filter := bloom.NewWithEstimates(capacity, m.fpRate)
	for _, addr := range addresses {
		filter.AddString(addr)
	}

	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		log.Error("Denylist bloom encode failed", "error", err)
	}

	m.snapshot.Store(&Snapshot{
		Version:           m.version.Add(1),
		Addresses:         addresses,
		Bloom:             buf.Bytes(),
		FalsePositiveRate: m.fpRate,
		BuiltAt:           time.Now().UTC(),
	})
}

// Run consumes engine events until ctx ends or the channel closes, and
// reloads from the loader every interval to heal dropped events.
func (m *Manager) Run(ctx context.Context, feed <-chan events.Event, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	if err := m.Reload(ctx, "startup"); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Denylist initial load failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if m.Apply(ev) {
				log.Debug("Denylist updated", "kind", ev.Kind, "address", ev.Address, "version", m.Version())
			}
		case <-ticker.C:
			if err := m.Reload(ctx, "scheduled"); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Denylist reload failed", "error", err)
			}
		}
	}
}

// MayContain decodes a snapshot filter and tests address against it, the way
// an edge consumer would.
func MayContain(encoded []byte, address string) (bool, error) {
	var filter bloom.BloomFilter
	if _, err := filter.ReadFrom(bytes.NewReader(encoded)); err != nil {
		return false, fmt.Errorf("denylist: decode bloom: %w", err)
	}
	return filter.TestString(address), nil
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(m)+1)
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}

func diff(after, before map[string]struct{}) (added, removed int) {
	for k := range after {
		if _, found := before[k]; !found {
			added++
		}
	}
	for k := range before {
		if _, found := after[k]; !found {
			removed++
		}
	}
	return added, removed
}
