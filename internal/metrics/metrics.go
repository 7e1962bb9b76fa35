// Package metrics exposes engine activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatmesh/internal/domain"
	"threatmesh/internal/events"
	"threatmesh/internal/ledger"
)

const namespace = "threatmesh"

type Metrics struct {
	gatherer prometheus.Gatherer

	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	height     prometheus.Gauge
	denylist   prometheus.Gauge
}

// New registers the engine collectors on reg. busDropped may be nil.
func New(reg *prometheus.Registry, busDropped func() float64) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published by committed ledger transitions",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Write operations rejected by the engine",
		}, []string{"op", "code"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_height",
			Help:      "Sequence number of the last committed transition",
		}),
		denylist: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "denylist_size",
			Help:      "Addresses currently confirmed as threats",
		}),
	}

	collectors := []prometheus.Collector{m.events, m.rejections, m.height, m.denylist}
	if busDropped != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events dropped for slow in-process subscribers",
		}, busDropped))
	}

	var errs []error
	for _, c := range collectors {
		errs = append(errs, reg.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveReject matches engine.RejectHook.
func (m *Metrics) ObserveReject(op ledger.Op, err error) {
	m.rejections.WithLabelValues(string(op), domain.ErrorCode(err)).Inc()
}

func (m *Metrics) ObserveEvent(ev events.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Seq > 0 {
		m.height.Set(float64(ev.Seq))
	}
}

func (m *Metrics) SetHeight(height uint64) {
	m.height.Set(float64(height))
}

func (m *Metrics) SetDenylistSize(n int) {
	m.denylist.Set(float64(n))
}

// Run counts events from feed until ctx ends or the channel closes.
func (m *Metrics) Run(ctx context.Context, feed <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			m.ObserveEvent(ev)
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
