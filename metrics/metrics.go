// Package metrics counts lifecycle events for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rolltrack/engine"
)

type Collector struct {
	registry *prometheus.Registry

	labelsCreated     prometheus.Counter
	mastersRegistered prometheus.Counter
	slits             prometheus.Counter
	childrenCreated   prometheus.Counter
	childrenConsumed  prometheus.Counter
	stockOps          *prometheus.CounterVec
	inconsistent      *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		labelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolltrack_labels_created_total",
			Help: "QR labels created by generation or import.",
		}),
		mastersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolltrack_master_rolls_registered_total",
			Help: "Master rolls registered.",
		}),
		slits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolltrack_slits_total",
			Help: "Master rolls slit, including completed partial slits.",
		}),
		childrenCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolltrack_child_rolls_created_total",
			Help: "Child rolls cut from master rolls.",
		}),
		childrenConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolltrack_child_rolls_consumed_total",
			Help: "Child rolls consumed by a job.",
		}),
		stockOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolltrack_stock_operations_total",
			Help: "Stock soft-delete, restore and purge operations.",
		}, []string{"op"}),
		inconsistent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolltrack_inconsistent_state_total",
			Help: "Operations that committed only part of their writes, by failed step.",
		}, []string{"step"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.labelsCreated,
		c.mastersRegistered,
		c.slits,
		c.childrenCreated,
		c.childrenConsumed,
		c.stockOps,
		c.inconsistent,
	)
	return c
}

// Attach subscribes the collector to bus and returns the subscription so the
// caller can detach it.
func (c *Collector) Attach(bus *engine.EventBus) engine.SubscriberID {
	return bus.Subscribe(c.observe)
}

func (c *Collector) observe(evt engine.Event) {
	switch evt.Type {
	case engine.EventLabelCreated:
		c.labelsCreated.Inc()
	case engine.EventMasterRegistered:
		c.mastersRegistered.Inc()
	case engine.EventMasterSlit:
		c.slits.Inc()
		if ev, ok := evt.Payload.(engine.MasterSlitEvent); ok && !ev.Recovered {
			c.childrenCreated.Add(float64(len(ev.ChildRollIDs)))
		}
	case engine.EventChildConsumed:
		c.childrenConsumed.Inc()
	case engine.EventStockDeleted:
		c.stockOps.WithLabelValues("delete").Inc()
	case engine.EventStockRestored:
		c.stockOps.WithLabelValues("restore").Inc()
	case engine.EventStockPurged:
		c.stockOps.WithLabelValues("purge").Inc()
	case engine.EventInconsistentState:
		if ev, ok := evt.Payload.(engine.InconsistentStateEvent); ok {
			c.inconsistent.WithLabelValues(ev.Step).Inc()
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
