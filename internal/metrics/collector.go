// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshweave/meshweave/event"
	"github.com/meshweave/meshweave/mesh"
)

// Collector aggregates mesh coordination metrics into a dedicated prometheus
// registry. Counters are driven by the event stream; gauges are refreshed
// from mesh health snapshots by whoever serves them.
type Collector struct {
	registry *prometheus.Registry

	// Mesh gauges
	nodesTotal        prometheus.Gauge
	nodesActive       prometheus.Gauge
	partitions        prometheus.Gauge
	connectivityRatio prometheus.Gauge
	avgLoad           prometheus.Gauge

	// Consensus metrics
	proposalsTotal *prometheus.CounterVec
	votesTotal     *prometheus.CounterVec

	// Operation metrics
	operationsTotal    *prometheus.CounterVec
	operationConsensus prometheus.Histogram

	// Event stream metrics
	eventsTotal *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		nodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshweave_nodes_total",
			Help: "Number of registered mesh nodes.",
		}),
		nodesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshweave_nodes_active",
			Help: "Number of mesh nodes with active status.",
		}),
		partitions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshweave_partitions",
			Help: "Number of connected components in the mesh graph.",
		}),
		connectivityRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshweave_connectivity_ratio",
			Help: "Unique edges divided by the theoretical maximum.",
		}),
		avgLoad: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshweave_avg_load",
			Help: "Mean load across active nodes.",
		}),
		proposalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshweave_proposals_total",
			Help: "Finalized proposals by outcome.",
		}, []string{"status"}),
		votesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshweave_votes_total",
			Help: "Accepted votes by choice.",
		}, []string{"choice"}),
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshweave_operations_total",
			Help: "Terminal operations by outcome.",
		}, []string{"outcome"}),
		operationConsensus: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshweave_operation_consensus_level",
			Help:    "Consensus level of completed operations.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshweave_events_total",
			Help: "Protocol events by type.",
		}, []string{"type"}),
	}
}

// Registry returns the underlying prometheus registry for serving.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe subscribes the collector to the event stream and returns the
// subscription ID.
func (c *Collector) Observe(bus event.Bus) string {
	return bus.Subscribe(event.TypeAny, c.record)
}

func (c *Collector) record(ev event.Event) {
	c.eventsTotal.WithLabelValues(string(ev.EventType())).Inc()

	switch e := ev.(type) {
	case event.ProposalEvent:
		if e.Kind == event.TypeProposalFinalized {
			c.proposalsTotal.WithLabelValues(e.Status).Inc()
		}
	case event.VoteEvent:
		c.votesTotal.WithLabelValues(e.Choice).Inc()
	case event.OperationEvent:
		switch e.Kind {
		case event.TypeOperationCompleted:
			c.operationsTotal.WithLabelValues("completed").Inc()
			c.operationConsensus.Observe(e.ConsensusLevel)
		case event.TypeOperationTimeout:
			c.operationsTotal.WithLabelValues("timeout").Inc()
		}
	}
}

// SetMeshHealth refreshes the mesh gauges from a health snapshot.
func (c *Collector) SetMeshHealth(h mesh.HealthSnapshot) {
	c.nodesTotal.Set(float64(h.TotalNodes))
	c.nodesActive.Set(float64(h.ActiveNodes))
	c.partitions.Set(float64(h.PartitionCount))
	c.connectivityRatio.Set(h.ConnectivityRatio)
	c.avgLoad.Set(h.AvgLoad)
}
