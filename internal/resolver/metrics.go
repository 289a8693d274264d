package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	resolverRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkggraph_resolver_runs_total",
			Help: "Number of resolution runs by mode.",
		},
		[]string{"mode"},
	)
	resolverRunErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkggraph_resolver_run_errors_total",
			Help: "Number of resolution runs that failed by mode.",
		},
		[]string{"mode"},
	)
	resolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pkggraph_resolver_duration_seconds",
			Help:    "Time taken to resolve a dependency graph.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	resolverNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pkggraph_resolver_nodes",
			Help: "Number of nodes in the graph produced by the last run.",
		},
	)
	resolverUnresolvedRequired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pkggraph_resolver_unresolved_required",
			Help: "Number of unresolved required dependencies observed in the last run.",
		},
	)
	resolverUnresolvedOptional = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pkggraph_resolver_unresolved_optional",
			Help: "Number of unresolved optional dependencies observed in the last run.",
		},
	)
	resolverPeerConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkggraph_resolver_peer_conflicts_total",
			Help: "Total number of peer dependencies wired to a version outside their range.",
		},
	)
	resolverEdgesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkggraph_resolver_edges_removed_total",
			Help: "Total number of importer edges dropped as invalid during updates.",
		},
	)

	manifestFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkggraph_resolver_manifest_lookups_total",
			Help: "Manifest lookups by outcome (fetched, cached, reused, error).",
		},
		[]string{"result"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		resolverRunsTotal,
		resolverRunErrorsTotal,
		resolverDuration,
		resolverNodes,
		resolverUnresolvedRequired,
		resolverUnresolvedOptional,
		resolverPeerConflictsTotal,
		resolverEdgesRemovedTotal,
		manifestFetchesTotal,
	)
}

func observeDiagnostics(nodes int, d Diagnostics) {
	resolverNodes.Set(float64(nodes))
	resolverUnresolvedRequired.Set(float64(len(d.UnresolvedRequired)))
	resolverUnresolvedOptional.Set(float64(len(d.UnresolvedOptional)))
	resolverPeerConflictsTotal.Add(float64(len(d.PeerConflicts)))
}
