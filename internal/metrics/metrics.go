// Package metrics holds the Prometheus collectors of partdb.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a set of collectors registered on one registerer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// RowsRouted counts rows written through the dispatcher, by table.
	RowsRouted *prometheus.CounterVec
	// RowsRejected counts rows that had no partition.
	RowsRejected *prometheus.CounterVec
	// LeavesScanned is the number of leaves read per statement.
	LeavesScanned prometheus.Histogram
	// Alterations counts alteration outcomes by command.
	Alterations *prometheus.CounterVec
	// Recoveries counts startup recoveries by replayed phase and outcome.
	Recoveries *prometheus.CounterVec
	PartialMoves prometheus.Counter
	// Queries counts statements by kind and status.
	Queries *prometheus.CounterVec
	// QueryDuration is the latency of HTTP queries.
	QueryDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RowsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partdb_rows_routed_total",
			Help: "Rows written to a leaf partition",
		}, []string{"table"}),
		RowsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partdb_rows_rejected_total",
			Help: "Rows with no matching partition",
		}, []string{"table"}),
		LeavesScanned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "partdb_leaves_scanned",
			Help:    "Leaf partitions read by one statement after pruning",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Alterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partdb_alterations_total",
			Help: "Partition alterations by command and outcome",
		}, []string{"command", "status"}),
		Recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partdb_recoveries_total",
			Help: "Alteration log replays at startup by phase and outcome",
		}, []string{"phase", "status"}),
		PartialMoves: f.NewCounter(prometheus.CounterOpts{
			Name: "partdb_partial_moves_total",
			Help: "Cross-partition updates whose delete failed after the insert",
		}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partdb_queries_total",
			Help: "Statements executed by kind and outcome",
		}, []string{"kind", "status"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partdb_query_duration_seconds",
			Help:    "HTTP query latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Routed(table string, n int) {
	if m != nil && n > 0 {
		m.RowsRouted.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) Rejected(table string, n int) {
	if m != nil && n > 0 {
		m.RowsRejected.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) Scanned(leaves int) {
	if m != nil {
		m.LeavesScanned.Observe(float64(leaves))
	}
}

func (m *Metrics) Altered(command string, err error) {
	if m != nil {
		m.Alterations.WithLabelValues(command, status(err)).Inc()
	}
}

func (m *Metrics) Recovered(phase string, err error) {
	if m != nil {
		m.Recoveries.WithLabelValues(phase, status(err)).Inc()
	}
}

func (m *Metrics) PartialMove() {
	if m != nil {
		m.PartialMoves.Inc()
	}
}

func (m *Metrics) Query(kind string, err error) {
	if m != nil {
		m.Queries.WithLabelValues(kind, status(err)).Inc()
	}
}

func (m *Metrics) Served(format string, start time.Time) {
	if m != nil {
		m.QueryDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	}
}
