package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

var (
	tableLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_table_loads_total",
			Help: "Total number of lakehouse table load attempts by outcome.",
		},
		[]string{"outcome"},
	)
	tableLoadDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_table_load_duration_seconds",
			Help:    "Time spent loading and registering one lakehouse table.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	tableRowsLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lakequery_table_rows_loaded_total",
			Help: "Total number of rows across successfully registered tables.",
		},
	)
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakequery_queries_total",
			Help: "Total number of SQL executions by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_query_duration_seconds",
			Help:    "SQL execution latency against registered views.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	queryResultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakequery_query_result_rows",
			Help:    "Number of rows returned per successful SQL execution.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		},
	)
)

func init() {
	prometheus.MustRegister(
		tableLoadsTotal,
		tableLoadDurationSeconds,
		tableRowsLoaded,
		queriesTotal,
		queryDurationSeconds,
		queryResultRows,
	)
}

func ObserveTableLoad(err error, rows int64, elapsed time.Duration) {
	tableLoadDurationSeconds.Observe(elapsed.Seconds())
	if err != nil {
		tableLoadsTotal.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	tableLoadsTotal.WithLabelValues(OutcomeSucceeded).Inc()
	if rows > 0 {
		tableRowsLoaded.Add(float64(rows))
	}
}

func ObserveQuery(err error, rows int, elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
	if err != nil {
		queriesTotal.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	queriesTotal.WithLabelValues(OutcomeSucceeded).Inc()
	queryResultRows.Observe(float64(rows))
}
