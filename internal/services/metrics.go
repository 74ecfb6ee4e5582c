package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// queriesTotal counts answered queries by store and answering stage.
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_queries_total",
			Help: "Total number of ticket queries by store and source (cache|live|ai).",
		},
		[]string{"store", "source"},
	)

	// queryDuration records end-to-end pipeline latency.
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_query_duration_seconds",
			Help:    "Duration of ticket queries in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"store", "source"},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal, queryDuration)
}
