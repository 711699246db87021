package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	queryDurations       = "query_durations"
	queryFailures        = "query_failures"
	scatterCallDurations = "call_durations"
	scatterCallFailures  = "call_failures"
	poolIdleConnections  = "idle_connections"
	poolUsedConnections  = "used_connections"
	poolBacklogSize      = "backlog_size"
	poolCheckoutFailures = "checkout_failures"
	cacheLookups         = "lookup_count"
)

var (
	queryDurationsSum = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem:  "broker",
		Name:       queryDurations,
		Help:       "Query latencies in seconds",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"table"})

	queryFailuresCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "broker",
		Name:      queryFailures,
		Help:      "Total number of queries failed on every planned endpoint",
	}, []string{"table"})

	scatterCallDurationsSum = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem:  "scatter",
		Name:       scatterCallDurations,
		Help:       "Per-endpoint call latencies in seconds",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"endpoint"})

	scatterCallFailuresCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "scatter",
		Name:      scatterCallFailures,
		Help:      "Total number of failed per-endpoint calls",
	}, []string{"endpoint", "reason"})

	poolIdleConnectionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pool",
		Name:      poolIdleConnections,
		Help:      "Number of idle pooled connections",
	}, []string{"endpoint"})

	poolUsedConnectionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pool",
		Name:      poolUsedConnections,
		Help:      "Number of checked out pooled connections",
	}, []string{"endpoint"})

	poolBacklogSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pool",
		Name:      poolBacklogSize,
		Help:      "Number of callers waiting for a pooled connection",
	}, []string{"endpoint"})

	poolCheckoutFailuresCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pool",
		Name:      poolCheckoutFailures,
		Help:      "Total number of failed connection checkouts",
	}, []string{"endpoint", "reason"})

	cacheLookupsCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "cache",
		Name:      cacheLookups,
		Help:      "Total number of result cache lookups",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(queryDurationsSum)
	prometheus.MustRegister(queryFailuresCnt)
	prometheus.MustRegister(scatterCallDurationsSum)
	prometheus.MustRegister(scatterCallFailuresCnt)
	prometheus.MustRegister(poolIdleConnectionsGauge)
	prometheus.MustRegister(poolUsedConnectionsGauge)
	prometheus.MustRegister(poolBacklogSizeGauge)
	prometheus.MustRegister(poolCheckoutFailuresCnt)
	prometheus.MustRegister(cacheLookupsCnt)
}

type Transaction interface {
	Start() Transaction
	End()
}

type timeTransaction struct {
	labels  []string
	summary *prometheus.SummaryVec
	timer   *prometheus.Timer
}

func (txn *timeTransaction) Start() Transaction {
	txn.timer = prometheus.NewTimer(txn.summary.WithLabelValues(txn.labels...))
	return txn
}

func (txn *timeTransaction) End() {
	txn.timer.ObserveDuration()
}

func StartQuery(table string) Transaction {
	txn := &timeTransaction{
		summary: queryDurationsSum,
		labels:  []string{table},
	}
	return txn.Start()
}

func StartScatterCall(endpoint string) Transaction {
	txn := &timeTransaction{
		summary: scatterCallDurationsSum,
		labels:  []string{endpoint},
	}
	return txn.Start()
}

func NewFailedQuery(table string) {
	queryFailuresCnt.WithLabelValues(table).Inc()
}

func NewFailedScatterCall(endpoint, reason string) {
	scatterCallFailuresCnt.WithLabelValues(endpoint, reason).Inc()
}

func SetPoolConnections(endpoint string, idle, used int) {
	poolIdleConnectionsGauge.WithLabelValues(endpoint).Set(float64(idle))
	poolUsedConnectionsGauge.WithLabelValues(endpoint).Set(float64(used))
}

func SetPoolBacklog(endpoint string, size int) {
	poolBacklogSizeGauge.WithLabelValues(endpoint).Set(float64(size))
}

func NewFailedCheckout(endpoint, reason string) {
	poolCheckoutFailuresCnt.WithLabelValues(endpoint, reason).Inc()
}

func NewCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsCnt.WithLabelValues(outcome).Inc()
}
