package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(queueDepth, queueRetries, queueTimeouts, queueSettled)
}

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Number of requests currently waiting in the queue.",
	})

	queueRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_retries_total",
		Help: "Count of retry attempts after transient failures.",
	})

	queueTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_timeouts_total",
		Help: "Count of in-flight requests aborted by the inactivity timer.",
	})

	queueSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_settled_total",
			Help: "Requests settled, by terminal outcome.",
		},
		[]string{"outcome"}, // ok | error | cancelled | timeout
	)
)

func SetQueueDepth(n int)          { queueDepth.Set(float64(n)) }
func IncQueueRetry()               { queueRetries.Inc() }
func IncQueueTimeout()             { queueTimeouts.Inc() }
func IncQueueSettled(outcome string) { queueSettled.WithLabelValues(outcome).Inc() }
