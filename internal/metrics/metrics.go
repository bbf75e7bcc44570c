package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "surveil"

// Rejection reasons.
const (
	ReasonDecode       = "decode"
	ReasonMissingField = "missing_field"
)

// Metrics holds the counters shared by the pipeline, the HTTP
// ingest path and the alert sinks.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	Alerts          *prometheus.CounterVec
	PublishFailures prometheus.Counter
	WindowKeys      *prometheus.GaugeVec
}

// New registers the counters with reg. Pass prometheus.DefaultRegisterer
// in the service and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Order events evaluated by a detector",
		}, []string{"detector"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Order events skipped before reaching a detector",
		}, []string{"detector", "reason"}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by a detector",
		}, []string{"detector"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_publish_failures_total",
			Help:      "Alerts the sink failed to deliver",
		}),
		WindowKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_keys",
			Help:      "Keys tracked by a detector's window store",
		}, []string{"detector"}),
	}
}
