package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stormline_client_response_total{channel_name,service_name,endpoint,status}
	ClientResponse = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "client_response_total",
			Help:      "Responses observed by the client, by terminal status class.",
		},
		[]string{"channel_name", "service_name", "endpoint", "status"},
	)

	// stormline_client_requests_queued{channel_name}
	RequestsQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stormline",
			Name:      "client_requests_queued",
			Help:      "Requests currently waiting in the client queue.",
		},
		[]string{"channel_name"},
	)

	// stormline_client_request_queued_seconds{channel_name}
	QueuedTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stormline",
			Name:      "client_request_queued_seconds",
			Help:      "Wall-clock time from enqueue to first downstream dispatch.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"channel_name"},
	)

	// stormline_client_request_retry_total{channel_name,reason}
	Retry = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "client_request_retry_total",
			Help:      "Retry attempts, by trigger.",
		},
		[]string{"channel_name", "reason"},
	)

	// stormline_client_limited_total{channel_name,reason}
	Limited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "client_limited_total",
			Help:      "Requests declined by a limited channel, by decliner.",
		},
		[]string{"channel_name", "reason"},
	)

	// stormline_response_leak_total{channel_name,service_name,endpoint}
	ResponseLeak = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "response_leak_total",
			Help:      "Response bodies dropped without being closed.",
		},
		[]string{"channel_name", "service_name", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		ClientResponse,
		RequestsQueued,
		QueuedTime,
		Retry,
		Limited,
		ResponseLeak,
	)
}

// StatusTag maps an HTTP status code to the response status tag value.
// QoS rejections (429/503) and 5xx count as failures alongside IO errors.
func StatusTag(code int) string {
	if code == 429 || code >= 500 {
		return "failure"
	}
	return "success"
}
