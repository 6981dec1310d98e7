package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stormline_concurrencylimiter_max{channel_name,host_index}
	LimiterMax = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stormline",
			Name:      "concurrencylimiter_max",
			Help:      "Current adaptive concurrency ceiling per host.",
		},
		[]string{"channel_name", "host_index"},
	)

	// stormline_concurrencylimiter_in_flight{channel_name,host_index}
	LimiterInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stormline",
			Name:      "concurrencylimiter_in_flight",
			Help:      "Outstanding permits per host.",
		},
		[]string{"channel_name", "host_index"},
	)

	// stormline_concurrencylimiter_leak_total{channel_name}
	PermitLeak = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "concurrencylimiter_leak_total",
			Help:      "Permits dropped without an explicit release.",
		},
		[]string{"channel_name"},
	)
)

func init() {
	prometheus.MustRegister(LimiterMax, LimiterInFlight, PermitLeak)
}
