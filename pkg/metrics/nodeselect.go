package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// stormline_pinuntilerror_success_total{channel_name}
	PinSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "pinuntilerror_success_total",
			Help:      "Requests completed on the currently pinned host.",
		},
		[]string{"channel_name"},
	)

	// stormline_pinuntilerror_next_node_total{channel_name,reason}
	PinNextNode = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "pinuntilerror_next_node_total",
			Help:      "Pin advances to the next host, by trigger.",
		},
		[]string{"channel_name", "reason"},
	)

	// stormline_pinuntilerror_reshuffle_total{channel_name}
	PinReshuffle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "pinuntilerror_reshuffle_total",
			Help:      "Periodic host-order reshuffles.",
		},
		[]string{"channel_name"},
	)

	// stormline_balanced_score{channel_name,host_index}
	BalancedScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stormline",
			Name:      "balanced_score",
			Help:      "Last computed balanced-strategy score per host (lower is preferred).",
		},
		[]string{"channel_name", "host_index"},
	)

	// stormline_nodeselection_strategy_total{channel_name,strategy}
	SelectionStrategy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stormline",
			Name:      "nodeselection_strategy_total",
			Help:      "Node selection strategy activations.",
		},
		[]string{"channel_name", "strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		PinSuccess,
		PinNextNode,
		PinReshuffle,
		BalancedScore,
		SelectionStrategy,
	)
}
