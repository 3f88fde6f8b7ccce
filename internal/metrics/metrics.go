package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psidbot_events_total",
			Help: "Count of conversation events processed",
		},
		[]string{"frontend", "kind"},
	)
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psidbot_lookups_total",
			Help: "Count of PSID lookups by target and outcome",
		},
		[]string{"target", "outcome"},
	)
	LookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psidbot_lookup_duration_seconds",
			Help:    "Time taken by the outbound lookup request",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"target"},
	)
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psidbot_messages_sent_total",
			Help: "Count of replies sent",
		},
		[]string{"frontend", "type"}, // text, menu, photo
	)
	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psidbot_send_failures_total",
			Help: "Count of replies the chat platform rejected",
		},
		[]string{"frontend"},
	)
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsTotal,
		LookupsTotal,
		LookupDuration,
		MessagesSent,
		SendFailures,
	)
}
