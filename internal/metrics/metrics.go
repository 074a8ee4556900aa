// Package metrics holds the Prometheus collectors for the message exchange
// pipeline. Collectors register with the default registry at init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ModeBuffered = "buffered"
	ModeStream   = "stream"
)

var (
	Exchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_exchanges_total",
		Help: "Message exchanges by response mode and outcome",
	}, []string{"mode", "outcome"})

	StreamFragments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_fragments_total",
		Help: "Fragments forwarded to clients in streaming mode",
	})

	PartialReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_partial_replies_total",
		Help: "AI replies persisted after a stream ended early, by reason",
	}, []string{"reason"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_ai_gateway_duration_seconds",
		Help:    "Time spent waiting on the AI provider (time to first fragment in streaming mode)",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mode"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
