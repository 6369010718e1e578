// Registers:
//
//	#tradeflow_trades_ingested_total
//	#tradeflow_messages_dropped_total
//	#tradeflow_persist_failures_total
//	#tradeflow_reconnects_total
//	#go_* and process_* system metrics
//
// Exposes them on /metrics using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once            sync.Once
	tradesIngested  *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
)

// Init registers the counters and serves /metrics on listen. Subsequent
// calls are no-ops.
func Init(listen string) {
	once.Do(func() {
		tradesIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_trades_ingested_total",
				Help: "Number of normalized trades ingested",
			},
			[]string{"venue"},
		)

		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_messages_dropped_total",
				Help: "Number of inbound messages dropped as malformed",
			},
			[]string{"venue", "stage"},
		)

		persistFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_persist_failures_total",
				Help: "Number of trade/candle writes that failed",
			},
			[]string{"venue", "kind"},
		)

		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_reconnects_total",
				Help: "Number of reconnect attempts scheduled",
			},
			[]string{"venue"},
		)

		_ = prometheus.Register(tradesIngested)
		_ = prometheus.Register(messagesDropped)
		_ = prometheus.Register(persistFailures)
		_ = prometheus.Register(reconnects)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listen, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncTradeIngested increases the ingestion counter for a venue.
func IncTradeIngested(venue string) {
	if tradesIngested != nil {
		tradesIngested.WithLabelValues(venue).Inc()
	}
}

// IncMessageDropped increases the drop counter for a venue at a stage
// ("parse" or "normalize").
func IncMessageDropped(venue, stage string) {
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(venue, stage).Inc()
	}
}

// IncPersistFailure increases the write-failure counter for a venue and
// record kind ("trade" or "candle").
func IncPersistFailure(venue, kind string) {
	if persistFailures != nil {
		persistFailures.WithLabelValues(venue, kind).Inc()
	}
}

// IncReconnect increases the reconnect counter for a venue.
func IncReconnect(venue string) {
	if reconnects != nil {
		reconnects.WithLabelValues(venue).Inc()
	}
}
