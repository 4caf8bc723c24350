package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conveyor"

var (
	RecordsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_consumed_total",
			Help:      "Records decoded from the log per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	RecordsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_produced_total",
			Help:      "Records submitted to the async producer per topic.",
		},
		[]string{"topic"},
	)
	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Asynchronous sends rejected by the broker.",
		},
		[]string{"topic"},
	)
	CheckpointOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_offset",
			Help:      "Last delivered offset per topic/partition.",
		},
		[]string{"topic", "partition"},
	)
	BrokerLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_lookups_total",
			Help:      "Coordination-service broker lookups by result.",
		},
		[]string{"result"},
	)
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
