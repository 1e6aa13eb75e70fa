package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_records_dispatched_total",
		Help: "Records pulled from Kafka and fanned out to sinks.",
	}, []string{"consumer_id"})

	ProcessorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_processor_failures_total",
		Help: "Sink process calls that returned an error.",
	}, []string{"consumer_id", "processor_id"})

	RunningExtractors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_running_extractors",
		Help: "Extractors with a live poll loop.",
	})
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
