package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "segd",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Segmentation requests by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "segd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each inference stage in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)

	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "segd",
			Subsystem: "pipeline",
			Name:      "frames_total",
			Help:      "Frames received from the frame source",
		},
	)

	framesOverwrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "segd",
			Subsystem: "pipeline",
			Name:      "frames_overwritten_total",
			Help:      "Frames replaced before any request read them",
		},
	)

	busyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "segd",
			Subsystem: "pipeline",
			Name:      "busy",
			Help:      "1 while a segmentation request is in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, stageDuration, framesTotal, framesOverwrittenTotal, busyGauge)
}

func observeOutcome(outcome string) {
	if outcome == "" {
		outcome = "unspecified"
	}
	requestsTotal.WithLabelValues(outcome).Inc()
}
