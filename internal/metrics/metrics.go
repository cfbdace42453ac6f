package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camsession_frames_dispatched_total",
			Help: "Preview frames handed to a consumer",
		},
		[]string{"consumer"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camsession_frames_dropped_total",
			Help: "Preview frames dropped because the consumer was busy",
		},
		[]string{"consumer"},
	)

	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camsession_captures_total",
			Help: "Still captures by outcome",
		},
		[]string{"result"},
	)

	Recordings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camsession_recordings_total",
			Help: "Recordings by outcome",
		},
		[]string{"result"},
	)

	MountErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camsession_mount_errors_total",
			Help: "Failed device opens or session configurations",
		},
	)

	ConfigFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camsession_config_fallbacks_total",
			Help: "Unsupported parameter values replaced by a default",
		},
		[]string{"parameter"},
	)

	ConvergenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camsession_convergence_duration_seconds",
			Help:    "Time from capture request to still-capture issue",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	DeviceOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camsession_device_open",
			Help: "1 while a camera device is open",
		},
	)
)
