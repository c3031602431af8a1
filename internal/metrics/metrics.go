// Package metrics exposes Prometheus instrumentation for the render pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RenderDuration tracks successful frame renders, launch excluded
	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "countdown_render_duration_seconds",
		Help:    "Time taken to load markup and capture one frame",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// RenderTotal counts render attempts by source and result
	RenderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countdown_render_total",
		Help: "Total number of render attempts by source and result",
	}, []string{"source", "result"})

	// TicksSkipped counts scheduler ticks that did not render
	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countdown_ticks_skipped_total",
		Help: "Scheduler ticks dropped, by reason",
	}, []string{"reason"})

	// EngineLaunches counts browser launch attempts by result
	EngineLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countdown_engine_launches_total",
		Help: "Rendering surface launch attempts by result",
	}, []string{"result"})

	// SessionsActive is the number of sessions currently stored
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countdown_sessions_active",
		Help: "Number of sessions held by the session store",
	})

	// SessionsExpired counts sessions removed by the expiry sweep
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countdown_sessions_expired_total",
		Help: "Sessions removed by the expiry sweep",
	})

	// FramesDropped counts frames a busy listener never saw
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countdown_frames_dropped_total",
		Help: "Published frames superseded before a listener handled them",
	})

	// FrameAge is the age of the published frame when it was last served
	FrameAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countdown_frame_age_seconds",
		Help: "Age of the frame most recently served by the live endpoint",
	})
)

// Render sources
const (
	SourceLive    = "live"
	SourceOneShot = "oneshot"
)

// ObserveRender records the outcome of one render attempt
func ObserveRender(source string, duration time.Duration, err error) {
	if err != nil {
		RenderTotal.WithLabelValues(source, "error").Inc()
		return
	}
	RenderTotal.WithLabelValues(source, "success").Inc()
	RenderDuration.Observe(duration.Seconds())
}

// ObserveLaunch records a launch attempt
func ObserveLaunch(err error) {
	if err != nil {
		EngineLaunches.WithLabelValues("error").Inc()
		return
	}
	EngineLaunches.WithLabelValues("success").Inc()
}
