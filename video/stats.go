package video

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats is a read-only snapshot of pipeline health, consumed by the UI.
type Stats struct {
	State string `json:"state"`

	Width   int `json:"width"`
	Height  int `json:"height"`
	Binning int `json:"binning"`
	Bits    int `json:"bits"`

	MeasuredFPS  float64 `json:"measured_fps"`
	InternalFPS  float64 `json:"internal_fps"`
	ExposureSec  float64 `json:"exposure_sec"`
	ReadoutSpeed float64 `json:"readout_speed"`

	FrameIndex int64 `json:"frame_index"`
	Delivered  int64 `json:"delivered"`
	Dropped    int64 `json:"dropped"`
}

// fpsMeter smooths wall-clock deltas between successful polls into a
// measured frame rate. An exponentially weighted average seeded from the
// first delta converges within a second at any stable rate.
type fpsMeter struct {
	last  time.Time
	value float64
}

const fpsAlpha = 0.2

func (m *fpsMeter) tick(t time.Time) float64 {
	if m.last.IsZero() {
		m.last = t
		return m.value
	}
	dt := t.Sub(m.last).Seconds()
	m.last = t
	if dt <= 0 {
		// Two frames with the same timestamp; keep the previous estimate.
		return m.value
	}
	inst := 1.0 / dt
	if m.value == 0 {
		m.value = inst
	} else {
		m.value += fpsAlpha * (inst - m.value)
	}
	return m.value
}

func (m *fpsMeter) reset() {
	m.last = time.Time{}
	m.value = 0
}

// Metrics exports pipeline counters to Prometheus.
type Metrics struct {
	Delivered   prometheus.Counter
	Dropped     prometheus.Counter
	MeasuredFPS prometheus.Gauge
	Recorded    prometheus.Counter
	Saved       prometheus.Counter
	SaveErrors  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "scicam_frames_delivered_total",
			Help: "Frames retrieved from the camera and handed to consumers.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "scicam_frames_dropped_total",
			Help: "Device-ready events the acquisition loop failed to claim.",
		}),
		MeasuredFPS: f.NewGauge(prometheus.GaugeOpts{
			Name: "scicam_measured_fps",
			Help: "Smoothed frame rate measured across successful polls.",
		}),
		Recorded: f.NewCounter(prometheus.CounterOpts{
			Name: "scicam_frames_recorded_total",
			Help: "Frames appended to a recording session buffer.",
		}),
		Saved: f.NewCounter(prometheus.CounterOpts{
			Name: "scicam_frames_saved_total",
			Help: "Frames written to durable storage by save jobs.",
		}),
		SaveErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "scicam_frame_save_errors_total",
			Help: "Per-frame write failures skipped during save jobs.",
		}),
	}
}
