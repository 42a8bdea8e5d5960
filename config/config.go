package config

import (
	"time"

	"scicam/camera"
)

// Config is the on-disk application configuration. It is hot-reloaded; the
// capture parameters take effect on the next Apply, while DisplayEvery is
// pushed to the running pipeline immediately.
type Config struct {
	SavePath     string `yaml:"save_path"`
	DatabasePath string `yaml:"database_path"`

	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Binning int `yaml:"binning"`
	Bits    int `yaml:"bits"`

	ExposureMs   float64 `yaml:"exposure_ms"`
	ReadoutSpeed string  `yaml:"readout_speed"` // "fastest" or "slowest"
	BundleFrames int     `yaml:"bundle_frames"`

	DisplayEvery  int `yaml:"display_every"`
	PollTimeoutMs int `yaml:"poll_timeout_ms"`

	SimFPS       float64 `yaml:"sim_fps"`
	SimDropEvery int     `yaml:"sim_drop_every"`

	// PushSubscriber is the contact address sent with web push
	// notifications.
	PushSubscriber string `yaml:"push_subscriber"`
}

func Default() *Config {
	return &Config{
		SavePath:     "./captures",
		DatabasePath: "./scicam.db",
		Binning:      1,
		Bits:         16,
		ExposureMs:   10,
		ReadoutSpeed: "fastest",
		DisplayEvery: 1,
		SimFPS:       30,
	}
}

// Settings maps the configuration onto a device settings request.
func (c *Config) Settings() camera.Settings {
	speed := camera.ReadoutFastest
	if c.ReadoutSpeed == "slowest" {
		speed = camera.ReadoutSlowest
	}
	return camera.Settings{
		Width:        c.Width,
		Height:       c.Height,
		Binning:      c.Binning,
		Bits:         c.Bits,
		ExposureSec:  c.ExposureMs / 1000,
		ReadoutSpeed: speed,
		BundleFrames: c.BundleFrames,
	}
}

// PollTimeout returns the device-poll bound, falling back to the pipeline
// default when unset.
func (c *Config) PollTimeout() time.Duration {
	if c.PollTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}
