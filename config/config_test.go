package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scicam/camera"
)

func TestSettingsMapping(t *testing.T) {
	c := &Config{
		Width:        1024,
		Height:       512,
		Binning:      2,
		Bits:         16,
		ExposureMs:   10,
		ReadoutSpeed: "slowest",
		BundleFrames: 4,
	}
	s := c.Settings()
	if s.Width != 1024 || s.Height != 512 || s.Binning != 2 || s.Bits != 16 {
		t.Errorf("Settings geometry = %+v", s)
	}
	if s.ExposureSec != 0.010 {
		t.Errorf("ExposureSec = %g, want 0.010", s.ExposureSec)
	}
	if s.ReadoutSpeed != camera.ReadoutSlowest {
		t.Errorf("ReadoutSpeed = %g, want slowest", s.ReadoutSpeed)
	}
	if s.BundleFrames != 4 {
		t.Errorf("BundleFrames = %d, want 4", s.BundleFrames)
	}

	c.ReadoutSpeed = "fastest"
	if got := c.Settings().ReadoutSpeed; got != camera.ReadoutFastest {
		t.Errorf("ReadoutSpeed = %g, want fastest", got)
	}
}

func TestPollTimeout(t *testing.T) {
	c := &Config{PollTimeoutMs: 250}
	if got := c.PollTimeout(); got != 250*time.Millisecond {
		t.Errorf("PollTimeout() = %v, want 250ms", got)
	}
	c.PollTimeoutMs = 0
	if got := c.PollTimeout(); got != 0 {
		t.Errorf("PollTimeout() = %v for unset value, want 0", got)
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Bits != 16 || c.Binning != 1 || c.DisplayEvery != 1 {
		t.Errorf("Default() = %+v", c)
	}
	if c.ExposureMs != 10 {
		t.Errorf("Default exposure = %gms, want 10ms", c.ExposureMs)
	}
	if c.Settings().ReadoutSpeed != camera.ReadoutFastest {
		t.Error("Default readout speed is not fastest")
	}
}

func TestLoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scicam.yaml")
	if err := os.WriteFile(path, []byte("width: 640\nheight: 480\ndisplay_every: 5\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Load(ctx, path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer Set(Default())

	c := Get()
	if c.Width != 640 || c.Height != 480 || c.DisplayEvery != 5 {
		t.Errorf("Loaded config = %+v", c)
	}
	// Unset fields keep their defaults.
	if c.Bits != 16 {
		t.Errorf("Bits = %d, want default 16", c.Bits)
	}

	reloaded := make(chan *Config, 1)
	OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("width: 640\nheight: 480\ndisplay_every: 20\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	select {
	case c := <-reloaded:
		if c.DisplayEvery != 20 {
			t.Errorf("Reloaded DisplayEvery = %d, want 20", c.DisplayEvery)
		}
		if Get().DisplayEvery != 20 {
			t.Error("Get() does not reflect the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reload callback never fired")
	}
}

func TestLoadMissingFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Load(ctx, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
}
