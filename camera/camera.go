package camera

import (
	"errors"
	"time"
)

// Readout speed codes as reported by the device. They are opaque to the
// pipeline; the UI maps them to labels.
const (
	ReadoutSlowest = 0.0
	ReadoutFastest = 1.0
)

var (
	// ErrTimeout indicates the bounded wait for the next frame expired, or
	// the device overwrote a frame before it could be claimed. Transient;
	// the acquisition loop counts it as a drop and keeps polling.
	ErrTimeout = errors.New("camera: frame wait timed out")

	// ErrDeviceLost indicates the device handle became invalid while
	// streaming. Fatal to the acquisition loop; requires Reconnect.
	ErrDeviceLost = errors.New("camera: device handle lost")

	// ErrNotOpened is returned for operations that require an opened device.
	ErrNotOpened = errors.New("camera: not opened")

	// ErrNotStreaming is returned by WaitNext when the device is opened but
	// capture has not been started.
	ErrNotStreaming = errors.New("camera: not streaming")
)

// Settings describes a requested device configuration. It is produced at the
// UI boundary and consumed once by Session.Apply.
type Settings struct {
	Width   int
	Height  int
	Binning int

	// Bits selects the pixel format: 8 for mono8, anything larger for mono16.
	Bits int

	ExposureSec  float64
	ReadoutSpeed float64

	// BundleFrames enables the device's frame-packing mode when >1. Treated
	// as an opaque device setting by the pipeline.
	BundleFrames int
}

// ApplyResult reports the outcome of a successful (possibly constrained)
// Apply. A non-empty Warning means the device accepted an approximation of
// the request, e.g. clamped dimensions; streaming is still permitted.
type ApplyResult struct {
	Warning string

	// Applied is the configuration read back from the device after apply.
	Applied Settings
}

// Soft reports whether the device applied a constrained approximation of the
// requested settings.
func (r *ApplyResult) Soft() bool {
	return r.Warning != ""
}

// RawFrame is one frame as delivered by the device, along with the device
// state read back at delivery time. The pixel buffer is only valid until the
// next WaitNext call on the same session.
type RawFrame struct {
	Pix    []byte
	Width  int
	Height int

	Binning      int
	Bits         int
	ExposureSec  float64
	InternalFPS  float64
	ReadoutSpeed float64

	Time time.Time
}

// Session owns a camera device handle and its open/streaming lifecycle.
//
// States: Closed -> Opened -> Streaming, back to Opened on Stop and Closed on
// Cleanup. Apply is valid in Opened or Streaming. A hard Apply failure leaves
// the device unchanged and forbids streaming; a soft outcome (ApplyResult
// with a warning) still permits it.
type Session interface {
	// InitAndOpen initializes the vendor runtime and opens the device.
	InitAndOpen() error

	// IsOpened reports whether the device handle is valid.
	IsOpened() bool

	// Apply pushes the requested configuration to the device and reads back
	// what the device actually accepted.
	Apply(s Settings) (*ApplyResult, error)

	// Start begins streaming. Valid only when opened.
	Start() error

	// Stop halts streaming, returning to the opened state.
	Stop()

	// Reconnect tears down and reopens the device handle after ErrDeviceLost.
	Reconnect() error

	// Cleanup releases the device and the vendor runtime.
	Cleanup()

	// WaitNext blocks until the next frame is available, up to timeout.
	// Returns ErrTimeout for a transient miss and ErrDeviceLost when the
	// handle has become invalid. The returned buffer is reused; callers that
	// retain it past the next WaitNext must copy.
	WaitNext(timeout time.Duration) (*RawFrame, error)

	// ExposureBounds returns the device exposure limits in seconds, used
	// only for UI-limit refresh.
	ExposureBounds() (min, max float64, err error)

	// SetExposure sets the exposure time in seconds.
	SetExposure(sec float64) error
}
