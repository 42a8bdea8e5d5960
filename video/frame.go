package video

import (
	"time"
)

// Meta is the metadata snapshot attached to every acquired frame.
type Meta struct {
	Width   int
	Height  int
	Binning int
	Bits    int

	// Index is the monotonic frame number, starting at 0 per streaming
	// session. It advances only for retrieved frames, never for drops.
	Index int64

	ExposureSec  float64
	InternalFPS  float64
	ReadoutSpeed float64

	// Delivered and Dropped are the cumulative counters at the instant this
	// frame was retrieved. Their sum equals the number of device-side
	// frame-ready events observed so far.
	Delivered int64
	Dropped   int64
}

// BytesPerPixel returns the storage size of one pixel for this bit depth.
func (m Meta) BytesPerPixel() int {
	if m.Bits > 8 {
		return 2
	}
	return 1
}

// Frame is one acquired image plus its metadata. Pix aliases the acquisition
// loop's working buffer: consumers that retain a frame beyond the callback
// must Clone it, since the buffer is rewritten on the next poll.
type Frame struct {
	Pix  []byte
	Time time.Time
	Meta Meta
}

// Clone returns a deep copy with its own pixel buffer.
func (f Frame) Clone() Frame {
	n := f
	n.Pix = make([]byte, len(f.Pix))
	copy(n.Pix, f.Pix)
	return n
}
