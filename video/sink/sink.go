package sink

import (
	"scicam/video"
)

// Sink is a destination for a stream of frames, such as a live view. The
// caller must not assume the frame is retained; sinks that hold a frame past
// the call must clone it.
type Sink interface {
	Put(f video.Frame)

	// Close finalizes the sink.
	Close()
}
