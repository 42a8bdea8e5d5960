package video

import (
	"sync/atomic"
)

// Display receives decimated frames from the acquisition loop. The callback
// runs on the loop goroutine and must return quickly (assign into a display
// surface, not decode); it must not retain the frame without cloning.
type Display interface {
	OnFrame(f Frame, measuredFPS float64)
}

// DisplayFunc adapts a function to the Display interface.
type DisplayFunc func(f Frame, measuredFPS float64)

func (fn DisplayFunc) OnFrame(f Frame, measuredFPS float64) {
	fn(f, measuredFPS)
}

// Gate decimates the acquisition stream to a "display every Nth frame"
// policy. It only ever gates the display path; recording always sees every
// retrieved frame.
type Gate struct {
	every int32
}

func NewGate(every int) *Gate {
	g := &Gate{}
	g.SetEvery(every)
	return g
}

// SetEvery updates the decimation live. Values below 1 are clamped to 1;
// takes effect on the next retrieved frame.
func (g *Gate) SetEvery(n int) {
	if n < 1 {
		n = 1
	}
	atomic.StoreInt32(&g.every, int32(n))
}

func (g *Gate) Every() int {
	return int(atomic.LoadInt32(&g.every))
}

// Admit reports whether the frame with the given index should be forwarded
// to the display. Index 0 always passes, so the UI is never left blank at
// the start of a session.
func (g *Gate) Admit(index int64) bool {
	return index%int64(atomic.LoadInt32(&g.every)) == 0
}
