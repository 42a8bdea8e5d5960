package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scicam/camera"
)

// grabEvent scripts one WaitNext outcome for the stub session.
type grabEvent struct {
	frame *camera.RawFrame
	err   error
}

// stubSession replays a fixed script of frame deliveries and errors. Once the
// script is exhausted it reports timeouts, which the loop treats as drops.
type stubSession struct {
	mu     sync.Mutex
	opened bool
	script []grabEvent
	next   int
}

func (s *stubSession) InitAndOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *stubSession) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *stubSession) Apply(cfg camera.Settings) (*camera.ApplyResult, error) {
	return &camera.ApplyResult{Applied: cfg}, nil
}

func (s *stubSession) Start() error { return nil }
func (s *stubSession) Stop()        {}

func (s *stubSession) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *stubSession) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
}

func (s *stubSession) WaitNext(timeout time.Duration) (*camera.RawFrame, error) {
	s.mu.Lock()
	if s.next >= len(s.script) {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, camera.ErrTimeout
	}
	ev := s.script[s.next]
	s.next++
	s.mu.Unlock()
	return ev.frame, ev.err
}

func (s *stubSession) ExposureBounds() (float64, float64, error) { return 1e-6, 10, nil }
func (s *stubSession) SetExposure(sec float64) error             { return nil }

// scriptFrames builds a delivery script of n frames at a 10ms cadence, with a
// transient miss injected wherever missAt contains the event index.
func scriptFrames(n int, missAt ...int) []grabEvent {
	miss := make(map[int]bool)
	for _, i := range missAt {
		miss[i] = true
	}
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	var script []grabEvent
	var delivered int
	for i := 0; delivered < n; i++ {
		if miss[i] {
			script = append(script, grabEvent{err: camera.ErrTimeout})
			continue
		}
		script = append(script, grabEvent{frame: &camera.RawFrame{
			Pix:          []byte{byte(delivered), byte(delivered >> 8)},
			Width:        2,
			Height:       1,
			Binning:      1,
			Bits:         8,
			ExposureSec:  0.01,
			InternalFPS:  100,
			ReadoutSpeed: camera.ReadoutFastest,
			Time:         base.Add(time.Duration(i) * 10 * time.Millisecond),
		}})
		delivered++
	}
	return script
}

// frameCollector captures display callbacks for assertions.
type frameCollector struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *frameCollector) OnFrame(f Frame, fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f.Clone())
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *frameCollector) lastMeta() Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1].Meta
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %v", what)
}

func TestGrabberDeliversEveryFrame(t *testing.T) {
	sess := &stubSession{opened: true, script: scriptFrames(40)}
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{})

	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "all frames delivered", func() bool { return coll.count() >= 40 })
	g.Stop()

	m := coll.lastMeta()
	if m.Index != 39 {
		t.Errorf("Last frame index = %d, want 39", m.Index)
	}
	if m.Delivered != 40 {
		t.Errorf("Delivered = %d, want 40", m.Delivered)
	}
	if m.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", m.Dropped)
	}
	for i, f := range coll.frames {
		if f.Meta.Index != int64(i) {
			t.Fatalf("Frame %d has index %d; indices must advance by one per delivery", i, f.Meta.Index)
		}
	}
}

func TestGrabberCountsMissesAsDrops(t *testing.T) {
	// 7 device events: deliveries at 0,1,3,6 and misses at 2,4,5.
	sess := &stubSession{opened: true, script: scriptFrames(4, 2, 4, 5)}
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{})

	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "all frames delivered", func() bool { return coll.count() >= 4 })
	g.Stop()

	m := coll.lastMeta()
	if m.Delivered != 4 {
		t.Errorf("Delivered = %d, want 4", m.Delivered)
	}
	if m.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", m.Dropped)
	}
	if m.Delivered+m.Dropped != 7 {
		t.Errorf("Delivered+Dropped = %d, want 7 device events", m.Delivered+m.Dropped)
	}
	// Misses never consume a frame index.
	if m.Index != 3 {
		t.Errorf("Last frame index = %d, want 3", m.Index)
	}
}

func TestGrabberStopJoinsLoop(t *testing.T) {
	sess := &stubSession{opened: true, script: scriptFrames(100000)}
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{})

	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first frame", func() bool { return coll.count() >= 1 })
	g.Stop()

	// No callback may land after Stop has returned.
	n := coll.count()
	time.Sleep(20 * time.Millisecond)
	if got := coll.count(); got != n {
		t.Errorf("Display callback fired after Stop: %d -> %d", n, got)
	}
	if got := g.State(); got != StateIdle {
		t.Errorf("State = %v after Stop, want idle", got)
	}
}

func TestGrabberStartRequiresOpenedSession(t *testing.T) {
	sess := &stubSession{}
	g := NewGrabber(sess, nil, nil, nil, GrabberOptions{})
	if err := g.Start(); !errors.Is(err, camera.ErrNotOpened) {
		t.Errorf("Start error = %v, want ErrNotOpened", err)
	}
}

func TestGrabberStartIdempotent(t *testing.T) {
	sess := &stubSession{opened: true, script: scriptFrames(100000)}
	g := NewGrabber(sess, nil, nil, nil, GrabberOptions{})
	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Errorf("Second Start failed: %v", err)
	}
	g.Stop()
	g.Stop() // idle, no-op
}

func TestGrabberFatalErrorStopsLoop(t *testing.T) {
	script := scriptFrames(3)
	script = append(script, grabEvent{err: camera.ErrDeviceLost})
	sess := &stubSession{opened: true, script: script}

	var fatalMu sync.Mutex
	var fatal error
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{
		OnFatal: func(err error) {
			fatalMu.Lock()
			fatal = err
			fatalMu.Unlock()
		},
	})

	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "loop failure", func() bool { return g.State() == StateFailed })

	fatalMu.Lock()
	if !errors.Is(fatal, camera.ErrDeviceLost) {
		t.Errorf("OnFatal error = %v, want ErrDeviceLost", fatal)
	}
	fatalMu.Unlock()
	if err := g.Err(); !errors.Is(err, camera.ErrDeviceLost) {
		t.Errorf("Err() = %v, want ErrDeviceLost", err)
	}
	if got := coll.count(); got != 3 {
		t.Errorf("Delivered %d frames before failure, want 3", got)
	}

	// The failure is terminal until Reconnect.
	if err := g.Start(); !errors.Is(err, camera.ErrDeviceLost) {
		t.Errorf("Start after failure error = %v, want ErrDeviceLost", err)
	}
	g.Stop() // safe while failed

	if err := g.Reconnect(); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if got := g.State(); got != StateIdle {
		t.Errorf("State = %v after Reconnect, want idle", got)
	}
	if err := g.Start(); err != nil {
		t.Errorf("Start after Reconnect failed: %v", err)
	}
	g.Stop()
}

func TestGrabberDisplayEveryClamped(t *testing.T) {
	g := NewGrabber(&stubSession{}, nil, nil, nil, GrabberOptions{DisplayEvery: 0})
	if got := g.DisplayEvery(); got != 1 {
		t.Errorf("DisplayEvery() = %d, want 1", got)
	}
	g.SetDisplayEvery(-5)
	if got := g.DisplayEvery(); got != 1 {
		t.Errorf("DisplayEvery() = %d after SetDisplayEvery(-5), want 1", got)
	}
	g.SetDisplayEvery(10)
	if got := g.DisplayEvery(); got != 10 {
		t.Errorf("DisplayEvery() = %d, want 10", got)
	}
}

func TestGrabberLastFrame(t *testing.T) {
	sess := &stubSession{opened: true, script: scriptFrames(5)}
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{})

	if _, ok := g.LastFrame(); ok {
		t.Error("LastFrame reported a frame before streaming")
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "all frames delivered", func() bool { return coll.count() >= 5 })
	g.Stop()

	f, ok := g.LastFrame()
	if !ok {
		t.Fatal("LastFrame empty after streaming")
	}
	if f.Meta.Index != 4 {
		t.Errorf("LastFrame index = %d, want 4", f.Meta.Index)
	}
}

func TestGrabberPipelineRecordsAllDisplaysDecimated(t *testing.T) {
	// Full pipeline scenario: 250 frames at displayEvery=10 record everything
	// and forward indices 0, 10, ..., 240 to the display.
	const n = 250
	sess := &stubSession{opened: true, script: scriptFrames(n)}
	coll := &frameCollector{}

	saver := testSaver(t)
	buf := NewRecordingBuffer(saver)
	g := NewGrabber(sess, coll, buf, nil, GrabberOptions{DisplayEvery: 10})

	if err := buf.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "all frames recorded", func() bool { return buf.Count() >= n })
	g.Stop()

	if got := coll.count(); got != 25 {
		t.Errorf("Display saw %d frames, want 25", got)
	}
	coll.mu.Lock()
	for i, f := range coll.frames {
		if f.Meta.Index != int64(i*10) {
			t.Errorf("Display frame %d has index %d, want %d", i, f.Meta.Index, i*10)
		}
	}
	coll.mu.Unlock()

	job, err := buf.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	job.Wait()
	if written, total := job.Progress(); written != n || total != n {
		t.Fatalf("Progress() = %d/%d, want %d/%d", written, total, n, n)
	}

	entries, err := os.ReadDir(job.Dir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var frames int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ExtFrame) {
			frames++
		}
	}
	if frames != n {
		t.Errorf("Session directory holds %d frame files, want %d", frames, n)
	}
	for _, name := range []string{"000000" + ExtFrame, "000249" + ExtFrame} {
		if _, err := os.Stat(filepath.Join(job.Dir(), name)); err != nil {
			t.Errorf("Missing frame file %v: %v", name, err)
		}
	}

	info, err := ParseSidecar(filepath.Join(job.Dir(), SidecarName))
	if err != nil {
		t.Fatalf("ParseSidecar failed: %v", err)
	}
	if got := info["Frames"]; got != fmt.Sprint(n) {
		t.Errorf("Sidecar Frames = %q, want %d", got, n)
	}
	if got := info["Resolution"]; got != "2 x 1" {
		t.Errorf("Sidecar Resolution = %q, want %q", got, "2 x 1")
	}
}

func TestGrabberStatsSnapshot(t *testing.T) {
	sess := &stubSession{opened: true, script: scriptFrames(10)}
	coll := &frameCollector{}
	g := NewGrabber(sess, coll, nil, nil, GrabberOptions{})

	if err := g.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "all frames delivered", func() bool { return coll.count() >= 10 })
	g.Stop()

	s := g.Stats()
	if s.Delivered != 10 {
		t.Errorf("Stats.Delivered = %d, want 10", s.Delivered)
	}
	if s.FrameIndex != 9 {
		t.Errorf("Stats.FrameIndex = %d, want 9", s.FrameIndex)
	}
	if s.Width != 2 || s.Height != 1 {
		t.Errorf("Stats resolution = %dx%d, want 2x1", s.Width, s.Height)
	}
	if s.State != "idle" {
		t.Errorf("Stats.State = %q after Stop, want idle", s.State)
	}
	// 100 fps cadence in the script; the smoothed rate settles near it.
	if s.MeasuredFPS < 90 || s.MeasuredFPS > 110 {
		t.Errorf("Stats.MeasuredFPS = %g, want ~100", s.MeasuredFPS)
	}
}
