package video

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"scicam/camera"
)

// GrabberState describes the acquisition loop lifecycle.
type GrabberState int

const (
	StateIdle GrabberState = iota
	StateRunning
	StateFailed
)

func (s GrabberState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// DefaultPollTimeout bounds the wait for the next device frame.
const DefaultPollTimeout = 500 * time.Millisecond

// GrabberOptions configures a Grabber.
type GrabberOptions struct {
	// DisplayEvery forwards every Nth retrieved frame to the display.
	DisplayEvery int

	// PollTimeout bounds each device wait. Defaults to DefaultPollTimeout.
	PollTimeout time.Duration

	// OnFatal, when set, is invoked from the loop goroutine after a fatal
	// device error has stopped the loop.
	OnFatal func(err error)
}

// Grabber is the acquisition loop: it polls the camera session for frames at
// hardware rate, maintains delivered/dropped statistics and a smoothed
// measured fps, records every retrieved frame, and forwards a decimated
// subset to the display.
type Grabber struct {
	session camera.Session
	display Display
	rec     *RecordingBuffer
	gate    *Gate
	metrics *Metrics
	onFatal func(error)

	pollTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	statsMu sync.Mutex
	stats   Stats
	state   GrabberState
	lastErr error
	last    *Frame // clone of the most recently displayed frame
}

func NewGrabber(session camera.Session, display Display, rec *RecordingBuffer, metrics *Metrics, opts GrabberOptions) *Grabber {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.DisplayEvery < 1 {
		opts.DisplayEvery = 1
	}
	g := &Grabber{
		session:     session,
		display:     display,
		rec:         rec,
		gate:        NewGate(opts.DisplayEvery),
		metrics:     metrics,
		onFatal:     opts.OnFatal,
		pollTimeout: opts.PollTimeout,
	}
	g.stats.State = StateIdle.String()
	return g
}

// Start transitions the loop from idle to running. It is a no-op while
// already running, fails when the camera session is not opened, and fails
// after a fatal device loss until Reconnect clears the terminal state.
func (g *Grabber) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	if g.State() == StateFailed {
		return fmt.Errorf("grabber: device lost, reconnect required: %w", camera.ErrDeviceLost)
	}
	if !g.session.IsOpened() {
		return camera.ErrNotOpened
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	g.running = true
	g.setState(StateRunning, nil)
	go g.loop(g.stop, g.done)
	return nil
}

// Stop transitions running to idle. It returns only after the loop goroutine
// has fully exited, so no frame callback fires after Stop returns. Safe to
// call while idle, and safe while a save job from a prior recording session
// is still draining.
func (g *Grabber) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	stop, done := g.stop, g.done
	g.mu.Unlock()

	close(stop)
	<-done

	g.statsMu.Lock()
	if g.state == StateRunning {
		g.state = StateIdle
		g.stats.State = StateIdle.String()
	}
	g.statsMu.Unlock()
}

// Reconnect reopens the device session after a fatal loss and clears the
// terminal state so streaming can be started again.
func (g *Grabber) Reconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("grabber: cannot reconnect while running")
	}
	if err := g.session.Reconnect(); err != nil {
		return err
	}
	g.setState(StateIdle, nil)
	return nil
}

// SetDisplayEvery updates the display decimation live. Clamped to >=1.
func (g *Grabber) SetDisplayEvery(n int) {
	g.gate.SetEvery(n)
}

func (g *Grabber) DisplayEvery() int {
	return g.gate.Every()
}

// State returns the loop lifecycle state.
func (g *Grabber) State() GrabberState {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.state
}

// Err returns the terminal error after a fatal device loss, nil otherwise.
func (g *Grabber) Err() error {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.lastErr
}

// Stats returns the current pipeline health snapshot.
func (g *Grabber) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}

// LastFrame returns a copy of the most recently displayed frame, used for
// still capture. The bool is false before the first frame of a session.
func (g *Grabber) LastFrame() (Frame, bool) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	if g.last == nil {
		return Frame{}, false
	}
	return *g.last, true
}

func (g *Grabber) setState(s GrabberState, err error) {
	g.statsMu.Lock()
	g.state = s
	g.lastErr = err
	g.stats.State = s.String()
	g.statsMu.Unlock()
}

func (g *Grabber) loop(stop, done chan struct{}) {
	defer close(done)
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	var index int64 = -1
	var delivered, dropped int64
	var meter fpsMeter

	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := g.session.WaitNext(g.pollTimeout)
		if err != nil {
			if errors.Is(err, camera.ErrDeviceLost) || errors.Is(err, camera.ErrNotOpened) {
				log.Errorf("acquisition loop: fatal device error: %v", err)
				g.setState(StateFailed, err)
				if g.onFatal != nil {
					g.onFatal(err)
				}
				return
			}
			// Transient miss: the device had (or will redeliver) a frame we
			// could not claim. Count it and keep polling.
			dropped++
			if g.metrics != nil {
				g.metrics.Dropped.Inc()
			}
			g.publish(nil, index, delivered, dropped, meter.value)
			continue
		}

		index++
		delivered++
		fps := meter.tick(raw.Time)
		if g.metrics != nil {
			g.metrics.Delivered.Inc()
			g.metrics.MeasuredFPS.Set(fps)
		}

		frame := Frame{
			Pix:  raw.Pix,
			Time: raw.Time,
			Meta: Meta{
				Width:        raw.Width,
				Height:       raw.Height,
				Binning:      raw.Binning,
				Bits:         raw.Bits,
				Index:        index,
				ExposureSec:  raw.ExposureSec,
				InternalFPS:  raw.InternalFPS,
				ReadoutSpeed: raw.ReadoutSpeed,
				Delivered:    delivered,
				Dropped:      dropped,
			},
		}

		// Recording sees every retrieved frame; decimation never gates it.
		if g.rec != nil {
			g.rec.Record(frame)
		}

		if g.gate.Admit(index) {
			if g.display != nil {
				g.display.OnFrame(frame, fps)
			}
			clone := frame.Clone()
			g.statsMu.Lock()
			g.last = &clone
			g.statsMu.Unlock()
		}

		g.publish(&frame.Meta, index, delivered, dropped, fps)
	}
}

// publish updates the stats snapshot after each poll, hit or miss.
func (g *Grabber) publish(m *Meta, index, delivered, dropped int64, fps float64) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	if m != nil {
		g.stats.Width = m.Width
		g.stats.Height = m.Height
		g.stats.Binning = m.Binning
		g.stats.Bits = m.Bits
		g.stats.ExposureSec = m.ExposureSec
		g.stats.InternalFPS = m.InternalFPS
		g.stats.ReadoutSpeed = m.ReadoutSpeed
	}
	g.stats.FrameIndex = index
	g.stats.Delivered = delivered
	g.stats.Dropped = dropped
	g.stats.MeasuredFPS = fps
	g.stats.State = g.state.String()
}
