package camera

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type simState int

const (
	simClosed simState = iota
	simOpened
	simStreaming
)

// SimOptions configures a simulated camera.
type SimOptions struct {
	// SensorWidth and SensorHeight bound the applicable image dimensions.
	// Requests beyond the sensor are clamped with a warning, like real
	// hardware. Defaults to 2304x2304.
	SensorWidth  int
	SensorHeight int

	// FPS is the simulated internal frame rate. Defaults to 30.
	FPS float64

	// DropEvery loses every Nth frame-ready event (the frame is produced by
	// the "sensor" but cannot be claimed). 0 disables drops.
	DropEvery int

	// FailAfter, when >0, invalidates the device handle after that many
	// ready events, simulating a cable pull mid-stream.
	FailAfter int64
}

// Sim is an in-process camera session producing synthetic mono frames at a
// fixed rate. It implements the full Session state machine and is used by the
// demo binary and tests in place of vendor hardware.
type Sim struct {
	opts SimOptions

	mu       sync.Mutex
	state    simState
	settings Settings
	exposure float64
	lost     bool

	next   time.Time
	events int64

	base []float64
	pix  []byte
	rnd  *rand.Rand
}

func NewSim(opts SimOptions) *Sim {
	if opts.SensorWidth <= 0 {
		opts.SensorWidth = 2304
	}
	if opts.SensorHeight <= 0 {
		opts.SensorHeight = 2304
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return &Sim{
		opts: opts,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Sim) InitAndOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != simClosed {
		return fmt.Errorf("camera: already opened")
	}
	s.state = simOpened
	s.lost = false
	s.settings = Settings{
		Width:        s.opts.SensorWidth,
		Height:       s.opts.SensorHeight,
		Binning:      1,
		Bits:         16,
		ExposureSec:  0.010,
		ReadoutSpeed: ReadoutFastest,
	}
	s.exposure = 0.010
	s.regen()
	log.Infof("sim camera opened, sensor %dx%d @ %.1f fps",
		s.opts.SensorWidth, s.opts.SensorHeight, s.opts.FPS)
	return nil
}

func (s *Sim) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != simClosed && !s.lost
}

func (s *Sim) Apply(req Settings) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simClosed || s.lost {
		return nil, ErrNotOpened
	}
	if req.Bits != 8 && req.Bits != 12 && req.Bits != 16 {
		return nil, fmt.Errorf("camera: unsupported bit depth %d", req.Bits)
	}
	if req.Binning < 1 {
		return nil, fmt.Errorf("camera: invalid binning %d", req.Binning)
	}

	applied := req
	warning := ""
	maxW := s.opts.SensorWidth / req.Binning
	maxH := s.opts.SensorHeight / req.Binning
	if applied.Width <= 0 || applied.Width > maxW {
		applied.Width = maxW
		warning = fmt.Sprintf("width clamped to %d", maxW)
	}
	if applied.Height <= 0 || applied.Height > maxH {
		applied.Height = maxH
		warning = fmt.Sprintf("height clamped to %d", maxH)
	}
	if applied.ExposureSec <= 0 {
		applied.ExposureSec = 0.010
	}

	s.settings = applied
	s.exposure = applied.ExposureSec
	s.regen()
	return &ApplyResult{Warning: warning, Applied: applied}, nil
}

func (s *Sim) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simClosed || s.lost {
		return ErrNotOpened
	}
	if s.state == simStreaming {
		return nil
	}
	s.state = simStreaming
	s.next = time.Now()
	s.events = 0
	return nil
}

func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simStreaming {
		s.state = simOpened
	}
}

func (s *Sim) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simClosed {
		return ErrNotOpened
	}
	s.lost = false
	s.state = simOpened
	log.Info("sim camera reconnected")
	return nil
}

func (s *Sim) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = simClosed
	s.base = nil
	s.pix = nil
}

func (s *Sim) WaitNext(timeout time.Duration) (*RawFrame, error) {
	s.mu.Lock()
	if s.state != simStreaming {
		s.mu.Unlock()
		if s.state == simClosed || s.lost {
			return nil, ErrNotOpened
		}
		return nil, ErrNotStreaming
	}
	interval := time.Duration(float64(time.Second) / s.opts.FPS)
	due := s.next
	s.mu.Unlock()

	wait := time.Until(due)
	if wait > timeout {
		time.Sleep(timeout)
		return nil, ErrTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != simStreaming {
		return nil, ErrNotStreaming
	}
	s.next = due.Add(interval)
	s.events++

	if s.opts.FailAfter > 0 && s.events > s.opts.FailAfter {
		s.lost = true
		return nil, ErrDeviceLost
	}
	if s.opts.DropEvery > 0 && s.events%int64(s.opts.DropEvery) == 0 {
		return nil, ErrTimeout
	}

	s.render()
	return &RawFrame{
		Pix:          s.pix,
		Width:        s.settings.Width,
		Height:       s.settings.Height,
		Binning:      s.settings.Binning,
		Bits:         s.settings.Bits,
		ExposureSec:  s.exposure,
		InternalFPS:  s.opts.FPS,
		ReadoutSpeed: s.settings.ReadoutSpeed,
		Time:         time.Now(),
	}, nil
}

func (s *Sim) ExposureBounds() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simClosed || s.lost {
		return 0, 0, ErrNotOpened
	}
	return 0.0001, 10.0, nil
}

func (s *Sim) SetExposure(sec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == simClosed || s.lost {
		return ErrNotOpened
	}
	if sec <= 0 {
		return fmt.Errorf("camera: invalid exposure %v", sec)
	}
	s.exposure = sec
	s.settings.ExposureSec = sec
	return nil
}

// regen rebuilds the synthetic scene for the current settings: a gaussian
// spot centered on the sensor, shot noise added per frame in render.
func (s *Sim) regen() {
	w, h := s.settings.Width, s.settings.Height
	s.base = make([]float64, w*h)
	cx, cy := float64(w)/2, float64(h)/2
	sigma2 := float64(w*h) / 20
	peak := float64(int(1)<<uint(s.settings.Bits)) * 0.6
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			s.base[y*w+x] = peak * math.Exp(-(dx*dx+dy*dy)/sigma2)
		}
	}
	bpp := 1
	if s.settings.Bits > 8 {
		bpp = 2
	}
	s.pix = make([]byte, w*h*bpp)
}

// render fills the working pixel buffer with the scene plus noise. The buffer
// is reused across frames, matching real device semantics.
func (s *Sim) render() {
	limit := (int(1) << uint(s.settings.Bits)) - 1
	wide := s.settings.Bits > 8
	for i, b := range s.base {
		v := b + s.rnd.NormFloat64()*math.Sqrt(b+1)
		if v < 0 {
			v = 0
		}
		n := int(v)
		if n > limit {
			n = limit
		}
		if wide {
			s.pix[2*i] = byte(n)
			s.pix[2*i+1] = byte(n >> 8)
		} else {
			s.pix[i] = byte(n)
		}
	}
}
