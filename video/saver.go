package video

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"

	"scicam/util"
)

// progressEvery bounds the rate of save progress notifications. The final
// frame always publishes regardless.
const progressEvery = 100

// Saver produces save jobs. Callbacks are optional; they are invoked on the
// job's worker goroutine, so receivers that touch UI state must marshal the
// update onto their own dispatch path.
type Saver struct {
	FS *Filesystem

	OnProgress func(job *SaveJob, written, total int)
	OnComplete func(job *SaveJob)

	Metrics *Metrics

	// writeFrame overrides the frame encoder, for tests.
	writeFrame func(path string, f Frame) error
}

// New creates a save job owning the given frames. release is invoked exactly
// once when the job finishes draining, successful or not.
func (s *Saver) New(frames []Frame, started time.Time, meta Meta, release func()) *SaveJob {
	return &SaveJob{
		ID:      uuid.New().String(),
		saver:   s,
		frames:  frames,
		started: started,
		meta:    meta,
		total:   len(frames),
		release: release,
		done:    util.NewEvent(),
	}
}

// SaveJob drains one recording session to durable storage on a dedicated
// worker: frames in capture order under zero-padded sequential names, then a
// metadata sidecar. It always runs to completion; there is no cancellation.
type SaveJob struct {
	ID string

	saver   *Saver
	frames  []Frame
	started time.Time
	meta    Meta
	total   int
	release func()

	written     int64        // atomic
	dir         atomic.Value // string, set before the first write
	releaseOnce sync.Once
	done        *util.Event
}

// Start launches the worker. Fire-and-forget: completion is observed via the
// Saver callbacks or Wait, never joined by the pipeline.
func (j *SaveJob) Start() {
	go j.run()
}

// Wait blocks until the job has finished draining. Used by tests and
// shutdown paths that want the files on disk before proceeding.
func (j *SaveJob) Wait() {
	j.done.Wait()
}

// Done exposes completion for select statements.
func (j *SaveJob) Done() <-chan struct{} {
	return j.done.Done()
}

// Progress returns frames written so far and the session total.
func (j *SaveJob) Progress() (written, total int) {
	return int(atomic.LoadInt64(&j.written)), j.total
}

// Dir returns the destination directory, empty until the job has created it.
func (j *SaveJob) Dir() string {
	if d, ok := j.dir.Load().(string); ok {
		return d
	}
	return ""
}

// Meta returns the capture parameter snapshot from recording start.
func (j *SaveJob) Meta() Meta {
	return j.meta
}

// Started returns the recording start time the session is named after.
func (j *SaveJob) Started() time.Time {
	return j.started
}

// releaseFrames drops frame ownership and runs the release closure exactly
// once, whichever of the completion paths gets there first.
func (j *SaveJob) releaseFrames() {
	j.releaseOnce.Do(func() {
		j.frames = nil
		if j.release != nil {
			j.release()
		}
	})
}

func (j *SaveJob) run() {
	defer func() {
		j.releaseFrames()
		j.done.Notify()
	}()

	jlog := log.WithField("job", j.ID)

	dir, err := j.saver.FS.NewSessionDir(j.started)
	if err != nil {
		jlog.Errorf("failed to create session directory: %v", err)
		return
	}
	j.dir.Store(dir)
	jlog.Infof("saving %d frames to %v", j.total, dir)

	write := j.saver.writeFrame
	if write == nil {
		write = writeTIFF
	}

	width := padWidth(j.total)
	for i, f := range j.frames {
		name := fmt.Sprintf("%0*d%s", width, i, ExtFrame)
		if err := write(filepath.Join(dir, name), f); err != nil {
			// Best effort: a failed frame is skipped, not retried, and the
			// job continues. Partial data beats none.
			jlog.Errorf("failed to write %v, skipping: %v", name, err)
			if j.saver.Metrics != nil {
				j.saver.Metrics.SaveErrors.Inc()
			}
		} else {
			atomic.AddInt64(&j.written, 1)
			if j.saver.Metrics != nil {
				j.saver.Metrics.Saved.Inc()
			}
		}
		if (i+1)%progressEvery == 0 || i+1 == j.total {
			j.publishProgress()
		}
	}

	// The sidecar is always attempted, even after per-frame failures.
	if err := j.writeSidecar(dir); err != nil {
		jlog.Errorf("failed to write sidecar: %v", err)
	}

	written, _ := j.Progress()
	jlog.Infof("saved %d/%d frames to %v", written, j.total, dir)

	// Release before announcing completion, so a client reacting to the
	// notification can start the next recording immediately.
	j.releaseFrames()
	if j.saver.OnComplete != nil {
		j.saver.OnComplete(j)
	}
}

func (j *SaveJob) publishProgress() {
	if j.saver.OnProgress == nil {
		return
	}
	written, total := j.Progress()
	j.saver.OnProgress(j, written, total)
}

func (j *SaveJob) writeSidecar(dir string) error {
	f, err := os.Create(filepath.Join(dir, SidecarName))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "Start: %s\n", j.started.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(f, "Frames: %d\n", j.total)
	fmt.Fprintf(f, "Resolution: %d x %d\n", j.meta.Width, j.meta.Height)
	fmt.Fprintf(f, "Binning: %d\n", j.meta.Binning)
	fmt.Fprintf(f, "Bits: %d\n", j.meta.Bits)
	fmt.Fprintf(f, "Exposure(ms): %g\n", j.meta.ExposureSec*1000)
	fmt.Fprintf(f, "Internal FPS: %g\n", j.meta.InternalFPS)
	fmt.Fprintf(f, "Readout speed: %g\n", j.meta.ReadoutSpeed)
	return f.Sync()
}

// padWidth sizes the zero-padded filename field to the frame count, with a
// floor of six digits so typical sessions share a uniform scheme.
func padWidth(total int) int {
	if total < 2 {
		return 6
	}
	w := int(math.Ceil(math.Log10(float64(total))))
	if w < 6 {
		w = 6
	}
	return w
}

// writeTIFF encodes one mono frame. 16-bit frames arrive little-endian from
// the device and are swapped into the big-endian order image.Gray16 expects.
func writeTIFF(path string, f Frame) error {
	bounds := image.Rect(0, 0, f.Meta.Width, f.Meta.Height)
	var img image.Image
	if f.Meta.BytesPerPixel() == 2 {
		g := image.NewGray16(bounds)
		n := len(f.Pix) / 2
		for i := 0; i < n; i++ {
			g.Pix[2*i] = f.Pix[2*i+1]
			g.Pix[2*i+1] = f.Pix[2*i]
		}
		img = g
	} else {
		g := image.NewGray(bounds)
		copy(g.Pix, f.Pix)
		img = g
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tiff.Encode(out, img, nil); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SaveStill writes a single frame to the save root, named by capture time.
func SaveStill(fs *Filesystem, f Frame) (string, error) {
	t := f.Time
	if t.IsZero() {
		t = time.Now()
	}
	path := fs.StillPath(t)
	if err := writeTIFF(path, f); err != nil {
		return "", err
	}
	log.Infof("captured still to %v", path)
	return path, nil
}
