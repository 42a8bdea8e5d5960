package video

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrSaveInProgress rejects a recording start while a save job from a
	// previous session is still draining. Starts are rejected, never queued.
	ErrSaveInProgress = errors.New("video: previous save still in progress")

	// ErrAlreadyRecording rejects a second start while recording is active.
	ErrAlreadyRecording = errors.New("video: already recording")

	// ErrNotRecording is returned by StopRecording when no session is
	// active; a repeated stop is a no-op.
	ErrNotRecording = errors.New("video: not recording")

	// ErrNothingRecorded is returned by StopRecording when the session
	// captured no frames; no save job is created.
	ErrNothingRecorded = errors.New("video: no frames recorded")
)

// RecordingBuffer accumulates every retrieved frame while a recording
// session is active. It is orthogonal to display decimation. Appends happen
// on the acquisition loop, counter reads on the UI path, and the swap-out at
// stop hands the frames to a save worker; a single short-held mutex guards
// the slice, with a separate atomic counter for lock-free progress reads.
type RecordingBuffer struct {
	saver *Saver

	// Metrics is optional; when set, recorded frames are counted.
	Metrics *Metrics

	mu      sync.Mutex
	active  bool
	frames  []Frame
	started time.Time
	meta    Meta // snapshot from the first recorded frame

	count  int64 // atomic
	saving int32 // atomic; held from StopRecording until the job drains

	jobMu   sync.Mutex
	lastJob *SaveJob
}

func NewRecordingBuffer(saver *Saver) *RecordingBuffer {
	return &RecordingBuffer{saver: saver}
}

// StartRecording begins a new session: clears any prior buffer contents,
// resets the counter and records the start timestamp. Rejected while a prior
// save job is still draining or a session is already active. The saving
// latch is checked under the same mutex StopRecording sets it under, so a
// start racing a concurrent stop serializes against the handoff.
func (b *RecordingBuffer) StartRecording() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if atomic.LoadInt32(&b.saving) != 0 {
		return ErrSaveInProgress
	}
	if b.active {
		return ErrAlreadyRecording
	}
	b.frames = nil
	b.meta = Meta{}
	b.started = time.Now()
	b.active = true
	atomic.StoreInt64(&b.count, 0)
	log.Info("recording started")
	return nil
}

// Record appends a copy of the frame when a session is active. The copy is
// mandatory: the acquisition loop's working buffer is rewritten on the next
// poll. Safe to call concurrently with Count and StopRecording.
func (b *RecordingBuffer) Record(f Frame) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	if len(b.frames) == 0 {
		b.meta = f.Meta
	}
	b.frames = append(b.frames, f.Clone())
	b.mu.Unlock()
	atomic.AddInt64(&b.count, 1)
	if b.Metrics != nil {
		b.Metrics.Recorded.Inc()
	}
}

// Count returns the number of frames recorded so far, without locking.
func (b *RecordingBuffer) Count() int64 {
	return atomic.LoadInt64(&b.count)
}

// Recording reports whether a session is active.
func (b *RecordingBuffer) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Saving reports whether a save job from a stopped session is still draining.
func (b *RecordingBuffer) Saving() bool {
	return atomic.LoadInt32(&b.saving) != 0
}

// LastJob returns the most recently created save job, nil before the first.
func (b *RecordingBuffer) LastJob() *SaveJob {
	b.jobMu.Lock()
	defer b.jobMu.Unlock()
	return b.lastJob
}

// StopRecording ends the active session and moves the accumulated frames
// into a new save job in one critical section, so no frame arriving during
// the handoff is lost or double-counted. The job is started on its own
// worker and runs to completion; there is no cancellation. A second stop is
// a no-op, and an empty session creates no job.
func (b *RecordingBuffer) StopRecording() (*SaveJob, error) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil, ErrNotRecording
	}
	frames := b.frames
	meta := b.meta
	started := b.started
	b.frames = nil
	b.active = false
	if len(frames) == 0 {
		b.mu.Unlock()
		log.Info("recording stopped with no frames, nothing to save")
		return nil, ErrNothingRecorded
	}
	// Latch before releasing the mutex so no start can slip in between the
	// session ending and the save beginning.
	atomic.StoreInt32(&b.saving, 1)
	b.mu.Unlock()

	job := b.saver.New(frames, started, meta, func() {
		atomic.StoreInt32(&b.saving, 0)
	})
	b.jobMu.Lock()
	b.lastJob = job
	b.jobMu.Unlock()

	log.Infof("recording stopped, saving %d frames", len(frames))
	job.Start()
	return job, nil
}
