package serve

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"scicam/notify"
	"scicam/video"
)

// RecordServer exposes the recording start/stop commands over HTTP.
type RecordServer struct {
	Buffer   *video.RecordingBuffer
	Notifier *notify.Notifier
}

func (s *RecordServer) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/record/start", s.handleStart)
	mux.HandleFunc("/record/stop", s.handleStop)
}

func (s *RecordServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Buffer.StartRecording(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, video.ErrSaveInProgress) || errors.Is(err, video.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	if s.Notifier != nil {
		s.Notifier.RecordingStarted()
	}
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "recording")
}

func (s *RecordServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	job, err := s.Buffer.StopRecording()
	switch {
	case errors.Is(err, video.ErrNotRecording):
		// Repeated stop is a no-op.
		w.Header().Add("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "not recording")
		return
	case errors.Is(err, video.ErrNothingRecorded):
		w.Header().Add("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "no frames to save")
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, total := job.Progress()
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "saving %d frames\n", total)
}

// CaptureServer saves the most recently displayed frame as a still.
type CaptureServer struct {
	Grabber *video.Grabber
	FS      *video.Filesystem
}

func (s *CaptureServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	frame, ok := s.Grabber.LastFrame()
	if !ok {
		http.Error(w, "no frame to capture", http.StatusConflict)
		return
	}
	path, err := video.SaveStill(s.FS, frame)
	if err != nil {
		log.Errorf("still capture failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, path)
}
