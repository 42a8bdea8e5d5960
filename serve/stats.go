package serve

import (
	"encoding/json"
	"net/http"

	"scicam/video"
)

// StatusResponse is the full pipeline snapshot served to the UI.
type StatusResponse struct {
	video.Stats

	DisplayEvery int `json:"display_every"`

	Recording      bool  `json:"recording"`
	RecordedFrames int64 `json:"recorded_frames"`

	Saving      bool   `json:"saving"`
	SaveWritten int    `json:"save_written,omitempty"`
	SaveTotal   int    `json:"save_total,omitempty"`
	SaveDir     string `json:"save_dir,omitempty"`
}

// StatsServer serves the read-only pipeline health snapshot.
type StatsServer struct {
	Grabber *video.Grabber
	Buffer  *video.RecordingBuffer
}

func (s *StatsServer) BuildResponse() *StatusResponse {
	resp := &StatusResponse{
		Stats:        s.Grabber.Stats(),
		DisplayEvery: s.Grabber.DisplayEvery(),
	}
	if s.Buffer != nil {
		resp.Recording = s.Buffer.Recording()
		resp.RecordedFrames = s.Buffer.Count()
		resp.Saving = s.Buffer.Saving()
		if job := s.Buffer.LastJob(); job != nil {
			resp.SaveWritten, resp.SaveTotal = job.Progress()
			resp.SaveDir = job.Dir()
		}
	}
	return resp
}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.BuildResponse())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
