package serve

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"scicam/catalog"
	"scicam/video"
)

// SessionEntry describes one recorded session for the listing API.
type SessionEntry struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Frames    int    `json:"frames"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	Bits   int `json:"bits,omitempty"`

	ExposureMs  float64 `json:"exposure_ms,omitempty"`
	InternalFPS float64 `json:"internal_fps,omitempty"`
}

type SessionsResponse struct {
	Items []*SessionEntry `json:"items"`
	Count int             `json:"count"`
}

// SessionsServer lists recorded frame sequences. The catalog is preferred
// when available (it carries full capture parameters); the filesystem scan
// is the fallback and also covers sessions recorded before the catalog
// existed.
type SessionsServer struct {
	FS      *video.Filesystem
	Catalog *catalog.Catalog
}

func (s *SessionsServer) BuildResponse() (*SessionsResponse, error) {
	resp := &SessionsResponse{}
	seen := make(map[string]bool)

	if s.Catalog != nil {
		recs, err := s.Catalog.List()
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			name := filepath.Base(r.Directory)
			seen[name] = true
			resp.Items = append(resp.Items, &SessionEntry{
				Name:        name,
				Timestamp:   r.StartedAt.Unix(),
				Frames:      r.Frames,
				Width:       r.Width,
				Height:      r.Height,
				Bits:        r.Bits,
				ExposureMs:  r.ExposureMs,
				InternalFPS: r.InternalFPS,
			})
		}
	}

	records, err := s.FS.Sessions()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if seen[r.Name] {
			continue
		}
		resp.Items = append(resp.Items, &SessionEntry{
			Name:      r.Name,
			Timestamp: r.Start.Unix(),
			Frames:    r.FrameCount,
		})
	}

	resp.Count = len(resp.Items)
	return resp, nil
}

func (s *SessionsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := s.BuildResponse()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	js, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
