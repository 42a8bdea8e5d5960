package serve

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"scicam/video"
)

// FrameServer serves individual frame files out of a recorded session, for
// the post-hoc sequence viewer.
type FrameServer struct {
	FS *video.Filesystem
}

func (s *FrameServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("session")
	if name == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	n, err := strconv.Atoi(r.Form.Get("frame"))
	if err != nil {
		http.Error(w, "bad frame number", http.StatusBadRequest)
		return
	}

	path, err := s.FS.FramePath(name, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", "image/tiff")
	io.Copy(w, f)
}

// DeleteServer removes a recorded session from disk and the catalog.
type DeleteServer struct {
	FS       *video.Filesystem
	OnDelete func(name string)
}

func (s *DeleteServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("session")
	if name == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	if _, err := s.FS.Session(name); err != nil {
		http.Error(w, fmt.Sprintf("No session found for %v", name), http.StatusNotFound)
		return
	}
	if err := s.FS.DeleteSession(name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.OnDelete != nil {
		s.OnDelete(name)
	}
}
