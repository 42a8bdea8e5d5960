package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// SessionTimeLayout names session subdirectories after the recording
	// start time. Lexicographic order matches chronological order.
	SessionTimeLayout = "20060102_150405"

	// StillTimeLayout names single-frame captures in the save root.
	StillTimeLayout = "20060102_150405.000"

	ExtFrame    = ".tiff"
	SidecarName = "capture_info.txt"
)

// SessionRecord describes one recorded frame sequence found on disk.
type SessionRecord struct {
	Name  string
	Dir   string
	Start time.Time

	// FrameCount is the number of frame files present in the directory,
	// which may differ from the sidecar's Frames field after partial writes.
	FrameCount int

	// Info holds the parsed sidecar fields, nil when no sidecar exists.
	Info map[string]string
}

// Filesystem manages the save root: session subdirectories, still captures,
// and scanning what previous sessions left on disk.
type Filesystem struct {
	BasePath string

	mu sync.Mutex
}

func NewFilesystem(path string) (*Filesystem, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &Filesystem{BasePath: path}, nil
}

// NewSessionDir creates a fresh destination subdirectory for a recording
// that started at t.
func (f *Filesystem) NewSessionDir(t time.Time) (string, error) {
	dir := filepath.Join(f.BasePath, t.Format(SessionTimeLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// StillPath returns the destination for a single-frame capture taken at t.
func (f *Filesystem) StillPath(t time.Time) string {
	return filepath.Join(f.BasePath, t.Format(StillTimeLayout)+ExtFrame)
}

// Sessions scans the save root for recorded sessions, newest first.
func (f *Filesystem) Sessions() ([]*SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.BasePath)
	if err != nil {
		return nil, err
	}

	var records []*SessionRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := time.ParseInLocation(SessionTimeLayout, e.Name(), time.Local)
		if err != nil {
			continue
		}
		dir := filepath.Join(f.BasePath, e.Name())
		r := &SessionRecord{
			Name:  e.Name(),
			Dir:   dir,
			Start: t,
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if strings.HasSuffix(file.Name(), ExtFrame) {
				r.FrameCount++
			}
		}
		if info, err := ParseSidecar(filepath.Join(dir, SidecarName)); err == nil {
			r.Info = info
		}
		records = append(records, r)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Start.After(records[j].Start)
	})
	return records, nil
}

// Session returns the record for a single named session directory.
func (f *Filesystem) Session(name string) (*SessionRecord, error) {
	records, err := f.Sessions()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("video: no session named %q", name)
}

// FramePath returns the path of the nth frame file of a session, resolved by
// sorted filename so it matches capture order.
func (f *Filesystem) FramePath(name string, n int) (string, error) {
	dir := filepath.Join(f.BasePath, filepath.Base(name))
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var frames []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ExtFrame) {
			frames = append(frames, file.Name())
		}
	}
	sort.Strings(frames)
	if n < 0 || n >= len(frames) {
		return "", fmt.Errorf("video: frame %d out of range (%d frames)", n, len(frames))
	}
	return filepath.Join(dir, frames[n]), nil
}

// DeleteSession removes a session directory and everything in it.
func (f *Filesystem) DeleteSession(name string) error {
	dir := filepath.Join(f.BasePath, filepath.Base(name))
	if _, err := time.ParseInLocation(SessionTimeLayout, filepath.Base(name), time.Local); err != nil {
		return fmt.Errorf("video: not a session directory: %q", name)
	}
	return os.RemoveAll(dir)
}

// ParseSidecar reads the line-oriented key:value sidecar written next to a
// frame sequence.
func ParseSidecar(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return info, nil
}
