package sink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"scicam/video"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Timestamp: 0.000000\r\n" +
	"\r\n"

type MJPEGID struct {
	Name string
}

// MJPEGServer serves live decimated frames to browsers as multipart JPEG.
// It is the stand-in UI consumer for the display path.
type MJPEGServer struct {
	m map[MJPEGID]*MJPEGStream

	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[MJPEGID]*MJPEGStream),
	}
}

func (s *MJPEGServer) NewStream(id MJPEGID) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[id]; ok {
		log.Panicf("A stream for %v already exists", id)
	}

	ms := &MJPEGStream{
		id:     id,
		m:      make(map[chan []byte]bool),
		parent: s,
	}

	s.m[id] = ms
	return ms
}

func (s *MJPEGServer) getStream(id MJPEGID) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	if ms, ok := s.m[id]; ok {
		return ms
	}
	return nil
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := MJPEGID{
		Name: r.Form.Get("name"),
	}
	if id.Name == "" {
		id.Name = "live"
	}

	stream := s.getStream(id)
	if stream == nil {
		http.Error(w, "unknown stream ID", http.StatusNotFound)
		return
	}

	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream connected to %v", id)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := make(chan []byte)
	stream.lock.Lock()
	stream.m[c] = true
	stream.lock.Unlock()

	for {
		b := <-c
		if _, err := w.Write(b); err != nil {
			break
		}
	}

	stream.lock.Lock()
	delete(stream.m, c)
	stream.lock.Unlock()
	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream disconnected from %v", id)
}

type MJPEGStream struct {
	id MJPEGID
	m  map[chan []byte]bool

	parent *MJPEGServer
	lock   sync.Mutex
}

func (s *MJPEGStream) empty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m) == 0
}

// OnFrame implements video.Display, so a stream can be wired directly as the
// grabber's decimated consumer.
func (s *MJPEGStream) OnFrame(f video.Frame, measuredFPS float64) {
	s.Put(f)
}

func (s *MJPEGStream) Put(input video.Frame) {
	if s.empty() {
		// Nobody is listening; don't bother encoding.
		return
	}

	jpg, err := encodeJPEG(input)
	if err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.id, err)
		return
	}

	// Each frame gets its own payload; a slow client goroutine may still be
	// writing the previous one when the next Put arrives.
	header := fmt.Sprintf(headerf, len(jpg))
	frame := make([]byte, len(header)+len(jpg))
	copy(frame, header)
	copy(frame[len(header):], jpg)

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.m {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	delete(s.parent.m, s.id)
}

// encodeJPEG converts a mono frame to JPEG for the live view. 16-bit frames
// are shifted down to 8 bits; JPEG is display-only, recording keeps full
// depth.
func encodeJPEG(f video.Frame) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, f.Meta.Width, f.Meta.Height))
	if f.Meta.BytesPerPixel() == 2 {
		shift := uint(f.Meta.Bits - 8)
		n := len(f.Pix) / 2
		for i := 0; i < n && i < len(img.Pix); i++ {
			v := uint16(f.Pix[2*i]) | uint16(f.Pix[2*i+1])<<8
			img.Pix[i] = byte(v >> shift)
		}
	} else {
		copy(img.Pix, f.Pix)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
