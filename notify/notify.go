package notify

import (
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
)

// EventType identifies a recording lifecycle event.
type EventType string

const (
	EventRecordingStarted EventType = "recording_started"
	EventSaveProgress     EventType = "save_progress"
	EventSaveComplete     EventType = "save_complete"
	EventDeviceLost       EventType = "device_lost"
)

// Event is sent to all Listeners registered with Notifier.
type Event struct {
	Type       EventType
	TimeString string

	// Directory is the save destination, set for save events.
	Directory string
	Written   int
	Frames    int
}

type Listener interface {
	Notify(e *Event) error
}

// Notifier fans recording lifecycle events out to its listeners. Listeners
// run on their own goroutines so a slow notification channel never blocks
// the pipeline. Progress events are already rate-bounded by the save worker.
type Notifier struct {
	Listeners []Listener

	l sync.Mutex
}

func (n *Notifier) publish(e *Event) {
	n.l.Lock()
	listeners := n.Listeners[:]
	n.l.Unlock()
	for _, l := range listeners {
		go func(l Listener) {
			if err := l.Notify(e); err != nil {
				log.Errorf("Failed to send notification: %v", err)
			}
		}(l)
	}
}

// AddListener registers a listener after construction.
func (n *Notifier) AddListener(l Listener) {
	n.l.Lock()
	defer n.l.Unlock()
	n.Listeners = append(n.Listeners, l)
}

// RecordingStarted is invoked when a recording session begins.
func (n *Notifier) RecordingStarted() {
	n.publish(&Event{
		Type:       EventRecordingStarted,
		TimeString: time.Now().Format("3:04 PM"),
	})
}

// SaveProgress is invoked by the save worker at its bounded progress rate.
func (n *Notifier) SaveProgress(directory string, written, total int) {
	n.publish(&Event{
		Type:       EventSaveProgress,
		TimeString: time.Now().Format("3:04 PM"),
		Directory:  directory,
		Written:    written,
		Frames:     total,
	})
}

// SaveComplete is invoked when a save job finishes draining.
func (n *Notifier) SaveComplete(directory string, written, total int) {
	e := &Event{
		Type:       EventSaveComplete,
		TimeString: time.Now().Format("3:04 PM"),
		Directory:  directory,
		Written:    written,
		Frames:     total,
	}
	log.Infof("Sending notification: %v", spew.Sdump(e))
	n.publish(e)
}

// DeviceLost is invoked when the acquisition loop hits a fatal device error.
func (n *Notifier) DeviceLost() {
	n.publish(&Event{
		Type:       EventDeviceLost,
		TimeString: time.Now().Format("3:04 PM"),
	})
}
