package serve

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"scicam/notify"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second

	// statsPeriod is the steady-state stats push rate; lifecycle events
	// trigger an immediate extra push.
	statsPeriod = time.Second
)

// StatusUpdater pushes pipeline status snapshots to connected websocket
// clients. It is the thread-safe dispatch boundary between the pipeline
// workers and the browser UI: workers post events here, the updater's own
// goroutines talk to sockets.
type StatusUpdater struct {
	Stats *StatsServer

	upgrader websocket.Upgrader
	cs       map[chan bool]bool
	addc     chan chan bool
	delc     chan chan bool
	kick     chan bool
}

func NewStatusUpdater(stats *StatsServer) *StatusUpdater {
	m := &StatusUpdater{
		Stats: stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:   make(map[chan bool]bool),
		addc: make(chan chan bool),
		delc: make(chan chan bool),
		kick: make(chan bool),
	}
	go func() {
		for {
			select {
			case c := <-m.addc:
				m.cs[c] = true
			case c := <-m.delc:
				delete(m.cs, c)
			case <-m.kick:
				for k := range m.cs {
					select {
					case k <- true:
					default:
						// Client already has a push pending.
					}
				}
			}
		}
	}()
	return m
}

// Notify implements notify.Listener: any recording lifecycle event triggers
// an immediate push to all clients.
func (m *StatusUpdater) Notify(e *notify.Event) error {
	m.kick <- true
	return nil
}

func (m *StatusUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for status stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *StatusUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to status update socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from status update socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	statsTicker := time.NewTicker(statsPeriod)
	defer statsTicker.Stop()

	notifyc := make(chan bool, 1)
	m.addc <- notifyc
	defer func() { m.delc <- notifyc }()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				ws.Close()
				return
			}
		}
	}()

	push := func() error {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(m.Stats.BuildResponse())
	}

	for {
		select {
		case <-notifyc:
			if err := push(); err != nil {
				return
			}
		case <-statsTicker.C:
			if err := push(); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
