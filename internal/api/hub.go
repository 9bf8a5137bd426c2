package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/notify"
)

const (
	clientQueue  = 16
	writeTimeout = 5 * time.Second
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type notificationData struct {
	Kind   notify.Kind             `json:"kind"`
	Events []models.DetectionEvent `json:"events"`
}

type outbound struct {
	msgType int
	data    []byte
}

// Hub fans status, frame and notification events out to websocket clients.
// A slow client loses messages instead of blocking the detection loop.
type Hub struct {
	upgrader websocket.Upgrader
	frames   bool

	mu      sync.Mutex
	clients map[*websocket.Conn]chan outbound
}

// NewHub creates a hub. When frames is set every processed frame is sent as a
// binary JPEG message after its JSON description.
func NewHub(frames bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		frames:   frames,
		clients:  make(map[*websocket.Conn]chan outbound),
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) PublishStatus(ev models.StatusEvent) {
	h.broadcastJSON("status", ev)
}

func (h *Hub) PublishFrame(res models.FrameResult) {
	if h.Clients() == 0 {
		return
	}
	h.broadcastJSON("frame", res)
	if h.frames && len(res.Frame.Data) > 0 {
		h.broadcast(outbound{websocket.BinaryMessage, res.Frame.Data})
	}
}

func (h *Hub) PublishNotification(kind notify.Kind, events []models.DetectionEvent) {
	h.broadcastJSON("notification", notificationData{Kind: kind, Events: events})
}

func (h *Hub) broadcastJSON(typ string, v any) {
	j, err := json.Marshal(envelope{Type: typ, Data: v})
	if err != nil {
		log.Error().Msgf("Hub: marshal %s event: %v", typ, err)
		return
	}
	h.broadcast(outbound{websocket.TextMessage, j})
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, queue := range h.clients {
		select {
		case queue <- msg:
		default:
			log.Debug().Msgf("Hub: client %s is slow, dropping message", conn.RemoteAddr())
		}
	}
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Msgf("Hub: websocket upgrade failed: %v", err)
		return
	}

	queue := make(chan outbound, clientQueue)
	h.mu.Lock()
	h.clients[conn] = queue
	h.mu.Unlock()
	log.Info().Msgf("Hub: client %s connected", conn.RemoteAddr())

	closed := make(chan struct{})
	go h.reader(conn, closed)
	h.writer(conn, queue, closed)

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
	log.Info().Msgf("Hub: client %s disconnected", conn.RemoteAddr())
}

// reader discards client messages and reports when the connection drops.
func (h *Hub) reader(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writer(conn *websocket.Conn, queue <-chan outbound, closed <-chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case msg := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(msg.msgType, msg.data); err != nil {
				log.Debug().Msgf("Hub: write to %s failed: %v", conn.RemoteAddr(), err)
				return
			}
		}
	}
}
