package video

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// Frame types on the signalling socket.
const (
	FrameOffer        = "offer"
	FrameAnswer       = "answer"
	FrameICECandidate = "ice-candidate"
	FrameHangup       = "hangup"
	FramePeerJoined   = "peer-joined"
	FramePeerLeft     = "peer-left"
	FrameSessionEnded = "session-ended"
	FrameError        = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = 64 << 10
	sendBufferSize = 32
)

// Frame is one signalling message. Payload is opaque SDP or ICE data.
type Frame struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Role    Role            `json:"role,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func relayed(frameType string) bool {
	switch frameType {
	case FrameOffer, FrameAnswer, FrameICECandidate, FrameHangup:
		return true
	}
	return false
}

// PeerMetrics counts open signalling connections.
type PeerMetrics interface {
	PeerConnected()
	PeerDisconnected()
}

type peer struct {
	userID string
	role   Role
	conn   *websocket.Conn
	send   chan []byte
}

// Hub relays frames between the peers of each room. A room is keyed by session id.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*peer]struct{}
	metrics PeerMetrics
	logger  *logging.Logger
}

func NewHub(metrics PeerMetrics, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{rooms: make(map[string]map[*peer]struct{}), metrics: metrics, logger: logger}
}

// Serve runs the connection until it closes. It blocks.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, room, userID string, role Role) {
	p := &peer{userID: userID, role: role, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.join(room, p)
	if h.metrics != nil {
		h.metrics.PeerConnected()
	}
	defer func() {
		h.leave(room, p)
		if h.metrics != nil {
			h.metrics.PeerDisconnected()
		}
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.writePump(ctx, p)
	h.readPump(room, p)
}

// Peers reports how many connections a room holds.
func (h *Hub) Peers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseRoom tells every peer the session ended and disconnects them.
func (h *Hub) CloseRoom(room string) {
	data, _ := json.Marshal(Frame{Type: FrameSessionEnded})
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.rooms[room] {
		select {
		case p.send <- data:
		default:
		}
		close(p.send)
	}
	delete(h.rooms, room)
}

func (h *Hub) join(room string, p *peer) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*peer]struct{})
	}
	h.rooms[room][p] = struct{}{}
	h.mu.Unlock()
	h.broadcast(room, p, Frame{Type: FramePeerJoined, From: p.userID, Role: p.role})
}

func (h *Hub) leave(room string, p *peer) {
	h.mu.Lock()
	peers, ok := h.rooms[room]
	_, present := peers[p]
	if ok && present {
		delete(peers, p)
		close(p.send)
		if len(peers) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	if present {
		h.broadcast(room, p, Frame{Type: FramePeerLeft, From: p.userID, Role: p.role})
	}
}

// broadcast sends f to everyone in room except from. Slow peers drop frames.
func (h *Hub) broadcast(room string, from *peer, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("marshal signalling frame", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.rooms[room] {
		if p == from {
			continue
		}
		select {
		case p.send <- data:
		default:
			h.logger.Warn("signalling peer buffer full", "room", room, "user_id", p.userID)
		}
	}
}

// reply answers p alone. Peers already removed from the room have a closed send channel.
func (h *Hub) reply(room string, p *peer, f Frame) {
	data, _ := json.Marshal(f)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[room][p]; !ok {
		return
	}
	select {
	case p.send <- data:
	default:
	}
}

func (h *Hub) readPump(room string, p *peer) {
	p.conn.SetReadLimit(maxFrameBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("signalling connection error", "room", room, "user_id", p.userID, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.reply(room, p, Frame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		if !relayed(f.Type) {
			h.reply(room, p, Frame{Type: FrameError, Error: "unknown frame type: " + f.Type})
			continue
		}
		h.broadcast(room, p, Frame{Type: f.Type, From: p.userID, Role: p.role, Payload: f.Payload})
	}
}

func (h *Hub) writePump(ctx context.Context, p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
