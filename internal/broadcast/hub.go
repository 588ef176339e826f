// Package broadcast implements the broadcast surface (§6): per-event
// group-targeted delivery of session/car patches over WebSocket, plus a
// request-reply full-snapshot path for newly-connected or catching-up
// clients. A Room implements consolidator.Sink and is the per-event
// boundary; Hub owns every Room for a process and enforces a single
// global connection limit across all of them.
package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/session"
)

// ErrTooManyConnections is returned by Hub.AddClient once the global
// connection limit has been reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() { close(c.send) }

// Room is the per-event broadcast group. It implements consolidator.Sink,
// so a pipeline.Coordinator's consolidator dispatches straight into it.
type Room struct {
	eventId  int
	snapshot func() *session.State
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	seq     atomic.Uint64
}

// Dispatch implements consolidator.Sink: one flush becomes at most two
// broadcast messages, sessionPatch first (§6 "two record kinds emitted per
// flush").
func (r *Room) Dispatch(sessionPatch session.SessionStatePatch, carPatches []session.CarPositionPatch) {
	if !sessionPatch.IsEmpty() {
		r.broadcast(Message{Type: MsgSessionPatch, Payload: SessionPatchPayload{Patch: sessionPatch}})
	}
	if len(carPatches) > 0 {
		r.broadcast(Message{Type: MsgCarPatches, Payload: CarPatchesPayload{Patches: carPatches}})
	}
}

func (r *Room) broadcast(msg Message) {
	msg.EventId = r.eventId
	msg.Seq = r.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn().Err(err).Msg("broadcast marshal failed")
		return
	}

	r.mu.RLock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			r.log.Warn().Msg("client too slow, disconnecting")
			r.removeClient(c)
		}
	}
}

// sendSnapshot implements SendFullSnapshot (§6) for a single client.
func (r *Room) sendSnapshot(c *client) {
	msg := Message{
		Type:    MsgSnapshot,
		EventId: r.eventId,
		Seq:     r.seq.Add(1),
		Payload: SnapshotPayload{State: r.snapshot()},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn().Err(err).Msg("snapshot marshal failed")
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (r *Room) addClient(c *client) {
	r.mu.Lock()
	r.clients[c] = true
	r.mu.Unlock()
}

func (r *Room) removeClient(c *client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		c.close()
	}
	r.mu.Unlock()
}

// ClientCount returns the number of clients currently subscribed to this
// room.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Hub owns every event's Room and enforces a single global connection
// limit (§5 "resource model"): connections are a shared, bounded resource
// regardless of which event they subscribe to.
type Hub struct {
	maxConns int
	log      zerolog.Logger

	mu    sync.Mutex
	conns int
	rooms map[int]*Room
}

// NewHub creates a Hub with a global connection cap (0 means unbounded).
func NewHub(maxConns int, log zerolog.Logger) *Hub {
	return &Hub{
		maxConns: maxConns,
		log:      log,
		rooms:    make(map[int]*Room),
	}
}

// Room returns (creating if necessary) the Room for eventId. snapshot is
// only consulted the first time a Room is created for that event.
func (h *Hub) Room(eventId int, snapshot func() *session.State) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[eventId]; ok {
		return r
	}
	r := &Room{
		eventId:  eventId,
		snapshot: snapshot,
		log:      h.log.With().Int("event_id", eventId).Logger(),
		clients:  make(map[*client]bool),
	}
	h.rooms[eventId] = r
	return r
}

// AddClient registers conn against eventId's Room, subject to the global
// connection limit, and immediately replies with a full snapshot.
func (h *Hub) AddClient(eventId int, conn *websocket.Conn, snapshot func() *session.State) (*client, error) {
	h.mu.Lock()
	if h.maxConns > 0 && h.conns >= h.maxConns {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	h.conns++
	h.mu.Unlock()

	room := h.Room(eventId, snapshot)
	c := newClient(conn)
	room.addClient(c)
	room.sendSnapshot(c)
	return c, nil
}

// RemoveClient unregisters c from eventId's Room and releases its slot in
// the global connection count. Safe to call more than once for the same
// client.
func (h *Hub) RemoveClient(eventId int, c *client) {
	h.mu.Lock()
	room, ok := h.rooms[eventId]
	h.mu.Unlock()
	if !ok {
		return
	}

	room.mu.RLock()
	_, present := room.clients[c]
	room.mu.RUnlock()
	if !present {
		return
	}

	room.removeClient(c)
	h.mu.Lock()
	h.conns--
	h.mu.Unlock()
}

// ClientCount returns the total number of connections across every room.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}
