package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

// sendBuffer bounds each client's outgoing queue. A client that cannot
// drain this many frames is torn down as a slow consumer.
const sendBuffer = 64

const clientWriteTimeout = 5 * time.Second

// Client is one websocket participant attached to a room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	ident  Identity
	roomID string
	send   chan types.Frame
	done   chan struct{}
	once   sync.Once
}

// Hub fans frames out to room participants and persists chat sends.
// Rooms are materialized lazily on first join and dropped when the
// last participant leaves.
type Hub struct {
	store   *SQLStore
	limiter *RateLimiter
	log     zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates a hub over the given store.
func NewHub(store *SQLStore, logger zerolog.Logger) *Hub {
	return &Hub{
		store:   store,
		limiter: NewRateLimiter(),
		log:     logger.With().Str("component", "hub").Logger(),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// ServeClient runs one participant's session: handshake ack, replay
// from the resume cursor, presence broadcast, then the read loop until
// the socket closes. Blocks until the client is gone.
func (h *Hub) ServeClient(conn *websocket.Conn, ident Identity, roomID string, resume types.MessageID) {
	c := &Client{
		hub:    h,
		conn:   conn,
		ident:  ident,
		roomID: roomID,
		send:   make(chan types.Frame, sendBuffer),
		done:   make(chan struct{}),
	}

	h.register(c)
	go c.writePump()

	c.enqueue(types.ConnectionFrame(true, ""))
	h.replay(c, resume)
	h.broadcast(roomID, types.UserJoinedFrame(ident.UserID), c)

	h.log.Info().
		Str("room_id", roomID).
		Str("user_id", ident.UserID).
		Str("role", string(ident.Role)).
		Msg("client joined")

	c.readPump()

	h.unregister(c)
	h.broadcast(roomID, types.UserLeftFrame(ident.UserID), nil)
	h.log.Info().Str("room_id", roomID).Str("user_id", ident.UserID).Msg("client left")
}

// BroadcastRead pushes read receipts to everyone in the room. Called
// from the REST read endpoint after the store flips the flags.
func (h *Hub) BroadcastRead(roomID string, ids []types.MessageID) {
	for _, id := range ids {
		h.broadcast(roomID, types.ReadUpdateFrame(id), nil)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.roomID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.roomID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.roomID)
	}
	c.close()
}

// broadcast queues a frame for every room participant except the
// excluded one.
func (h *Hub) broadcast(roomID string, frame types.Frame, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c == except {
			continue
		}
		c.enqueue(frame)
	}
}

// replay resends messages newer than the client's resume cursor so a
// reconnect misses nothing that landed while it was away.
func (h *Hub) replay(c *Client, resume types.MessageID) {
	if resume <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	missed, err := h.store.MessagesAfter(ctx, c.roomID, resume)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", c.roomID).Msg("replay query failed")
		return
	}
	for _, msg := range missed {
		if msg.SenderID == c.ident.UserID {
			c.enqueue(types.SentFrame(msg, true))
		} else {
			c.enqueue(types.MessageFrame(msg))
		}
	}
	if len(missed) > 0 {
		h.log.Debug().Str("room_id", c.roomID).Int("count", len(missed)).Msg("replayed missed messages")
	}
}

func (h *Hub) handleFrame(c *Client, frame types.Frame) {
	switch frame.Type {
	case "":
		h.handleChatSend(c, frame)

	case types.FrameTypeTypingCmd:
		h.broadcast(c.roomID, types.TypingStatusFrame(c.ident.UserID, c.ident.Role, frame.IsTyping), c)

	case types.FrameTypePing:
		c.enqueue(types.PongFrame())

	case types.FrameTypePong:
		// Answer to a server probe; nothing to do.
	}
}

// handleChatSend persists an inbound message and fans it out: the
// sender gets the delivery confirmation, everyone else the message.
// The sender seat comes from the authenticated identity, not from the
// frame.
func (h *Hub) handleChatSend(c *Client, frame types.Frame) {
	msg := types.Message{
		RoomID:        c.roomID,
		SenderRole:    c.ident.Role,
		SenderID:      c.ident.UserID,
		Body:          frame.Message,
		AttachmentRef: frame.FilePath,
	}

	reject := func(reason string) {
		h.log.Warn().
			Str("room_id", c.roomID).
			Str("user_id", c.ident.UserID).
			Str("reason", reason).
			Msg("chat send rejected")
		c.enqueue(types.SentFrame(msg, false))
	}

	if err := msg.Validate(); err != nil {
		reject(err.Error())
		return
	}
	if !h.limiter.Allow(c.ident.UserID) {
		reject("rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	saved, err := h.store.InsertMessage(ctx, msg)
	if err != nil {
		reject(err.Error())
		return
	}

	c.enqueue(types.SentFrame(saved, true))
	h.broadcast(c.roomID, types.MessageFrame(saved), c)
}

// enqueue hands a frame to the client's writer without blocking the
// hub. A full queue marks the client as a slow consumer and drops the
// socket; the client's reconnect replay recovers anything missed.
func (c *Client) enqueue(frame types.Frame) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.hub.log.Warn().Str("user_id", c.ident.UserID).Msg("slow consumer, dropping connection")
		c.close()
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer c.close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := types.DecodeClientFrame(data)
		if err != nil {
			// Unknown or malformed frames are dropped, not fatal.
			c.hub.log.Debug().Err(err).Str("user_id", c.ident.UserID).Msg("dropping client frame")
			continue
		}
		c.hub.handleFrame(c, frame)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
