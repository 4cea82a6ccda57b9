// Package connection owns the one websocket per active chat room:
// dialing, heartbeat, bounded-backoff reconnection and graceful
// teardown. No other component touches socket primitives.
package connection

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatwire/internal/config"
	"chatwire/pkg/types"
)

const writeTimeout = 5 * time.Second

// Credentials carry the bearer token for the websocket handshake and
// the resume cursor for replay after reconnect.
type Credentials struct {
	Token         string
	LastMessageID types.MessageID
}

// Manager owns the socket handle for the open room. A single emit
// funnel is fixed at construction, so reconnects never accumulate
// handlers. A generation counter makes work from superseded
// connections (stale reconnect timers, old read pumps) a no-op.
type Manager struct {
	cfg  *config.EngineConfig
	emit func(Event)
	log  zerolog.Logger

	dialer *websocket.Dialer

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	state      types.ConnectionState
	connecting bool
	attempt    int
	generation int
	roomID     string
	creds      Credentials
	readerDone chan struct{}
	reconnect  *time.Timer
}

// NewManager creates a connection manager. emit receives every typed
// event; it is invoked from the read pump goroutine in receipt order.
func NewManager(cfg *config.EngineConfig, emit func(Event), logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		emit: emit,
		log:  logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		state: types.StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the room-scoped endpoint. At most one attempt may be
// in flight: a concurrent call is rejected, not queued. A dial failure
// is returned directly; automatic retry applies only to abnormal
// closes of an established connection.
func (m *Manager) Connect(ctx context.Context, roomID string, creds Credentials) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	if m.state == types.StateConnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connecting = true
	m.generation++
	gen := m.generation
	m.roomID = roomID
	m.creds = creds
	m.attempt = 0
	m.stopReconnectLocked()
	m.state = types.StateConnecting
	m.mu.Unlock()

	m.emit(StateChanged{State: types.StateConnecting})

	conn, err := m.dial(ctx, roomID, creds)
	if err != nil {
		m.mu.Lock()
		m.connecting = false
		if gen == m.generation {
			m.state = types.StateDisconnected
		}
		m.mu.Unlock()
		m.emit(StateChanged{State: types.StateDisconnected})
		return fmt.Errorf("connect room %s: %w", roomID, err)
	}

	if !m.install(gen, conn) {
		return ErrConnectionSuperseded
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, roomID string, creds Credentials) (*websocket.Conn, error) {
	endpoint, err := url.Parse(m.cfg.WebSocketURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	endpoint = endpoint.JoinPath(roomID)

	query := endpoint.Query()
	query.Set("token", creds.Token)
	if creds.LastMessageID > 0 {
		query.Set("lastMessageId", strconv.FormatInt(int64(creds.LastMessageID), 10))
	}
	endpoint.RawQuery = query.Encode()

	conn, _, err := m.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// install adopts a freshly dialed socket for the given generation and
// starts its read pump and heartbeat. Returns false when a Disconnect
// or newer Connect superseded this attempt meanwhile.
func (m *Manager) install(gen int, conn *websocket.Conn) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.connecting = false
	m.attempt = 0
	m.state = types.StateConnected
	done := make(chan struct{})
	m.readerDone = done
	m.mu.Unlock()

	m.emit(StateChanged{State: types.StateConnected})

	go m.readPump(gen, conn, done)
	go m.heartbeat(gen, conn, done)
	return true
}

// Send writes one frame to the live socket. There is no outgoing queue:
// when disconnected, sends fail immediately and the caller keeps its
// draft.
func (m *Manager) Send(frame types.Frame) error {
	m.mu.Lock()
	if m.state != types.StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	return m.writeFrame(conn, frame)
}

// writeFrame serializes access to the socket writer. gorilla/websocket
// allows one concurrent writer only.
func (m *Manager) writeFrame(conn *websocket.Conn, frame types.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Disconnect performs a graceful close: a close frame with code 1000,
// then waits for the read pump to drain (or the configured timeout) so
// no stale goroutine survives into the next connection. Safe to call
// in any state; calling it twice is a no-op the second time.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	m.connecting = false
	m.stopReconnectLocked()
	conn := m.conn
	done := m.readerDone
	m.conn = nil
	m.readerDone = nil
	wasDisconnected := m.state == types.StateDisconnected && conn == nil
	m.state = types.StateDisconnected
	m.mu.Unlock()

	if wasDisconnected {
		return nil
	}

	if conn != nil {
		m.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		m.writeMu.Unlock()

		if done != nil {
			select {
			case <-done:
			case <-time.After(m.cfg.DisconnectTimeout):
				m.log.Warn().Msg("[connection] close timed out waiting for reader")
			case <-ctx.Done():
			}
		}
		_ = conn.Close()
	}

	m.emit(StateChanged{State: types.StateDisconnected})
	return nil
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// readPump delivers frames in receipt order until the socket fails or
// is superseded. Malformed and unknown frames are logged and dropped;
// they never tear down the connection.
func (m *Manager) readPump(gen int, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	roomID := m.currentRoomID()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadFailure(gen, conn, err)
			return
		}

		frame, err := types.DecodeServerFrame(data)
		if err != nil {
			m.log.Warn().Err(err).Str("room", roomID).Msg("[connection] dropping bad frame")
			continue
		}
		m.dispatch(conn, roomID, frame)
	}
}

func (m *Manager) currentRoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *Manager) dispatch(conn *websocket.Conn, roomID string, frame types.Frame) {
	switch frame.Type {
	case types.FrameTypeMessage:
		m.emit(MessageReceived{Message: frame.AsMessage(roomID)})
	case types.FrameTypeMessageSent:
		m.emit(MessageConfirmed{Confirmation: frame.AsConfirmation()})
	case types.FrameTypeTyping:
		m.emit(TypingChanged{
			UserID:   frame.UserID,
			Role:     types.SenderRole(frame.UserType),
			IsTyping: frame.IsTyping,
		})
	case types.FrameTypeReadUpdate:
		m.emit(MessageRead{ID: frame.MessageID})
	case types.FrameTypeUserJoined:
		m.emit(UserJoined{UserID: frame.JoinedUserID})
	case types.FrameTypeUserLeft:
		m.emit(UserLeft{UserID: frame.LeftUserID})
	case types.FrameTypePing:
		// Liveness probe: answered in the same tick.
		if err := m.writeFrame(conn, types.PongFrame()); err != nil {
			m.log.Warn().Err(err).Msg("[connection] pong failed")
		}
	case types.FrameTypePong:
		// Answer to our own probe; nothing to do.
	case types.FrameTypeConnection:
		m.emit(ConnectionAck{
			Success: frame.Success == nil || *frame.Success,
			Reason:  frame.Error,
		})
	}
}

// handleReadFailure classifies a read error. A superseded generation
// means deliberate teardown; a normal close ends the connection; an
// abnormal close starts the backoff schedule.
func (m *Manager) handleReadFailure(gen int, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.mu.Lock()
		m.state = types.StateDisconnected
		m.mu.Unlock()
		m.emit(StateChanged{State: types.StateDisconnected})
		return
	}

	m.log.Warn().Err(err).Msg("[connection] socket lost")
	m.scheduleReconnect(gen)
}

// scheduleReconnect arms the next redial with exponential backoff,
// base × 2^attempt, up to the configured attempt cap. Exhausting the
// cap surfaces a terminal error instead of retrying forever.
func (m *Manager) scheduleReconnect(gen int) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if m.attempt >= m.cfg.MaxReconnectAttempts {
		m.state = types.StateDisconnected
		m.stopReconnectLocked()
		m.mu.Unlock()
		m.log.Error().Int("attempts", m.cfg.MaxReconnectAttempts).
			Msg("[connection] reconnect attempts exhausted")
		m.emit(StateChanged{State: types.StateDisconnected, Err: ErrReconnectExhausted})
		return
	}

	delay := m.cfg.ReconnectBaseDelay << m.attempt
	m.attempt++
	attempt := m.attempt
	m.state = types.StateReconnecting
	m.reconnect = time.AfterFunc(delay, func() { m.redial(gen) })
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("[connection] reconnect scheduled")
	m.emit(StateChanged{State: types.StateReconnecting})
}

// redial is the timer body for one reconnect attempt. It refreshes the
// resume cursor from the credentials captured at Connect time and backs
// off again on failure. A generation mismatch means the session moved
// on and the attempt is silently abandoned.
func (m *Manager) redial(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	roomID := m.roomID
	creds := m.creds
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, err := m.dial(ctx, roomID, creds)
	cancel()

	if err != nil {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("room", roomID).Msg("[connection] redial failed")
		m.scheduleReconnect(gen)
		return
	}

	m.install(gen, conn)
}

// heartbeat sends a ping frame on a fixed interval while the
// connection is live. A failed write closes the socket so the read
// pump notices and the reconnect path takes over.
func (m *Manager) heartbeat(gen int, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			stale := gen != m.generation || m.conn != conn
			m.mu.Unlock()
			if stale {
				return
			}
			if err := m.writeFrame(conn, types.PingFrame()); err != nil {
				m.log.Warn().Err(err).Msg("[connection] heartbeat failed")
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// UpdateResumeCursor records the latest confirmed message id so a
// reconnect resumes replay from the right point.
func (m *Manager) UpdateResumeCursor(id types.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.creds.LastMessageID {
		m.creds.LastMessageID = id
	}
}
