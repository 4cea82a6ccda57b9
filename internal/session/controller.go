package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatwire/internal/config"
	"chatwire/internal/connection"
	"chatwire/internal/receipts"
	"chatwire/internal/store"
	"chatwire/internal/typing"
	"chatwire/pkg/types"
)

// State is the session lifecycle phase. It is distinct from the
// connection state: a session can be Open while the socket is
// reconnecting underneath it.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Resolver finds or creates the room for a (request, counterpart) pair.
type Resolver interface {
	Resolve(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error)
}

// HistoryFetcher loads a page of persisted messages, ascending, ending
// just before the given cursor. A zero cursor means the newest page.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, roomID string, before types.MessageID, limit int) ([]types.Message, error)
}

// Uploader stores an attachment out of band and returns the server
// path that goes on the wire in its place.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Conn is the socket surface the controller drives. The production
// implementation is connection.Manager.
type Conn interface {
	Connect(ctx context.Context, roomID string, creds connection.Credentials) error
	Disconnect(ctx context.Context) error
	Send(frame types.Frame) error
	State() types.ConnectionState
	UpdateResumeCursor(id types.MessageID)
}

// TokenProvider yields the auth token presented on dial.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Deps are the session collaborators. Resolver, History, Uploader and
// Acks are typically all the same rooms.Client; they are separate here
// so tests can fake each concern on its own. NewConn is optional and
// defaults to the real socket manager.
type Deps struct {
	Resolver Resolver
	History  HistoryFetcher
	Uploader Uploader
	Acks     receipts.Acknowledger
	Tokens   TokenProvider
	NewConn  func(emit func(connection.Event)) Conn
}

// eventBuffer bounds the funnel between the socket reader and the
// session loop. Handlers are quick, so this only absorbs bursts.
const eventBuffer = 256

// Controller owns one chat conversation end to end: it resolves the
// room, dials the socket, hydrates history, and keeps the message
// store, read receipts and typing state coherent while frames flow.
// All socket events are applied on a single loop goroutine; public
// methods are safe to call from any goroutine.
type Controller struct {
	cfg     *config.EngineConfig
	log     zerolog.Logger
	localID string
	role    types.SenderRole

	resolver Resolver
	history  HistoryFetcher
	uploader Uploader
	tokens   TokenProvider
	newConn  func(emit func(connection.Event)) Conn

	store    *store.Store
	receipts *receipts.Tracker
	typing   *typing.Controller

	mu            sync.Mutex
	state         State
	room          types.ChatRoom
	counterpartID string
	conn          Conn
	connState     types.ConnectionState
	connErr       error
	quit          chan struct{}
	loopDone      chan struct{}
	onUpdate      func()
}

// NewController builds a session for one local participant. The
// controller is reusable: after Close it can Open another room.
func NewController(cfg *config.EngineConfig, localID string, role types.SenderRole, deps Deps, logger zerolog.Logger) *Controller {
	log := logger.With().Str("component", "session").Str("user_id", localID).Logger()
	c := &Controller{
		cfg:      cfg,
		log:      log,
		localID:  localID,
		role:     role,
		resolver: deps.Resolver,
		history:  deps.History,
		uploader: deps.Uploader,
		tokens:   deps.Tokens,
		newConn:  deps.NewConn,
	}
	if c.newConn == nil {
		c.newConn = func(emit func(connection.Event)) Conn {
			return connection.NewManager(cfg, emit, log)
		}
	}
	c.store = store.New(log)
	c.receipts = receipts.NewTracker(c.store, deps.Acks, cfg.ReadAckWindow, log)
	c.typing = typing.NewController(c.sendTyping, cfg.TypingIdleTimeout, cfg.TypingRemoteExpiry, log)
	return c
}

// OnUpdate registers a callback fired whenever visible state changes:
// new or promoted messages, read flips, typing, connection state. The
// callback runs on internal goroutines and must return quickly.
func (c *Controller) OnUpdate(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Open resolves the room for the counterpart, connects the socket and
// loads the latest history page. On any failure the session returns to
// Closed and the error is wrapped in ErrOpenFailed.
func (c *Controller) Open(ctx context.Context, requestID, counterpartID string) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrSessionNotClosed
	}
	c.state = StateOpening
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	room, err := c.resolver.Resolve(ctx, requestID, counterpartID)
	if err != nil {
		return fail(err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fail(err)
	}

	events := make(chan connection.Event, eventBuffer)
	conn := c.newConn(func(ev connection.Event) {
		select {
		case events <- ev:
		default:
			c.log.Warn().Str("room_id", room.RoomID).Msg("event buffer full, dropping event")
		}
	})

	if err := conn.Connect(ctx, room.RoomID, connection.Credentials{Token: token}); err != nil {
		return fail(err)
	}

	page, err := c.history.FetchMessages(ctx, room.RoomID, 0, c.cfg.HistoryPageSize)
	if err != nil {
		conn.Disconnect(ctx)
		return fail(err)
	}
	c.store.Clear()
	c.store.PrependHistory(page)
	if latest, ok := c.store.LatestConfirmedID(); ok {
		conn.UpdateResumeCursor(latest)
	}
	c.receipts.Bind(room.RoomID, c.localID)
	c.typing.Bind(c.localID, func(bool) { c.notify() })

	c.mu.Lock()
	if c.state != StateOpening {
		c.mu.Unlock()
		conn.Disconnect(ctx)
		return ErrSessionClosed
	}
	c.state = StateOpen
	c.room = room
	c.counterpartID = counterpartID
	c.conn = conn
	c.connState = conn.State()
	c.connErr = nil
	c.quit = make(chan struct{})
	c.loopDone = make(chan struct{})
	quit, loopDone := c.quit, c.loopDone
	c.mu.Unlock()

	go c.run(events, quit, loopDone)

	c.log.Info().
		Str("room_id", room.RoomID).
		Str("counterpart_id", counterpartID).
		Int("history", len(page)).
		Msg("session opened")
	c.notify()
	return nil
}

// Close tears the session down: typing stop goes out, pending read
// acks flush, the socket closes gracefully and local state is cleared.
// Closing an already-closed session is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	roomID := c.room.RoomID
	conn := c.conn
	quit, loopDone := c.quit, c.loopDone
	c.state = StateClosing
	c.quit = nil
	c.loopDone = nil
	c.mu.Unlock()

	// The socket stays wired until the typing stop and the final read
	// ack batch have had their chance to go out.
	c.typing.Stop()
	c.receipts.Stop()
	if conn != nil {
		if err := conn.Disconnect(ctx); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("disconnect during close")
		}
	}
	if quit != nil {
		close(quit)
	}
	if loopDone != nil {
		<-loopDone
	}
	c.store.Clear()

	c.mu.Lock()
	c.state = StateClosed
	c.conn = nil
	c.room = types.ChatRoom{}
	c.counterpartID = ""
	c.connState = types.StateDisconnected
	c.connErr = nil
	c.mu.Unlock()

	c.log.Info().Str("room_id", roomID).Msg("session closed")
	return nil
}

// SendMessage echoes the text locally under a temporary id and sends
// it. On transport failure the echo is withdrawn before the error is
// returned, so callers keep the draft in the compose field.
func (c *Controller) SendMessage(text string) (types.MessageID, error) {
	if strings.TrimSpace(text) == "" {
		return 0, types.ErrEmptyMessage
	}
	conn, room, err := c.liveConn()
	if err != nil {
		return 0, err
	}

	msg := types.Message{
		ID:         c.store.NextTempID(),
		RoomID:     room.RoomID,
		SenderRole: c.role,
		SenderID:   c.localID,
		Body:       text,
		CreatedAt:  time.Now(),
	}
	if err := msg.Validate(); err != nil {
		return 0, err
	}

	c.store.Add(msg)
	c.typing.NoteSend()
	c.notify()

	if err := conn.Send(types.TextFrame(room.RoomID, c.role, c.localID, text)); err != nil {
		c.store.Remove(msg.ID)
		c.notify()
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return msg.ID, nil
}

// SendFile uploads the attachment first, then echoes and sends a file
// message referencing the returned server path. Nothing is echoed if
// the upload fails.
func (c *Controller) SendFile(ctx context.Context, filename string, r io.Reader) (types.MessageID, error) {
	conn, room, err := c.liveConn()
	if err != nil {
		return 0, err
	}

	path, err := c.uploader.UploadFile(ctx, filename, r)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	msg := types.Message{
		ID:            c.store.NextTempID(),
		RoomID:        room.RoomID,
		SenderRole:    c.role,
		SenderID:      c.localID,
		AttachmentRef: path,
		CreatedAt:     time.Now(),
	}
	c.store.Add(msg)
	c.typing.NoteSend()
	c.notify()

	if err := conn.Send(types.FileFrame(room.RoomID, c.role, c.localID, path)); err != nil {
		c.store.Remove(msg.ID)
		c.notify()
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return msg.ID, nil
}

// LoadOlderMessages fetches the page before the oldest confirmed
// message on display and merges it in front. It returns how many new
// messages arrived; zero means the top of history.
func (c *Controller) LoadOlderMessages(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	roomID := c.room.RoomID
	c.mu.Unlock()

	before, _ := c.store.OldestConfirmedID()
	page, err := c.history.FetchMessages(ctx, roomID, before, c.cfg.HistoryPageSize)
	if err != nil {
		return 0, err
	}
	added := c.store.PrependHistory(page)
	if added > 0 {
		c.notify()
	}
	return added, nil
}

// NoteTyping records local keyboard activity for the typing broadcast.
func (c *Controller) NoteTyping() {
	if c.currentState() == StateOpen {
		c.typing.NoteKeystroke()
	}
}

// MarkVisible queues read acks for counterpart messages now on screen.
func (c *Controller) MarkVisible(ids ...types.MessageID) {
	if c.currentState() == StateOpen {
		c.receipts.MarkVisible(ids...)
	}
}

// MarkRoomAsRead acks every unread counterpart message immediately.
func (c *Controller) MarkRoomAsRead() {
	if c.currentState() == StateOpen {
		c.receipts.MarkRoomAsRead()
	}
}

// Snapshot returns the displayed conversation in order.
func (c *Controller) Snapshot() []types.Message {
	return c.store.Snapshot()
}

// Room returns the resolved room while the session is open.
func (c *Controller) Room() (types.ChatRoom, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.state == StateOpen
}

// State returns the session lifecycle phase.
func (c *Controller) State() State {
	return c.currentState()
}

// ConnectionState returns the last observed socket state.
func (c *Controller) ConnectionState() (types.ConnectionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState, c.connErr
}

// IsCounterpartTyping reports the expiring remote typing indicator.
func (c *Controller) IsCounterpartTyping() bool {
	return c.typing.IsRemoteTyping()
}

func (c *Controller) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// liveConn checks Open state plus a connected socket and hands back
// the pieces a send needs without holding the lock during I/O.
func (c *Controller) liveConn() (Conn, types.ChatRoom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return nil, types.ChatRoom{}, ErrNotConnected
	}
	if c.conn.State() != types.StateConnected {
		return nil, types.ChatRoom{}, ErrNotConnected
	}
	return c.conn, c.room, nil
}

// sendTyping is the typing controller's broadcast hook. It tolerates a
// down link: a lost typing frame is not worth surfacing.
func (c *Controller) sendTyping(isTyping bool) error {
	c.mu.Lock()
	conn := c.conn
	roomID := c.room.RoomID
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(types.TypingFrame(roomID, c.role, c.localID, isTyping))
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// run applies socket events in arrival order until Close. Keeping a
// single applier goroutine is what lets the store, receipts and typing
// state stay mutex-light.
func (c *Controller) run(events <-chan connection.Event, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev := <-events:
			c.handleEvent(ev)
		case <-quit:
			return
		}
	}
}

func (c *Controller) handleEvent(ev connection.Event) {
	switch e := ev.(type) {
	case connection.MessageReceived:
		if c.store.Add(e.Message) {
			if !e.Message.ID.IsTemp() {
				c.advanceCursor(e.Message.ID)
			}
			c.notify()
		}

	case connection.MessageConfirmed:
		conf := e.Confirmation
		if !conf.Success {
			if removed, ok := c.store.RemoveTempMatching(conf.SenderRole, conf.SenderID, conf.Body); ok {
				c.log.Warn().
					Int64("temp_id", int64(removed.ID)).
					Msg("backend rejected message, echo withdrawn")
				c.notify()
			}
			return
		}
		if c.store.Reconcile(conf) {
			c.advanceCursor(conf.ID)
			c.notify()
		}

	case connection.TypingChanged:
		c.typing.HandleRemote(e.UserID, e.IsTyping)

	case connection.MessageRead:
		if c.receipts.HandleReadUpdate(e.ID) {
			c.notify()
		}

	case connection.UserJoined:
		if c.receipts.HandleUserJoined(e.UserID) {
			c.notify()
		}

	case connection.UserLeft:
		c.typing.HandleRemote(e.UserID, false)
		c.notify()

	case connection.StateChanged:
		c.mu.Lock()
		c.connState = e.State
		c.connErr = e.Err
		c.mu.Unlock()
		if e.Err != nil {
			c.log.Error().Err(e.Err).Msg("connection gave up")
		}
		c.notify()

	case connection.ConnectionAck:
		if !e.Success {
			c.log.Error().Str("reason", e.Reason).Msg("server refused connection")
		}
	}
}

func (c *Controller) advanceCursor(id types.MessageID) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil && id > 0 {
		conn.UpdateResumeCursor(id)
	}
}
