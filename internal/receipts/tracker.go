// Package receipts tracks which messages in the open room have been
// read, batches outgoing read acknowledgements, and applies remote read
// updates. Read state only ever moves unread → read.
package receipts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatwire/internal/store"
	"chatwire/pkg/types"
)

// Acknowledger delivers batched read acknowledgements to the chat
// backend.
type Acknowledger interface {
	AckRead(ctx context.Context, roomID string, ids []types.MessageID) error
}

const ackTimeout = 5 * time.Second

// Tracker batches acknowledgements over a short window so a screenful
// of newly visible messages produces one call, not one per message.
type Tracker struct {
	store  *store.Store
	ack    Acknowledger
	window time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	roomID  string
	localID string
	pending map[types.MessageID]struct{}
	timer   *time.Timer
	stopped bool
}

// NewTracker creates a tracker over the given message store.
func NewTracker(st *store.Store, ack Acknowledger, window time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:   st,
		ack:     ack,
		window:  window,
		log:     logger,
		pending: make(map[types.MessageID]struct{}),
	}
}

// Bind scopes the tracker to a room and the local participant. Pending
// state from a previous room is discarded.
func (t *Tracker) Bind(roomID, localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roomID = roomID
	t.localID = localID
	t.pending = make(map[types.MessageID]struct{})
	t.stopped = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// MarkVisible records that the local user has seen the given messages.
// Own sent messages are skipped: those flip to read only when the
// counterpart confirms. Temp-id entries are skipped too since the
// backend cannot acknowledge an id it never issued.
func (t *Tracker) MarkVisible(ids ...types.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queued := false
	for _, id := range ids {
		if id.IsTemp() {
			continue
		}
		msg, ok := t.store.Get(id)
		if !ok || msg.IsRead || msg.SenderID == t.localID {
			continue
		}
		t.store.MarkRead(id)
		t.pending[id] = struct{}{}
		queued = true
	}
	if queued {
		t.scheduleFlushLocked()
	}
}

// MarkRoomAsRead marks every counterpart message in the room read and
// flushes the acknowledgement immediately.
func (t *Tracker) MarkRoomAsRead() {
	t.mu.Lock()
	for _, msg := range t.store.Snapshot() {
		if msg.ID.IsTemp() || msg.IsRead || msg.SenderID == t.localID {
			continue
		}
		t.store.MarkRead(msg.ID)
		t.pending[msg.ID] = struct{}{}
	}
	t.mu.Unlock()

	t.Flush()
}

// HandleReadUpdate applies a remote message_read_update: the
// counterpart has read one of our messages. Returns whether the flag
// actually changed.
func (t *Tracker) HandleReadUpdate(id types.MessageID) bool {
	return t.store.MarkRead(id)
}

// HandleUserJoined applies the presence rule: when the counterpart
// joins, everything we sent is about to be seen, so our unread sent
// messages flip to read without waiting for individual updates.
// Returns whether any message flipped.
func (t *Tracker) HandleUserJoined(userID string) bool {
	t.mu.Lock()
	local := t.localID
	t.mu.Unlock()

	if userID == local {
		return false
	}
	changed := false
	for _, msg := range t.store.Snapshot() {
		if msg.SenderID == local && !msg.IsRead {
			if t.store.MarkRead(msg.ID) {
				changed = true
			}
		}
	}
	return changed
}

// Flush sends all pending acknowledgements now.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	ids := t.drainLocked()
	roomID := t.roomID
	t.mu.Unlock()

	t.send(roomID, ids)
}

// Stop cancels the batch timer and flushes anything still pending.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	ids := t.drainLocked()
	roomID := t.roomID
	t.mu.Unlock()

	t.send(roomID, ids)
}

func (t *Tracker) scheduleFlushLocked() {
	if t.stopped || t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		t.timer = nil
		ids := t.drainLocked()
		roomID := t.roomID
		t.mu.Unlock()

		t.send(roomID, ids)
	})
}

func (t *Tracker) drainLocked() []types.MessageID {
	if len(t.pending) == 0 {
		return nil
	}
	ids := make([]types.MessageID, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.pending = make(map[types.MessageID]struct{})
	return ids
}

func (t *Tracker) send(roomID string, ids []types.MessageID) {
	if len(ids) == 0 || t.ack == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := t.ack.AckRead(ctx, roomID, ids); err != nil {
		// Local read state already advanced; the counterpart misses one
		// receipt until the next batch. Not worth failing the session.
		t.log.Warn().Err(err).Str("room", roomID).Int("count", len(ids)).
			Msg("[receipts] read acknowledgement failed")
	}
}
