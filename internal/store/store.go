// Package store holds the in-memory ordered message log for the
// currently open chat room. It is the single owner of that log:
// callers render from Snapshot copies and never mutate entries
// directly.
package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

// Store keeps messages sorted ascending by CreatedAt with stable order
// for equal timestamps, suppresses duplicate ids, and reconciles
// optimistic local echoes against server confirmations.
type Store struct {
	mu       sync.RWMutex
	messages []types.Message
	byID     map[types.MessageID]int // id -> index in messages
	nextTemp types.MessageID
	log      zerolog.Logger
}

// New creates an empty store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		byID: make(map[types.MessageID]int),
		log:  logger,
	}
}

// NextTempID issues the next local-temporary id: negative and
// monotonically unique for the life of the store.
func (s *Store) NextTempID() types.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTemp--
	return s.nextTemp
}

// Add inserts a message in CreatedAt order. Ingestion is idempotent: a
// message whose id is already present is dropped, which makes replays
// from reconnect-triggered history refetches safe. Returns true if the
// message was added.
func (s *Store) Add(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		s.log.Debug().Int64("id", int64(msg.ID)).Msg("[store] duplicate message dropped")
		return false
	}
	s.insertLocked(msg)
	return true
}

// insertLocked places msg after any existing entries with an equal or
// earlier timestamp, so arrival order is preserved among ties.
func (s *Store) insertLocked(msg types.Message) {
	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, types.Message{})
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = msg
	s.reindexLocked(idx)
}

func (s *Store) reindexLocked(from int) {
	for i := from; i < len(s.messages); i++ {
		s.byID[s.messages[i].ID] = i
	}
}

// PrependHistory merges an older history page in front of the current
// log. Pages arrive ascending from the history API; entries already
// present are dropped, and displayed messages keep their positions.
func (s *Store) PrependHistory(page []types.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]types.Message, 0, len(page))
	for _, msg := range page {
		if _, exists := s.byID[msg.ID]; exists {
			continue
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return 0
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	s.messages = append(fresh, s.messages...)
	s.reindexLocked(0)
	return len(fresh)
}

// Reconcile promotes the optimistic local echo matched by a server
// confirmation. The match is the oldest temp-id entry with equal
// (SenderRole, SenderID, Body); promotion happens in place so the UI
// never sees the bubble disappear and reappear. A confirmation that
// matches nothing is added as a regular message when it has content and
// silently ignored when it does not.
func (s *Store) Reconcile(conf types.SentConfirmation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[conf.ID]; exists {
		// Confirmation replayed after a reconnect.
		return false
	}

	for i, msg := range s.messages {
		if !msg.ID.IsTemp() {
			continue
		}
		if msg.SenderRole != conf.SenderRole || msg.SenderID != conf.SenderID || msg.Body != conf.Body {
			continue
		}

		delete(s.byID, msg.ID)
		s.messages[i].ID = conf.ID
		if !conf.CreatedAt.IsZero() {
			s.messages[i].CreatedAt = conf.CreatedAt
		}
		if conf.IsRead {
			s.messages[i].IsRead = true
		}
		if conf.AttachmentRef != "" {
			s.messages[i].AttachmentRef = conf.AttachmentRef
		}
		s.byID[conf.ID] = i
		return true
	}

	if !conf.HasContent() {
		// Nothing to match and nothing to display.
		s.log.Debug().Int64("id", int64(conf.ID)).Msg("[store] content-less confirmation ignored")
		return false
	}

	s.insertLocked(types.Message{
		ID:            conf.ID,
		SenderRole:    conf.SenderRole,
		SenderID:      conf.SenderID,
		Body:          conf.Body,
		AttachmentRef: conf.AttachmentRef,
		IsRead:        conf.IsRead,
		CreatedAt:     conf.CreatedAt,
	})
	return true
}

// Update applies a patch to a stored message. When the patch changes
// the id or the timestamp, the entry is repositioned and reindexed so
// ordering and lookup stay consistent. Returns false for unknown ids.
func (s *Store) Update(id types.MessageID, patch func(*types.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.byID[id]
	if !exists {
		return false
	}
	msg := s.messages[idx]
	patch(&msg)

	if msg.ID == id && msg.CreatedAt.Equal(s.messages[idx].CreatedAt) {
		s.messages[idx] = msg
		return true
	}
	if msg.ID != id {
		if _, taken := s.byID[msg.ID]; taken {
			// Id collisions go through Reconcile, not Update.
			return false
		}
	}
	delete(s.byID, id)
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.reindexLocked(idx)
	s.insertLocked(msg)
	return true
}

// RemoveTempMatching withdraws the oldest temporary echo with the
// given identity, used when the backend reports a failed send and the
// optimistic bubble has to come back down.
func (s *Store) RemoveTempMatching(role types.SenderRole, senderID, body string) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if !msg.ID.IsTemp() {
			continue
		}
		if msg.SenderRole != role || msg.SenderID != senderID || msg.Body != body {
			continue
		}
		delete(s.byID, msg.ID)
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		s.reindexLocked(i)
		return msg, true
	}
	return types.Message{}, false
}

// MarkRead flips a message to read. Read state is monotonic: there is
// no way to mark a message unread again.
func (s *Store) MarkRead(id types.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.byID[id]
	if !exists || s.messages[idx].IsRead {
		return false
	}
	s.messages[idx].IsRead = true
	return true
}

// Remove deletes a message, used when a transport send fails and the
// optimistic echo has to be withdrawn. Returns the removed message so
// the caller can restore the draft.
func (s *Store) Remove(id types.MessageID) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.byID[id]
	if !exists {
		return types.Message{}, false
	}
	removed := s.messages[idx]
	delete(s.byID, id)
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.reindexLocked(idx)
	return removed, true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id types.MessageID) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.byID[id]
	if !exists {
		return types.Message{}, false
	}
	return s.messages[idx], true
}

// Snapshot returns a copy of the ordered log for rendering.
func (s *Store) Snapshot() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// OldestConfirmedID returns the lowest server-confirmed id in the log,
// used as the pagination cursor for older history pages.
func (s *Store) OldestConfirmedID() (types.MessageID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if !msg.ID.IsTemp() {
			return msg.ID, true
		}
	}
	return 0, false
}

// LatestConfirmedID returns the highest server-confirmed id in the log,
// used as the lastMessageId resume cursor on reconnect.
func (s *Store) LatestConfirmedID() (types.MessageID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best types.MessageID
	found := false
	for _, msg := range s.messages {
		if !msg.ID.IsTemp() && msg.ID > best {
			best = msg.ID
			found = true
		}
	}
	return best, found
}

// Clear drops the whole log. Temp id issuance keeps its sequence so ids
// stay unique across a room switch within one session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[types.MessageID]int)
}
