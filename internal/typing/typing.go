// Package typing handles the debounced local "is typing" broadcast and
// the remote typing indicator with its hard expiry.
package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Controller debounces local keystrokes into at most one typing-start
// per burst and clears the remote indicator when no refresh arrives,
// which defends against a lost typing-stop frame.
type Controller struct {
	send   func(isTyping bool) error
	idle   time.Duration // local stop after this much keyboard silence
	expiry time.Duration // remote indicator hard lifetime
	log    zerolog.Logger

	mu             sync.Mutex
	localID        string
	localTyping    bool
	remoteTyping   bool
	localTimer     *time.Timer
	remoteTimer    *time.Timer
	onRemoteChange func(isTyping bool)
	stopped        bool
}

// NewController creates a typing controller. send broadcasts the local
// typing flag to the room; onRemoteChange (optional) fires whenever the
// remote indicator flips.
func NewController(send func(isTyping bool) error, idle, expiry time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		send:   send,
		idle:   idle,
		expiry: expiry,
		log:    logger,
	}
}

// Bind scopes the controller to the local participant and resets all
// state from a previous room.
func (c *Controller) Bind(localID string, onRemoteChange func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelTimersLocked()
	c.localID = localID
	c.onRemoteChange = onRemoteChange
	c.localTyping = false
	c.remoteTyping = false
	c.stopped = false
}

// NoteKeystroke records local typing activity. The first keystroke of a
// burst broadcasts typing-start once; every keystroke resets the
// rolling stop timer.
func (c *Controller) NoteKeystroke() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	start := !c.localTyping
	c.localTyping = true
	if c.localTimer != nil {
		c.localTimer.Stop()
	}
	c.localTimer = time.AfterFunc(c.idle, c.stopLocal)
	c.mu.Unlock()

	if start {
		c.broadcast(true)
	}
}

// NoteSend stops the local typing broadcast immediately, used when the
// user sends the message they were typing.
func (c *Controller) NoteSend() {
	c.stopLocal()
}

func (c *Controller) stopLocal() {
	c.mu.Lock()
	wasTyping := c.localTyping
	c.localTyping = false
	if c.localTimer != nil {
		c.localTimer.Stop()
		c.localTimer = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	if wasTyping && !stopped {
		c.broadcast(false)
	}
}

func (c *Controller) broadcast(isTyping bool) {
	if c.send == nil {
		return
	}
	if err := c.send(isTyping); err != nil {
		// Typing is best-effort; a dropped frame only costs an indicator.
		c.log.Debug().Err(err).Msg("[typing] broadcast failed")
	}
}

// HandleRemote applies a received typing_status frame. Echoes of the
// local user's own typing are ignored.
func (c *Controller) HandleRemote(userID string, isTyping bool) {
	c.mu.Lock()
	if c.stopped || userID == c.localID {
		c.mu.Unlock()
		return
	}

	changed := c.remoteTyping != isTyping
	c.remoteTyping = isTyping
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
	if isTyping {
		c.remoteTimer = time.AfterFunc(c.expiry, c.expireRemote)
	}
	notify := c.onRemoteChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(isTyping)
	}
}

func (c *Controller) expireRemote() {
	c.mu.Lock()
	if !c.remoteTyping {
		c.mu.Unlock()
		return
	}
	c.remoteTyping = false
	notify := c.onRemoteChange
	c.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// IsLocalTyping reports the debounced local flag.
func (c *Controller) IsLocalTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localTyping
}

// IsRemoteTyping reports whether the counterpart indicator is visible.
func (c *Controller) IsRemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteTyping
}

// Stop cancels all timers and suppresses further broadcasts. A typing
// session in progress ends with a final stop broadcast so the
// counterpart indicator does not linger.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasTyping := c.localTyping
	c.localTyping = false
	c.remoteTyping = false
	c.stopped = true
	c.cancelTimersLocked()
	c.mu.Unlock()

	if wasTyping {
		c.broadcast(false)
	}
}

func (c *Controller) cancelTimersLocked() {
	if c.localTimer != nil {
		c.localTimer.Stop()
		c.localTimer = nil
	}
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
}
