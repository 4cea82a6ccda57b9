package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type broadcastLog struct {
	mu    sync.Mutex
	flags []bool
}

func (b *broadcastLog) send(isTyping bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags = append(b.flags, isTyping)
	return nil
}

func (b *broadcastLog) all() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bool, len(b.flags))
	copy(out, b.flags)
	return out
}

func newFixture(idle, expiry time.Duration) (*broadcastLog, *Controller) {
	b := &broadcastLog{}
	c := NewController(b.send, idle, expiry, zerolog.Nop())
	c.Bind("cust1", nil)
	return b, c
}

func TestController_TypingStartEmittedOnce(t *testing.T) {
	b, c := newFixture(time.Hour, time.Hour)

	c.NoteKeystroke()
	c.NoteKeystroke()
	c.NoteKeystroke()

	if got := b.all(); len(got) != 1 || !got[0] {
		t.Errorf("expected single typing-start, got %v", got)
	}
	if !c.IsLocalTyping() {
		t.Error("local typing flag should be set")
	}
}

func TestController_IdleTimeoutEmitsStop(t *testing.T) {
	b, c := newFixture(20*time.Millisecond, time.Hour)

	c.NoteKeystroke()

	deadline := time.Now().Add(time.Second)
	for c.IsLocalTyping() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsLocalTyping() {
		t.Fatal("local typing should clear after idle timeout")
	}
	if got := b.all(); len(got) != 2 || got[1] {
		t.Errorf("expected start then stop, got %v", got)
	}
}

func TestController_SendStopsImmediately(t *testing.T) {
	b, c := newFixture(time.Hour, time.Hour)

	c.NoteKeystroke()
	c.NoteSend()

	if c.IsLocalTyping() {
		t.Error("send should clear local typing immediately")
	}
	if got := b.all(); len(got) != 2 || got[1] {
		t.Errorf("expected start then stop, got %v", got)
	}

	// A fresh burst after sending starts over.
	c.NoteKeystroke()
	if got := b.all(); len(got) != 3 || !got[2] {
		t.Errorf("expected new typing-start, got %v", got)
	}
}

func TestController_NoteSendWithoutTypingIsSilent(t *testing.T) {
	b, c := newFixture(time.Hour, time.Hour)

	c.NoteSend()

	if got := b.all(); len(got) != 0 {
		t.Errorf("expected no broadcast, got %v", got)
	}
}

func TestController_RemoteTypingAutoExpires(t *testing.T) {
	_, c := newFixture(time.Hour, 20*time.Millisecond)

	c.HandleRemote("exp1", true)
	if !c.IsRemoteTyping() {
		t.Fatal("remote typing should be visible")
	}

	deadline := time.Now().Add(time.Second)
	for c.IsRemoteTyping() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsRemoteTyping() {
		t.Error("remote typing should auto-clear without a refresh")
	}
}

func TestController_RemoteRefreshExtendsExpiry(t *testing.T) {
	_, c := newFixture(time.Hour, 40*time.Millisecond)

	c.HandleRemote("exp1", true)
	time.Sleep(25 * time.Millisecond)
	c.HandleRemote("exp1", true)
	time.Sleep(25 * time.Millisecond)

	if !c.IsRemoteTyping() {
		t.Error("refreshed indicator should still be visible")
	}
}

func TestController_RemoteStopClears(t *testing.T) {
	_, c := newFixture(time.Hour, time.Hour)

	c.HandleRemote("exp1", true)
	c.HandleRemote("exp1", false)

	if c.IsRemoteTyping() {
		t.Error("explicit typing-stop should clear the indicator")
	}
}

func TestController_SelfEchoIgnored(t *testing.T) {
	_, c := newFixture(time.Hour, time.Hour)

	c.HandleRemote("cust1", true)

	if c.IsRemoteTyping() {
		t.Error("own typing echo must not set the remote indicator")
	}
}

func TestController_RemoteChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	b := &broadcastLog{}
	c := NewController(b.send, time.Hour, time.Hour, zerolog.Nop())
	c.Bind("cust1", func(isTyping bool) {
		mu.Lock()
		seen = append(seen, isTyping)
		mu.Unlock()
	})

	c.HandleRemote("exp1", true)
	c.HandleRemote("exp1", true) // no change, no callback
	c.HandleRemote("exp1", false)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("expected [true false], got %v", seen)
	}
}

func TestController_StopSendsFinalStop(t *testing.T) {
	b, c := newFixture(time.Hour, time.Hour)

	c.NoteKeystroke()
	c.Stop()

	if got := b.all(); len(got) != 2 || got[1] {
		t.Errorf("expected final typing-stop, got %v", got)
	}

	// After Stop everything is inert.
	c.NoteKeystroke()
	c.HandleRemote("exp1", true)
	if c.IsLocalTyping() || c.IsRemoteTyping() {
		t.Error("stopped controller should ignore further events")
	}
	if got := b.all(); len(got) != 2 {
		t.Errorf("stopped controller should not broadcast, got %v", got)
	}
}
