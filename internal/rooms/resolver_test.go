package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

type fakeRoomAPI struct {
	mu      sync.Mutex
	rooms   map[string]types.ChatRoom // key: requestID+counterpartID
	lookups int
	creates int
	fail    error
}

func newFakeRoomAPI() *fakeRoomAPI {
	return &fakeRoomAPI{rooms: make(map[string]types.ChatRoom)}
}

func (f *fakeRoomAPI) LookupRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.fail != nil {
		return types.ChatRoom{}, f.fail
	}
	room, ok := f.rooms[requestID+counterpartID]
	if !ok {
		return types.ChatRoom{}, ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeRoomAPI) CreateRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.fail != nil {
		return types.ChatRoom{}, f.fail
	}
	room := types.ChatRoom{RoomID: "room-" + requestID + "-" + counterpartID, RequestID: requestID}
	f.rooms[requestID+counterpartID] = room
	return room, nil
}

func TestResolver_LookupHit(t *testing.T) {
	api := newFakeRoomAPI()
	api.rooms["req1exp1"] = types.ChatRoom{RoomID: "existing"}
	r := NewResolver(api, zerolog.Nop())

	room, err := r.Resolve(context.Background(), "req1", "exp1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.RoomID != "existing" {
		t.Errorf("unexpected room %+v", room)
	}
	if api.creates != 0 {
		t.Errorf("lookup hit must not create, got %d creates", api.creates)
	}
}

func TestResolver_CreateOnMiss(t *testing.T) {
	api := newFakeRoomAPI()
	r := NewResolver(api, zerolog.Nop())

	room, err := r.Resolve(context.Background(), "req1", "exp1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.RoomID != "room-req1-exp1" {
		t.Errorf("unexpected room %+v", room)
	}
	if api.creates != 1 {
		t.Errorf("expected exactly one create, got %d", api.creates)
	}
}

func TestResolver_AtMostOneCreatePerPair(t *testing.T) {
	api := newFakeRoomAPI()
	r := NewResolver(api, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "req1", "exp1"); err != nil {
				t.Errorf("resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if api.creates != 1 {
		t.Errorf("expected one create across concurrent resolves, got %d", api.creates)
	}
}

func TestResolver_DistinctPairsDistinctRooms(t *testing.T) {
	api := newFakeRoomAPI()
	r := NewResolver(api, zerolog.Nop())

	a, _ := r.Resolve(context.Background(), "req1", "exp1")
	b, _ := r.Resolve(context.Background(), "req1", "exp2")
	if a.RoomID == b.RoomID {
		t.Error("different counterparts must resolve to different rooms")
	}
	if api.creates != 2 {
		t.Errorf("expected two creates, got %d", api.creates)
	}
}

func TestResolver_LookupFailureAborts(t *testing.T) {
	api := newFakeRoomAPI()
	api.fail = errors.New("backend down")
	r := NewResolver(api, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "req1", "exp1")
	if !errors.Is(err, ErrRoomResolution) {
		t.Errorf("expected ErrRoomResolution, got %v", err)
	}
	if api.creates != 0 {
		t.Errorf("non-miss lookup failure must not trigger create, got %d", api.creates)
	}
}

func TestResolver_CreateFailureSurfaces(t *testing.T) {
	api := newFakeRoomAPI()
	r := NewResolver(api, zerolog.Nop())

	// First resolve creates; then force failures and use a fresh pair.
	if _, err := r.Resolve(context.Background(), "req1", "exp1"); err != nil {
		t.Fatalf("setup resolve failed: %v", err)
	}
	api.fail = errors.New("backend down")

	_, err := r.Resolve(context.Background(), "req2", "exp1")
	if !errors.Is(err, ErrRoomResolution) {
		t.Errorf("expected ErrRoomResolution, got %v", err)
	}
}
