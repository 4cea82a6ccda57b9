package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

// RoomAPI is the slice of the backend client the resolver needs.
type RoomAPI interface {
	LookupRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error)
	CreateRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error)
}

// Resolver maps a (quote-request, counterpart) pair to its canonical
// chat room, creating one lazily on first use. Resolution for a given
// pair is serialized so a lookup miss leads to exactly one create,
// never two racing ones.
type Resolver struct {
	api RoomAPI
	log zerolog.Logger

	mu    sync.Mutex
	pairs map[string]*sync.Mutex
}

// NewResolver creates a resolver over the given backend API.
func NewResolver(api RoomAPI, logger zerolog.Logger) *Resolver {
	return &Resolver{
		api:   api,
		log:   logger,
		pairs: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the room for the pair, creating it after a lookup
// miss. Any other lookup failure aborts without attempting a create.
func (r *Resolver) Resolve(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error) {
	pair := r.pairLock(requestID + "\x00" + counterpartID)
	pair.Lock()
	defer pair.Unlock()

	room, err := r.api.LookupRoom(ctx, requestID, counterpartID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return types.ChatRoom{}, fmt.Errorf("%w: lookup: %w", ErrRoomResolution, err)
	}

	r.log.Info().Str("request", requestID).Str("counterpart", counterpartID).
		Msg("[rooms] no existing room, creating")

	room, err = r.api.CreateRoom(ctx, requestID, counterpartID)
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("%w: create: %w", ErrRoomResolution, err)
	}
	return room, nil
}

func (r *Resolver) pairLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.pairs[key]
	if !ok {
		lock = &sync.Mutex{}
		r.pairs[key] = lock
	}
	return lock
}
