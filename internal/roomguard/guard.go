// Package roomguard serializes mutation per room and suppresses duplicate
// logical requests. Locks for distinct rooms never contend; operations on
// the same room fully serialize.
package roomguard

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Guard owns the per-room lock table and the request dedup table. Build
// one per process and inject it everywhere room state is mutated: the
// handler path and the timer loop must go through the same Guard.
type Guard struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex

	dedupMu sync.Mutex
	recent  map[string]time.Time
	window  time.Duration

	clock clockwork.Clock
}

// New creates a Guard with the given dedup window.
func New(window time.Duration, clock clockwork.Clock) *Guard {
	return &Guard{
		locks:  make(map[string]*sync.Mutex),
		recent: make(map[string]time.Time),
		window: window,
		clock:  clock,
	}
}

// LockFor returns the room's lock, creating it on first access.
// Concurrent first accesses for the same id always converge on one lock
// object.
func (g *Guard) LockFor(roomID string) *sync.Mutex {
	g.mu.RLock()
	l, ok := g.locks[roomID]
	g.mu.RUnlock()
	if ok {
		return l
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check: another goroutine may have created it between the locks.
	if l, ok := g.locks[roomID]; ok {
		return l
	}
	l = &sync.Mutex{}
	g.locks[roomID] = l
	return l
}

// heldRooms records which room locks the current call chain owns, as an
// immutable chain carried through the context.
type heldRooms struct {
	roomID string
	parent *heldRooms
}

type heldKey struct{}

func holds(ctx context.Context, roomID string) bool {
	h, _ := ctx.Value(heldKey{}).(*heldRooms)
	for ; h != nil; h = h.parent {
		if h.roomID == roomID {
			return true
		}
	}
	return false
}

// WithRoom runs fn while holding the room's lock. The lock is released on
// normal return and on panic (the panic is re-raised). A nested WithRoom
// for a room the call chain already holds runs fn inline, so re-entrant
// call stacks do not deadlock — fn must propagate the ctx it is given for
// that to work.
func (g *Guard) WithRoom(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	if holds(ctx, roomID) {
		return fn(ctx)
	}

	l := g.LockFor(roomID)
	l.Lock()
	defer l.Unlock()

	held, _ := ctx.Value(heldKey{}).(*heldRooms)
	return fn(context.WithValue(ctx, heldKey{}, &heldRooms{roomID: roomID, parent: held}))
}

// ReleaseLock drops the cached lock for a destroyed room. A no-op if none
// existed. Callers must not release a lock that is still in use.
func (g *Guard) ReleaseLock(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, roomID)
}

// LockCount reports how many room locks are currently cached.
func (g *Guard) LockCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.locks)
}

// IsDuplicate reports whether requestKey was seen within the dedup
// window. A fresh key is recorded and reported as not duplicate. Keys
// must be unique per actor and action (e.g. "playerID:action") or
// unrelated requests will collide. Stale entries are purged here, on
// access — there is no background sweep.
func (g *Guard) IsDuplicate(requestKey string) bool {
	now := g.clock.Now()

	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	for key, seen := range g.recent {
		if now.Sub(seen) >= g.window {
			delete(g.recent, key)
		}
	}

	if seen, ok := g.recent[requestKey]; ok && now.Sub(seen) < g.window {
		log.Debug().Str("request_key", requestKey).Msg("duplicate request suppressed")
		return true
	}
	g.recent[requestKey] = now
	return false
}

// PendingKeys reports how many dedup entries are currently tracked.
func (g *Guard) PendingKeys() int {
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()
	return len(g.recent)
}
