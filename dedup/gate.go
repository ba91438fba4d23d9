// Package dedup decides whether an observation of a message is a new event or
// a re-observation of one already counted. Stable source IDs are remembered in
// a FIFO cache; transient handles are remembered in a bounded LRU and treated
// as duplicates only within a grace period.
//
// A Gate is not safe for concurrent use; the owner serializes calls.
package dedup

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/keilerkonzept/chat-trending/chat"
)

// Limits configures a Gate.
type Limits struct {
	// Identities caps the stable-ID cache (FIFO eviction).
	Identities int
	// Handles caps the handle cache (LRU eviction) for producers that
	// cannot release handles promptly.
	Handles int
	// Grace is the re-render grace period. A handle observed again with the
	// same signature is a duplicate while less than 2*Grace has elapsed.
	Grace time.Duration
}

type Gate struct {
	identities *fifoCache
	handles    *lru.Cache[string, entry]
	grace      time.Duration
	evicted    uint64
}

func NewGate(l Limits) *Gate {
	return &Gate{
		identities: newFIFO(l.Identities),
		handles:    newHandleCache(l.Handles),
		grace:      l.Grace,
	}
}

func newHandleCache(size int) *lru.Cache[string, entry] {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return c
}

// Accept reports whether the observation (id, signature) at now is a new
// event, recording it in the matching cache when it is. Anonymous identities
// are always accepted and never cached.
func (g *Gate) Accept(id chat.Identity, signature string, now time.Time) bool {
	switch {
	case id.IsStable():
		return g.acceptStable(id.Key(), signature, now)
	case id.IsHandle():
		return g.acceptHandle(id.Key(), signature, now)
	}
	return true
}

func (g *Gate) acceptStable(key, signature string, now time.Time) bool {
	if prev, ok := g.identities.get(key); ok && prev.signature == signature {
		return false
	}
	g.evicted += uint64(g.identities.put(key, entry{signature: signature, at: now}))
	return true
}

func (g *Gate) acceptHandle(key, signature string, now time.Time) bool {
	if prev, ok := g.handles.Get(key); ok && prev.signature == signature {
		elapsed := now.Sub(prev.at)
		if elapsed < 0 {
			elapsed = -elapsed
		}
		if elapsed < 2*g.grace {
			return false
		}
	}
	if g.handles.Add(key, entry{signature: signature, at: now}) {
		g.evicted++
	}
	return true
}

// Release forgets a handle the producer has discarded.
func (g *Gate) Release(handle string) bool {
	return g.handles.Remove(handle)
}

// SetLimits applies new limits. The handle cache is resized immediately; the
// identity cache shrinks on its next insert.
func (g *Gate) SetLimits(l Limits) {
	g.grace = l.Grace
	g.identities.setLimit(l.Identities)
	size := l.Handles
	if size < 1 {
		size = 1
	}
	g.evicted += uint64(g.handles.Resize(size))
}

// Reset drops both caches.
func (g *Gate) Reset() {
	g.identities.reset()
	g.handles.Purge()
}

// Len returns the number of cached identities and handles.
func (g *Gate) Len() (identities, handles int) {
	return g.identities.len(), g.handles.Len()
}

// Evicted counts cache entries dropped for capacity since construction.
func (g *Gate) Evicted() uint64 { return g.evicted }
