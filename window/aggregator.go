// Package window keeps the sliding window of accepted events together with the
// per-signature counters and the first-seen token rendering of every signature
// still alive in the window.
//
// An Aggregator is not safe for concurrent use.
package window

import (
	"time"

	"github.com/keilerkonzept/chat-trending/chat"
)

// Counter is the live state of one signature.
type Counter struct {
	Count    int
	LastSeen time.Time
}

type Aggregator struct {
	queue    queue
	counters map[string]*Counter
	tokens   map[string][]chat.Token
}

func New() *Aggregator {
	return &Aggregator{
		counters: make(map[string]*Counter),
		tokens:   make(map[string][]chat.Token),
	}
}

// Record appends an accepted event. The first non-empty token rendering of a
// signature is kept until the signature leaves the window; every live
// signature has a token cache entry, empty until a rendering arrives.
// Record ignores empty signatures and reports whether the event was recorded.
func (a *Aggregator) Record(signature string, tokens []chat.Token, now time.Time) bool {
	if signature == "" {
		return false
	}
	a.queue.push(Entry{Signature: signature, At: now})
	c, ok := a.counters[signature]
	if !ok {
		c = &Counter{}
		a.counters[signature] = c
	}
	c.Count++
	c.LastSeen = now
	if cur, ok := a.tokens[signature]; !ok || (len(cur) == 0 && len(tokens) > 0) {
		a.tokens[signature] = chat.Clone(tokens)
	}
	return true
}

// Trim pops the head of the window while the window holds more than maxSize
// entries or the head is older than maxAge. A non-positive bound is disabled.
// Signatures whose count drops to zero are forgotten along with their tokens.
// Trim returns the number of evicted entries.
func (a *Aggregator) Trim(now time.Time, maxAge time.Duration, maxSize int) int {
	evicted := 0
	for a.queue.len() > 0 {
		overSize := maxSize > 0 && a.queue.len() > maxSize
		if !overSize && !(maxAge > 0 && now.Sub(a.queue.front().At) > maxAge) {
			break
		}
		a.forget(a.queue.pop().Signature)
		evicted++
	}
	return evicted
}

func (a *Aggregator) forget(signature string) {
	c, ok := a.counters[signature]
	if !ok {
		return
	}
	c.Count--
	if c.Count <= 0 {
		delete(a.counters, signature)
		delete(a.tokens, signature)
	}
}

// Len is the number of entries in the window.
func (a *Aggregator) Len() int { return a.queue.len() }

// Signatures is the number of live signatures.
func (a *Aggregator) Signatures() int { return len(a.counters) }

func (a *Aggregator) Count(signature string) int {
	if c, ok := a.counters[signature]; ok {
		return c.Count
	}
	return 0
}

func (a *Aggregator) Counter(signature string) (Counter, bool) {
	c, ok := a.counters[signature]
	if !ok {
		return Counter{}, false
	}
	return *c, true
}

// Tokens returns the cached rendering of a live signature.
func (a *Aggregator) Tokens(signature string) ([]chat.Token, bool) {
	t, ok := a.tokens[signature]
	return t, ok
}

// Each visits every live signature in unspecified order.
func (a *Aggregator) Each(fn func(signature string, c Counter)) {
	for s, c := range a.counters {
		fn(s, *c)
	}
}

// Reset empties the window, the counters and the token cache.
func (a *Aggregator) Reset() {
	a.queue.reset()
	a.counters = make(map[string]*Counter)
	a.tokens = make(map[string][]chat.Token)
}
