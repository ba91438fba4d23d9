// Package rank derives the trending list from the live window counters.
package rank

import (
	"sort"
	"time"

	"github.com/keilerkonzept/chat-trending/window"
)

// Entry is one ranked signature.
type Entry struct {
	Signature string
	Count     int
	LastSeen  time.Time
}

// Source is anything that can enumerate live counters, usually a
// *window.Aggregator.
type Source interface {
	Each(fn func(signature string, c window.Counter))
}

// Ranker keeps signatures seen at least threshold times, orders them by count,
// then by most recent occurrence, and truncates the list to max entries. The
// last ranked list is kept for slot lookups.
type Ranker struct {
	threshold int
	max       int

	last []Entry
}

func New(threshold, max int) *Ranker {
	r := &Ranker{}
	r.SetLimits(threshold, max)
	return r
}

// SetLimits applies to the next Rank call.
func (r *Ranker) SetLimits(threshold, max int) {
	if threshold < 1 {
		threshold = 1
	}
	if max < 1 {
		max = 1
	}
	r.threshold = threshold
	r.max = max
}

// Rank computes a fresh list from src.
func (r *Ranker) Rank(src Source) []Entry {
	var items []Entry
	src.Each(func(signature string, c window.Counter) {
		if c.Count >= r.threshold {
			items = append(items, Entry{Signature: signature, Count: c.Count, LastSeen: c.LastSeen})
		}
	})

	sort.SliceStable(items, func(i, j int) bool {
		li := items[i]
		lj := items[j]
		if li.Count != lj.Count {
			return li.Count > lj.Count
		}
		if !li.LastSeen.Equal(lj.LastSeen) {
			return li.LastSeen.After(lj.LastSeen)
		}
		return li.Signature < lj.Signature
	})
	if len(items) > r.max {
		items = items[:r.max]
	}

	r.last = cloneEntries(items)
	return items
}

// Last returns a copy of the most recently ranked list.
func (r *Ranker) Last() []Entry {
	return cloneEntries(r.last)
}

// Slot returns the signature shown at the 1-based slot of the last ranking.
func (r *Ranker) Slot(i int) (string, bool) {
	if i < 1 || i > len(r.last) {
		return "", false
	}
	return r.last[i-1].Signature, true
}

func (r *Ranker) Reset() {
	r.last = nil
}

func cloneEntries(in []Entry) []Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
