package main

import (
	"math"
	"sync"
	"time"

	"github.com/keilerkonzept/topk"
	"github.com/keilerkonzept/topk/heap"
	"github.com/keilerkonzept/topk/sliding"
)

// history is an approximate per-signature activity history, kept in a
// sliding top-K sketch with one bucket per tick. The engine's window decides
// what trends; the sketch only feeds the plot and the history column.
type history struct {
	mu     sync.Mutex
	k      int
	cfg    RenderConfig
	sketch *sliding.Sketch
	last   time.Time
}

func newHistory(k int, cfg RenderConfig) *history {
	h := &history{k: max(1, k), cfg: cfg}
	h.sketch = h.newSketch()
	return h
}

func (h *history) newSketch() *sliding.Sketch {
	return sliding.New(h.k,
		int(h.cfg.HistoryWindow/h.cfg.HistoryTick),
		sliding.WithWidth(h.cfg.HistoryWidth),
		sliding.WithDepth(h.cfg.HistoryDepth),
		sliding.WithDecay(float32(h.cfg.HistoryDecay)),
	)
}

// length is the number of buckets in a series.
func (h *history) length() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sketch.BucketHistoryLength
}

func (h *history) observe(sig string) {
	h.mu.Lock()
	h.sketch.Incr(sig)
	h.mu.Unlock()
}

// advance moves the sketch forward by the whole ticks elapsed since the
// previous call and returns the tick-aligned time.
func (h *history) advance(t time.Time) time.Time {
	t = t.Truncate(h.cfg.HistoryTick)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.IsZero() {
		h.last = t
		return t
	}
	if ticks := int(t.Sub(h.last) / h.cfg.HistoryTick); ticks > 0 {
		h.sketch.Ticks(ticks)
		h.last = t
	}
	return h.last
}

func (h *history) latest() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// reset starts a new sketch; a session change invalidates the history.
func (h *history) reset() {
	h.mu.Lock()
	h.sketch = h.newSketch()
	h.mu.Unlock()
}

func (h *history) count(sig string) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sketch.Count(sig)
}

// fill writes one series per signature into out, newest bucket last.
// Signatures outside the sketch's top-K get an all-zero series.
func (h *history) fill(sigs []string, out [][]float64, logScale bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tracked := make(map[string]heap.Item, h.k)
	for _, item := range h.sketch.SortedSlice() {
		tracked[item.Item] = item
	}
	for i, sig := range sigs {
		if i >= len(out) {
			return
		}
		item, ok := tracked[sig]
		if !ok {
			clear(out[i])
			continue
		}
		h.fillSeries(item, out[i], logScale)
	}
}

func (h *history) fillSeries(item heap.Item, series []float64, logScale bool) {
	s := h.sketch
	bucketIdx := make([]int, 0, s.Depth)
	for k := 0; k < s.Depth; k++ {
		idx := topk.BucketIndex(item.Item, k, s.Width)
		b := s.Buckets[idx]
		if b.Fingerprint == item.Fingerprint && len(b.Counts) > 0 {
			bucketIdx = append(bucketIdx, idx)
		}
	}
	if len(bucketIdx) == 0 {
		clear(series)
		return
	}

	for j := range series {
		var maxCount uint32
		for _, idx := range bucketIdx {
			b := s.Buckets[idx]
			maxCount = max(maxCount, b.Counts[(int(b.First)+j)%len(b.Counts)])
		}
		value := float64(maxCount)
		if logScale {
			value = math.Log(max(1, value))
		}
		series[len(series)-1-j] = value
	}
}
