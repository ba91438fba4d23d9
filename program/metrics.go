package main

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keilerkonzept/chat-trending/trending"
)

type durationRing struct {
	buf   []time.Duration
	idx   int
	count int
}

func newDurationRing(n int) *durationRing {
	if n < 1 {
		n = 1
	}
	return &durationRing{buf: make([]time.Duration, n)}
}

func (r *durationRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx++
	if r.idx >= len(r.buf) {
		r.idx = 0
	}
	if r.count < len(r.buf) {
		r.count++
	}
}

type durationStats struct {
	last time.Duration
	max  time.Duration
	avg  time.Duration
	p95  time.Duration
	n    int
}

func (r *durationRing) snapshot() durationStats {
	if r.count == 0 {
		return durationStats{}
	}
	samples := slices.Clone(r.buf[:r.count])
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	slices.Sort(samples)

	lastIdx := r.idx - 1
	if lastIdx < 0 {
		lastIdx = len(r.buf) - 1
	}
	return durationStats{
		last: r.buf[lastIdx],
		max:  samples[len(samples)-1],
		avg:  sum / time.Duration(r.count),
		p95:  samples[(len(samples)*95-1)/100],
		n:    r.count,
	}
}

// ingestMetrics counts producer records by outcome and samples how long a
// delivered snapshot took to reach the screen.
type ingestMetrics struct {
	enabled atomic.Bool

	records       atomic.Uint64
	accepted      atomic.Uint64
	duplicates    atomic.Uint64
	invalid       atomic.Uint64
	firstIngestNs atomic.Int64
	lastIngestNs  atomic.Int64

	renderMu  sync.Mutex
	renderLag *durationRing
}

func newIngestMetrics(window int) *ingestMetrics {
	return &ingestMetrics{renderLag: newDurationRing(window)}
}

func (m *ingestMetrics) setEnabled(v bool) { m.enabled.Store(v) }
func (m *ingestMetrics) isEnabled() bool   { return m.enabled.Load() }

func (m *ingestMetrics) observeIngest(now time.Time, outcome trending.Outcome) {
	if !m.isEnabled() {
		return
	}
	nowNs := now.UnixNano()
	m.firstIngestNs.CompareAndSwap(0, nowNs)
	m.lastIngestNs.Store(nowNs)
	m.records.Add(1)
	switch outcome {
	case trending.Accepted:
		m.accepted.Add(1)
	case trending.Duplicate:
		m.duplicates.Add(1)
	case trending.Invalid:
		m.invalid.Add(1)
	}
}

func (m *ingestMetrics) observeRender(lag time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.renderMu.Lock()
	m.renderLag.add(max(0, lag))
	m.renderMu.Unlock()
}

type metricsSnapshot struct {
	records    uint64
	accepted   uint64
	duplicates uint64
	invalid    uint64
	avgRps     uint64
	lastIngest time.Time
	renderLag  durationStats
}

func (m *ingestMetrics) snapshot() metricsSnapshot {
	if !m.isEnabled() {
		return metricsSnapshot{}
	}
	records := m.records.Load()
	lastIngestNs := m.lastIngestNs.Load()
	firstIngestNs := m.firstIngestNs.Load()

	avgRps := uint64(0)
	if firstIngestNs != 0 && lastIngestNs > firstIngestNs {
		active := time.Duration(lastIngestNs - firstIngestNs)
		avgRps = uint64(float64(records)/active.Seconds() + 0.5)
	}
	var lastIngest time.Time
	if lastIngestNs != 0 {
		lastIngest = time.Unix(0, lastIngestNs)
	}

	m.renderMu.Lock()
	lag := m.renderLag.snapshot()
	m.renderMu.Unlock()

	return metricsSnapshot{
		records:    records,
		accepted:   m.accepted.Load(),
		duplicates: m.duplicates.Load(),
		invalid:    m.invalid.Load(),
		avgRps:     avgRps,
		lastIngest: lastIngest,
		renderLag:  lag,
	}
}
