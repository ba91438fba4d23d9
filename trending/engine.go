// Package trending is the ingestion engine: it normalizes incoming messages,
// drops re-observations of events already counted, keeps a bounded sliding
// window of accepted events and delivers a ranked trending list to a Sink
// whenever it changes.
//
// All state belongs to one Engine and is mutated only under its lock, so
// ingestion, periodic trimming, scheduled recomputation and session changes
// run one at a time and never observe each other half done.
package trending

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/keilerkonzept/chat-trending/chat"
	"github.com/keilerkonzept/chat-trending/clock"
	"github.com/keilerkonzept/chat-trending/dedup"
	"github.com/keilerkonzept/chat-trending/rank"
	"github.com/keilerkonzept/chat-trending/schedule"
	"github.com/keilerkonzept/chat-trending/window"
)

// Outcome classifies an ingested observation.
type Outcome uint8

const (
	// Invalid observations normalize to an empty signature.
	Invalid Outcome = iota
	// Duplicate observations re-observe an event already counted.
	Duplicate
	// Accepted observations were added to the window.
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case Invalid:
		return "invalid"
	case Duplicate:
		return "duplicate"
	case Accepted:
		return "accepted"
	}
	return "unknown"
}

type Result struct {
	Signature string
	Outcome   Outcome
}

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	WindowLen  int
	Signatures int
	Identities int
	Handles    int

	Accepted       uint64
	Duplicates     uint64
	Invalid        uint64
	Evicted        uint64
	CacheEvictions uint64
	Renders        uint64
	Sessions       uint64
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithFrames declares that the host calls Frame at its preferred render
// points; recomputations wait for a frame up to Config.FrameFallback.
func WithFrames() Option {
	return func(e *Engine) { e.frames = true }
}

type Engine struct {
	clock  clock.Clock
	logger *log.Logger
	sink   Sink
	frames bool

	mu        sync.Mutex
	cfg       Config
	gate      *dedup.Gate
	window    *window.Aggregator
	ranker    *rank.Ranker
	sched     *schedule.Scheduler
	trimTimer clock.Timer
	running   bool

	delivered bool
	lastKey   string
	seq       uint64

	accepted   uint64
	duplicates uint64
	invalid    uint64
	evicted    uint64
	renders    uint64
	sessions   uint64

	// sinkMu serializes deliveries. It is never taken while mu is held, so
	// a sink may call back into the engine.
	sinkMu   sync.Mutex
	rendered uint64
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		clock:  clock.Real{},
		window: window.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}

	cfg = e.clamp(cfg)
	e.cfg = cfg
	e.gate = dedup.NewGate(gateLimits(cfg))
	e.ranker = rank.New(cfg.SpamThreshold, cfg.MaxEntries)

	var schedOpts []schedule.Option
	if e.frames {
		schedOpts = append(schedOpts, schedule.WithFrames())
	}
	e.sched = schedule.New(e.clock, cfg.RenderThrottle, cfg.FrameFallback, e.flush, schedOpts...)
	return e
}

func gateLimits(cfg Config) dedup.Limits {
	return dedup.Limits{
		Identities: cfg.IdentityCacheLimit,
		Handles:    cfg.HandleCacheLimit,
		Grace:      cfg.GraceWindow,
	}
}

func (e *Engine) clamp(cfg Config) Config {
	cfg, notes := cfg.Clamp()
	for _, n := range notes {
		e.logger.Warn("config clamped", "detail", n)
	}
	return cfg
}

// Start arms the periodic trim and lets scheduled recomputations run. It
// also restarts an engine that was stopped.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.sched.Start()
	e.armTrimLocked()
}

// Stop cancels the periodic trim and any pending recomputation. A stopped
// engine still ingests but no longer delivers snapshots on its own until
// Start is called again.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	if e.trimTimer != nil {
		e.trimTimer.Stop()
		e.trimTimer = nil
	}
	e.mu.Unlock()
	e.sched.Stop()
}

func (e *Engine) armTrimLocked() {
	e.trimTimer = e.clock.AfterFunc(e.cfg.TrimInterval, e.trimTick)
}

func (e *Engine) trimTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.trimLocked(e.clock.Now(), true)
	e.armTrimLocked()
}

// Ingest processes one observation of a message. It never fails: malformed
// input is reported as Invalid and leaves the state untouched.
func (e *Engine) Ingest(id chat.Identity, tokens []chat.Token, now time.Time) Result {
	sig := chat.Signature(tokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	if sig == "" {
		e.invalid++
		return Result{Outcome: Invalid}
	}
	if !e.gate.Accept(id, sig, now) {
		e.duplicates++
		e.logger.Debug("duplicate", "identity", id, "signature", sig)
		return Result{Signature: sig, Outcome: Duplicate}
	}
	e.window.Record(sig, tokens, now)
	e.accepted++
	e.sched.Request()
	return Result{Signature: sig, Outcome: Accepted}
}

// IngestText ingests a plain text message.
func (e *Engine) IngestText(id chat.Identity, text string, now time.Time) Result {
	return e.Ingest(id, []chat.Token{chat.Text(text)}, now)
}

// Release forgets a handle the producer discarded.
func (e *Engine) Release(handle string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate.Release(handle)
}

// OnSessionChange clears the window, the counters, the token cache, both
// dedup caches and the last delivered snapshot as one step. The sink then
// receives an empty snapshot.
func (e *Engine) OnSessionChange() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Reset()
	e.gate.Reset()
	e.ranker.Reset()
	e.delivered = false
	e.lastKey = ""
	e.sessions++
	e.logger.Info("session changed, state cleared", "session", e.sessions)
	e.sched.Request()
}

// Trim evicts window entries that exceed the configured bounds at now and
// returns how many were evicted.
func (e *Engine) Trim(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trimLocked(now, true)
}

func (e *Engine) trimLocked(now time.Time, notify bool) int {
	n := e.window.Trim(now, e.cfg.WindowMaxAge, e.cfg.WindowMaxSize)
	if n == 0 {
		return 0
	}
	e.evicted += uint64(n)
	e.logger.Debug("trimmed window", "evicted", n, "len", e.window.Len(), "signatures", e.window.Signatures())
	if notify {
		e.sched.Request()
	}
	return n
}

// Rank trims the window at the current time and returns the ranking.
func (e *Engine) Rank() []rank.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trimLocked(e.clock.Now(), true)
	return e.ranker.Rank(e.window)
}

// Snapshot builds the current ranking with its token renderings without
// delivering it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	e.trimLocked(now, true)
	return e.snapshotLocked(now)
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	entries := e.ranker.Rank(e.window)
	snap := Snapshot{At: now, Items: make([]Item, len(entries))}
	for i, en := range entries {
		tokens, _ := e.window.Tokens(en.Signature)
		snap.Items[i] = Item{
			Slot:      i + 1,
			Signature: en.Signature,
			Count:     en.Count,
			LastSeen:  en.LastSeen,
			Tokens:    chat.Clone(tokens),
		}
	}
	return snap
}

// Frame offers the scheduler a render point; it reports whether a pending
// recomputation ran. Hosts using WithFrames call it from their frame tick.
func (e *Engine) Frame() bool {
	return e.sched.Frame()
}

// Flush recomputes and delivers immediately, bypassing the scheduler.
func (e *Engine) Flush() {
	e.flush()
}

func (e *Engine) flush() {
	e.mu.Lock()
	now := e.clock.Now()
	e.trimLocked(now, false)
	snap := e.snapshotLocked(now)
	key := snap.key()
	if e.delivered && key == e.lastKey {
		e.mu.Unlock()
		return
	}
	e.delivered = true
	e.lastKey = key
	e.renders++
	e.seq++
	seq, sink := e.seq, e.sink
	e.mu.Unlock()

	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	// a newer snapshot overtook this one
	if seq <= e.rendered {
		return
	}
	e.rendered = seq
	if sink != nil {
		sink.Render(snap)
	}
}

// Resend returns the plain text of the 1-based slot of the last ranking:
// emotes as their alt text, parts joined with single spaces.
func (e *Engine) Resend(slot int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sig, ok := e.ranker.Slot(slot)
	if !ok {
		return "", false
	}
	tokens, ok := e.window.Tokens(sig)
	if !ok {
		return "", false
	}
	return chat.Flatten(tokens), true
}

// SetConfig replaces the configuration. The new values apply from the next
// scheduled operation; window contents are not reprocessed.
func (e *Engine) SetConfig(cfg Config) {
	cfg = e.clamp(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.gate.SetLimits(gateLimits(cfg))
	e.ranker.SetLimits(cfg.SpamThreshold, cfg.MaxEntries)
	e.sched.SetTiming(cfg.RenderThrottle, cfg.FrameFallback)
	e.logger.Debug("config replaced", "threshold", cfg.SpamThreshold, "max_entries", cfg.MaxEntries)
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, handles := e.gate.Len()
	return Stats{
		WindowLen:      e.window.Len(),
		Signatures:     e.window.Signatures(),
		Identities:     ids,
		Handles:        handles,
		Accepted:       e.accepted,
		Duplicates:     e.duplicates,
		Invalid:        e.invalid,
		Evicted:        e.evicted,
		CacheEvictions: e.gate.Evicted(),
		Renders:        e.renders,
		Sessions:       e.sessions,
	}
}
