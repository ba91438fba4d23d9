package trending

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/chat-trending/chat"
	"github.com/keilerkonzept/chat-trending/clock"
	"github.com/keilerkonzept/chat-trending/rank"
)

var t0 = time.Unix(1_700_000_000, 0)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

type recordingSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *recordingSink) Render(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func (s *recordingSink) last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return Snapshot{}
	}
	return s.snaps[len(s.snaps)-1]
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *clock.Fake, *recordingSink) {
	t.Helper()
	c := clock.NewFake(t0)
	sink := &recordingSink{}
	opts = append([]Option{WithClock(c), WithSink(sink)}, opts...)
	e := New(cfg, opts...)
	t.Cleanup(e.Stop)
	return e, c, sink
}

func text(s string) []chat.Token { return []chat.Token{chat.Text(s)} }

func ranked(entries []rank.Entry) []string {
	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = fmt.Sprintf("%s=%d", en.Signature, en.Count)
	}
	return out
}

func TestExampleScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 2
	cfg.MaxEntries = 2
	cfg.WindowMaxSize = 10
	cfg.WindowMaxAge = 0
	e, c, _ := newTestEngine(t, cfg)

	n := 0
	ingest := func(msg string, times int) {
		for i := 0; i < times; i++ {
			n++
			r := e.Ingest(chat.StableID(fmt.Sprintf("m%d", n)), text(msg), c.Now())
			require.Equal(t, Accepted, r.Outcome)
		}
	}
	ingest("gg", 3)
	ingest("wp", 2)
	ingest("hi", 1)

	assert.Equal(t, []string{"gg=3", "wp=2"}, ranked(e.Rank()))
}

func TestStableIDCountsOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	e, c, _ := newTestEngine(t, cfg)

	id := chat.StableID("msg-42")
	assert.Equal(t, Accepted, e.Ingest(id, text("GG"), c.Now()).Outcome)
	assert.Equal(t, Duplicate, e.Ingest(id, text("  gg "), c.Now().Add(time.Minute)).Outcome)
	assert.Equal(t, []string{"gg=1"}, ranked(e.Rank()))
}

func TestHandleGracePeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.GraceWindow = ms(500)
	e, c, _ := newTestEngine(t, cfg)

	h := chat.Handle("node-1")
	require.Equal(t, Accepted, e.Ingest(h, text("pog"), c.Now()).Outcome)
	require.Equal(t, Duplicate, e.Ingest(h, text("pog"), c.Now().Add(ms(999))).Outcome)
	assert.Equal(t, []string{"pog=1"}, ranked(e.Rank()))

	require.Equal(t, Accepted, e.Ingest(h, text("pog"), c.Now().Add(ms(1000))).Outcome)
	assert.Equal(t, []string{"pog=2"}, ranked(e.Rank()))

	e.Release("node-1")
	require.Equal(t, Accepted, e.Ingest(h, text("pog"), c.Now().Add(ms(1001))).Outcome)
}

func TestInvalidInputIsDropped(t *testing.T) {
	e, c, sink := newTestEngine(t, DefaultConfig())
	assert.Equal(t, Invalid, e.Ingest(chat.StableID("x"), nil, c.Now()).Outcome)
	assert.Equal(t, Invalid, e.Ingest(chat.StableID("x"), text(" \u200b "), c.Now()).Outcome)
	assert.Equal(t, Invalid, e.Ingest(chat.Identity{}, []chat.Token{chat.Emote("", "img.png")}, c.Now()).Outcome)

	c.Advance(time.Second)
	st := e.Stats()
	assert.EqualValues(t, 3, st.Invalid)
	assert.Zero(t, st.WindowLen)
	assert.Zero(t, st.Identities, "invalid input never reaches the dedup caches")
	assert.Zero(t, sink.count(), "no update requested")
}

func TestSizeEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.MaxEntries = 10
	cfg.WindowMaxSize = 3
	cfg.WindowMaxAge = 0
	e, c, _ := newTestEngine(t, cfg)

	for _, s := range []string{"a", "b", "c", "d"} {
		e.Ingest(chat.Identity{}, text(s), c.Now())
		c.Advance(ms(1))
	}
	got := e.Rank()
	assert.Equal(t, []string{"d=1", "c=1", "b=1"}, ranked(got))
	st := e.Stats()
	assert.Equal(t, 3, st.WindowLen)
	assert.Equal(t, 3, st.Signatures)
	assert.EqualValues(t, 1, st.Evicted)
}

func TestAgeEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.WindowMaxAge = time.Second
	e, c, _ := newTestEngine(t, cfg)

	e.Ingest(chat.Identity{}, text("old"), t0)
	assert.Zero(t, e.Trim(t0.Add(ms(1000))))
	assert.Equal(t, 1, e.Trim(t0.Add(ms(1001))))
	c.Set(t0.Add(ms(1001)))
	assert.Empty(t, e.Rank())
}

func TestBurstRendersOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	e, c, sink := newTestEngine(t, cfg)

	for i := 0; i < 100; i++ {
		e.Ingest(chat.Identity{}, text("spam"), c.Now())
	}
	assert.Zero(t, sink.count(), "delivery is deferred")
	c.Advance(cfg.FrameFallback)
	require.Equal(t, 1, sink.count())

	snap := sink.last()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 100, snap.Items[0].Count)
	assert.Equal(t, 1, snap.Items[0].Slot)
	assert.Equal(t, "spam", snap.Items[0].Text())
}

func TestUnchangedRankingIsNotRedelivered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 2
	e, c, sink := newTestEngine(t, cfg)

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	c.Advance(time.Second)
	require.Equal(t, 1, sink.count())

	// below threshold: recomputed, same visible content
	e.Ingest(chat.Identity{}, text("hi"), c.Now())
	c.Advance(time.Second)
	assert.Equal(t, 1, sink.count())

	e.Flush()
	assert.Equal(t, 1, sink.count())

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	c.Advance(time.Second)
	require.Equal(t, 2, sink.count())
	assert.Equal(t, 3, sink.last().Items[0].Count)
}

func TestThrottleBetweenRenders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.RenderThrottle = ms(200)
	e, c, sink := newTestEngine(t, cfg)

	e.Ingest(chat.Identity{}, text("a"), c.Now())
	c.Advance(0)
	require.Equal(t, 1, sink.count())

	c.Advance(ms(50))
	e.Ingest(chat.Identity{}, text("b"), c.Now())
	c.Advance(ms(149))
	assert.Equal(t, 1, sink.count())
	c.Advance(ms(1))
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, t0.Add(ms(200)), sink.last().At)
}

func TestFramesDriveDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.FrameFallback = ms(300)
	e, c, sink := newTestEngine(t, cfg, WithFrames())

	e.Ingest(chat.Identity{}, text("a"), c.Now())
	c.Advance(ms(100))
	assert.Zero(t, sink.count(), "waiting for a frame")
	assert.True(t, e.Frame())
	assert.Equal(t, 1, sink.count())

	e.Ingest(chat.Identity{}, text("b"), c.Now())
	c.Advance(ms(300))
	assert.Equal(t, 2, sink.count(), "fallback fires without frames")
	assert.False(t, e.Frame())
}

func TestSessionChangeClearsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.GraceWindow = time.Minute
	e, c, sink := newTestEngine(t, cfg)

	for i := 0; i < 5; i++ {
		e.Ingest(chat.StableID(fmt.Sprint(i)), text("gg"), c.Now())
	}
	e.Ingest(chat.Handle("h"), text("wp"), c.Now())
	c.Advance(time.Second)
	require.Equal(t, 1, sink.count())
	require.NotEmpty(t, sink.last().Items)

	e.OnSessionChange()
	st := e.Stats()
	assert.Zero(t, st.WindowLen)
	assert.Zero(t, st.Signatures)
	assert.Zero(t, st.Identities)
	assert.Zero(t, st.Handles)
	assert.EqualValues(t, 1, st.Sessions)
	assert.Empty(t, e.Rank())
	_, ok := e.Resend(1)
	assert.False(t, ok)

	c.Advance(time.Second)
	require.Equal(t, 2, sink.count())
	assert.Empty(t, sink.last().Items, "stale list is replaced by an empty one")

	assert.Equal(t, Accepted, e.Ingest(chat.StableID("0"), text("gg"), c.Now()).Outcome, "identity cache was cleared")
	assert.Equal(t, Accepted, e.Ingest(chat.Handle("h"), text("wp"), c.Now()).Outcome, "handle cache was cleared")
	assert.Equal(t, []string{"gg=1", "wp=1"}, ranked(e.Rank()))
}

func TestResendUsesFirstRendering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	e, c, _ := newTestEngine(t, cfg)

	first := []chat.Token{chat.Text("nice "), chat.Emote("Kappa", "https://cdn.example/kappa.png"), chat.Text(" one")}
	e.Ingest(chat.StableID("1"), first, c.Now())
	e.Ingest(chat.StableID("2"), text("NICE kappa ONE"), c.Now())
	e.Ingest(chat.StableID("3"), text("other"), c.Now())

	require.Equal(t, []string{"nice kappa one=2", "other=1"}, ranked(e.Rank()))
	got, ok := e.Resend(1)
	require.True(t, ok)
	assert.Equal(t, "nice Kappa one", got)
	got, ok = e.Resend(2)
	require.True(t, ok)
	assert.Equal(t, "other", got)
	_, ok = e.Resend(3)
	assert.False(t, ok)
	_, ok = e.Resend(0)
	assert.False(t, ok)
}

func TestPeriodicTrim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 2
	cfg.WindowMaxAge = time.Second
	cfg.TrimInterval = ms(100)
	e, c, sink := newTestEngine(t, cfg)
	e.Start()

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	c.Advance(0)
	require.Equal(t, 1, sink.count())
	require.Len(t, sink.last().Items, 1)

	c.Advance(ms(1000))
	assert.Equal(t, 2, e.Stats().WindowLen)
	c.Advance(ms(100))
	assert.Zero(t, e.Stats().WindowLen)
	require.Equal(t, 2, sink.count())
	assert.Empty(t, sink.last().Items)
}

func TestStopHaltsTimers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	e, c, sink := newTestEngine(t, cfg)
	e.Start()
	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	e.Stop()
	c.Advance(time.Minute)
	assert.Zero(t, sink.count())
	assert.Zero(t, c.Pending())
}

func TestSetConfigAppliesToNextOperation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.WindowMaxSize = 0
	cfg.WindowMaxAge = 0
	e, c, _ := newTestEngine(t, cfg)

	for i := 0; i < 10; i++ {
		e.Ingest(chat.Identity{}, text(fmt.Sprint(i%3)), c.Now())
	}
	next := cfg
	next.WindowMaxSize = 4
	next.SpamThreshold = 2
	next.MaxEntries = -3
	e.SetConfig(next)
	assert.Equal(t, 10, e.Stats().WindowLen, "no retroactive reprocessing")
	assert.Equal(t, 1, e.Config().MaxEntries, "clamped")

	got := e.Rank()
	assert.Equal(t, 4, e.Stats().WindowLen)
	// window now holds 6,7,8,9 -> "0","1","2","0"
	assert.Equal(t, []string{"0=2"}, ranked(got))
}

func TestDeliveriesAreSerialized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	cfg.RenderThrottle = 0
	e := New(cfg)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e.Ingest(chat.StableID(fmt.Sprintf("%d-%d", g, i)), text(fmt.Sprint(i%5)), time.Now())
				if i%50 == 0 {
					e.Flush()
				}
			}
		}(g)
	}
	wg.Wait()
	e.Stop()
	e.Trim(time.Now())
	st := e.Stats()
	assert.EqualValues(t, 1600, st.Accepted)
	assert.Equal(t, cfg.WindowMaxSize, st.WindowLen)
}

// blockingSink holds its first delivery until released and reads the engine
// stats from inside Render, the way an event loop redraws while a send is
// pending.
type blockingSink struct {
	e       *Engine
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	counts  []int
}

func (s *blockingSink) Render(snap Snapshot) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.e.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(snap.Items) > 0 {
		s.counts = append(s.counts, snap.Items[0].Count)
	}
}

func TestSinkMayCallEngineWhileDeliveryIsInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	e, c, _ := newTestEngine(t, cfg, WithSink(sink))
	sink.e = e

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	first := make(chan struct{})
	go func() {
		defer close(first)
		e.Flush()
	}()
	<-sink.entered

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	second := make(chan struct{})
	go func() {
		defer close(second)
		e.Flush()
	}()
	require.Eventually(t, func() bool { return e.Stats().Renders == 2 }, 2*time.Second, time.Millisecond,
		"engine stays usable while a delivery blocks")

	close(sink.release)
	for _, done := range []chan struct{}{first, second} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("flush did not return")
		}
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []int{1, 2}, sink.counts)
}

func TestStartAfterStopDeliversAgain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpamThreshold = 1
	e, c, sink := newTestEngine(t, cfg)
	e.Start()
	e.Stop()
	e.Start()

	e.Ingest(chat.Identity{}, text("gg"), c.Now())
	c.Advance(cfg.FrameFallback)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, 1, sink.last().Items[0].Count)
}
