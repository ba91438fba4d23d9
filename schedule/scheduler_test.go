package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/chat-trending/clock"
)

var t0 = time.Unix(1_700_000_000, 0)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

type recorder struct {
	c   *clock.Fake
	out []time.Duration
}

func (r *recorder) fire() { r.out = append(r.out, r.c.Now().Sub(t0)) }

func setup(throttle, fallback time.Duration, opts ...Option) (*Scheduler, *clock.Fake, *recorder) {
	c := clock.NewFake(t0)
	r := &recorder{c: c}
	return New(c, throttle, fallback, r.fire, opts...), c, r
}

func TestBurstCoalescesIntoOneFiring(t *testing.T) {
	s, c, r := setup(0, ms(100))
	for i := 0; i < 1000; i++ {
		s.Request()
	}
	pending, _ := s.Pending()
	require.True(t, pending)
	assert.Empty(t, r.out, "never fires inline")

	c.Advance(ms(100))
	assert.Len(t, r.out, 1)
	assert.EqualValues(t, 1, s.Fired())
}

func TestThrottleSpacesFirings(t *testing.T) {
	s, c, r := setup(ms(100), ms(500))
	s.Request()
	c.Advance(0)
	require.Equal(t, []time.Duration{0}, r.out)

	c.Advance(ms(10))
	s.Request()
	c.Advance(ms(89))
	assert.Len(t, r.out, 1, "throttle not elapsed")
	c.Advance(ms(1))
	assert.Equal(t, []time.Duration{0, ms(100)}, r.out)
}

func TestRequestDoesNotReschedule(t *testing.T) {
	s, c, r := setup(ms(100), ms(500))
	s.Request()
	c.Advance(0)

	s.Request()
	c.Advance(ms(50))
	s.Request()
	s.Request()
	c.Advance(ms(50))
	assert.Equal(t, []time.Duration{0, ms(100)}, r.out)
	c.Advance(time.Second)
	assert.Len(t, r.out, 2)
}

func TestFramesFireAfterThrottle(t *testing.T) {
	s, c, r := setup(ms(100), ms(500), WithFrames())
	s.Request()
	assert.True(t, s.Frame(), "first request is ready at once")
	require.Equal(t, []time.Duration{0}, r.out)

	c.Advance(ms(10))
	s.Request()
	c.Advance(ms(40))
	assert.False(t, s.Frame(), "frame before the throttle gate")
	c.Advance(ms(70))
	assert.True(t, s.Frame())
	assert.Equal(t, []time.Duration{0, ms(120)}, r.out)
	assert.False(t, s.Frame(), "nothing pending")
}

func TestFallbackBoundsStarvedFrames(t *testing.T) {
	s, c, r := setup(0, ms(200), WithFrames())
	s.Request()
	_, deadline := s.Pending()
	assert.Equal(t, t0.Add(ms(200)), deadline)

	c.Advance(ms(199))
	assert.Empty(t, r.out)
	c.Advance(ms(1))
	assert.Equal(t, []time.Duration{ms(200)}, r.out)
}

func TestThrottleLongerThanFallback(t *testing.T) {
	s, c, r := setup(ms(300), ms(50), WithFrames())
	s.Request()
	s.Frame()
	c.Advance(ms(10))
	s.Request()
	_, deadline := s.Pending()
	assert.Equal(t, t0.Add(ms(300)), deadline, "never sooner than the throttle")
	c.Advance(ms(290))
	assert.Equal(t, []time.Duration{0, ms(300)}, r.out)
}

func TestRequestFromFireSchedulesNext(t *testing.T) {
	c := clock.NewFake(t0)
	var s *Scheduler
	n := 0
	s = New(c, ms(100), ms(100), func() {
		n++
		if n < 3 {
			s.Request()
		}
	})
	s.Request()
	c.Advance(time.Second)
	assert.Equal(t, 3, n)
}

func TestStop(t *testing.T) {
	s, c, r := setup(0, ms(100))
	s.Request()
	s.Stop()
	c.Advance(time.Second)
	assert.Empty(t, r.out)
	s.Request()
	c.Advance(time.Second)
	assert.Empty(t, r.out)
	assert.Zero(t, c.Pending())
}

func TestStartAfterStop(t *testing.T) {
	s, c, r := setup(0, ms(100))
	s.Stop()
	c.Advance(time.Second)
	s.Start()
	s.Request()
	c.Advance(time.Second)
	assert.Equal(t, []time.Duration{time.Second}, r.out)
}

func TestSetTimingAppliesToNextRequest(t *testing.T) {
	s, c, r := setup(ms(100), ms(500))
	s.Request()
	c.Advance(0)
	s.Request()
	s.SetTiming(ms(10), ms(500))
	c.Advance(ms(50))
	assert.Len(t, r.out, 1, "scheduled firing keeps its time")
	c.Advance(ms(50))
	s.Request()
	c.Advance(ms(10))
	assert.Equal(t, []time.Duration{0, ms(100), ms(110)}, r.out)
}
