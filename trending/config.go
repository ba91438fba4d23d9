package trending

import (
	"fmt"
	"time"
)

// Config holds the engine options. Out-of-range values are clamped rather
// than rejected; see Clamp.
type Config struct {
	// SpamThreshold is the minimum count for a signature to trend.
	SpamThreshold int `yaml:"spam_threshold"`
	// MaxEntries caps the trending list.
	MaxEntries int `yaml:"max_entries"`
	// WindowMaxAge evicts window entries older than this; 0 disables.
	WindowMaxAge time.Duration `yaml:"window_max_age"`
	// WindowMaxSize caps the window length; 0 disables.
	WindowMaxSize int `yaml:"window_max_size"`
	// RenderThrottle is the minimum spacing between recomputations.
	RenderThrottle time.Duration `yaml:"render_throttle"`
	// FrameFallback bounds how long a requested recomputation waits for a
	// host frame.
	FrameFallback time.Duration `yaml:"frame_fallback"`
	// TrimInterval is the period of the background trim.
	TrimInterval time.Duration `yaml:"trim_interval"`
	// IdentityCacheLimit caps remembered stable IDs (FIFO).
	IdentityCacheLimit int `yaml:"identity_cache_limit"`
	// HandleCacheLimit caps remembered handles (LRU).
	HandleCacheLimit int `yaml:"handle_cache_limit"`
	// GraceWindow is the handle re-render grace period; a handle is a
	// duplicate while less than twice this has elapsed.
	GraceWindow time.Duration `yaml:"grace_window"`
}

const (
	minFrameFallback = 16 * time.Millisecond
	minTrimInterval  = 50 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{
		SpamThreshold:      2,
		MaxEntries:         5,
		WindowMaxAge:       30 * time.Second,
		WindowMaxSize:      300,
		RenderThrottle:     250 * time.Millisecond,
		FrameFallback:      500 * time.Millisecond,
		TrimInterval:       time.Second,
		IdentityCacheLimit: 2000,
		HandleCacheLimit:   4096,
		GraceWindow:        500 * time.Millisecond,
	}
}

// Clamp returns c with every option coerced into its valid range, plus one
// note per adjusted option.
func (c Config) Clamp() (Config, []string) {
	var notes []string
	atLeast := func(name string, v *int, floor int) {
		if *v < floor {
			notes = append(notes, fmt.Sprintf("%s=%d raised to %d", name, *v, floor))
			*v = floor
		}
	}
	atLeastDur := func(name string, v *time.Duration, floor time.Duration) {
		if *v < floor {
			notes = append(notes, fmt.Sprintf("%s=%s raised to %s", name, *v, floor))
			*v = floor
		}
	}

	atLeast("spam_threshold", &c.SpamThreshold, 1)
	atLeast("max_entries", &c.MaxEntries, 1)
	atLeast("window_max_size", &c.WindowMaxSize, 0)
	atLeast("identity_cache_limit", &c.IdentityCacheLimit, 1)
	atLeast("handle_cache_limit", &c.HandleCacheLimit, 1)
	atLeastDur("window_max_age", &c.WindowMaxAge, 0)
	atLeastDur("render_throttle", &c.RenderThrottle, 0)
	atLeastDur("frame_fallback", &c.FrameFallback, minFrameFallback)
	atLeastDur("trim_interval", &c.TrimInterval, minTrimInterval)
	atLeastDur("grace_window", &c.GraceWindow, 0)
	return c, notes
}
