package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/keilerkonzept/chat-trending/trending"
)

type Config struct {
	Trending trending.Config `yaml:"trending"`
	Input    InputConfig     `yaml:"input"`
	Render   RenderConfig    `yaml:"render"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	Path     string        `yaml:"path"`
	JSON     bool          `yaml:"json"`
	MaxLines int           `yaml:"max_lines"`
	Pace     time.Duration `yaml:"pace"`

	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
	MQTTQoS    int    `yaml:"mqtt_qos"`

	WebSocketURL string `yaml:"ws_url"`
}

type RenderConfig struct {
	Plain          bool          `yaml:"plain"`
	AltScreen      bool          `yaml:"alt_screen"`
	PlotFPS        int           `yaml:"plot_fps"`
	ViewSplit      int           `yaml:"view_split"`
	LogScale       bool          `yaml:"log_scale"`
	Stats          bool          `yaml:"stats"`
	StatsWindow    int           `yaml:"stats_window"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`

	// history sketch
	HistoryWidth  int           `yaml:"history_width"`
	HistoryDepth  int           `yaml:"history_depth"`
	HistoryDecay  float64       `yaml:"history_decay"`
	HistoryTick   time.Duration `yaml:"history_tick"`
	HistoryWindow time.Duration `yaml:"history_window"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

func defaultConfig() Config {
	return Config{
		Trending: trending.DefaultConfig(),
		Render: RenderConfig{
			AltScreen:      true,
			PlotFPS:        20,
			ViewSplit:      50,
			Stats:          true,
			StatsWindow:    256,
			ResendCooldown: 500 * time.Millisecond,
			HistoryWidth:   3000,
			HistoryDepth:   3,
			HistoryDecay:   0.9,
			HistoryTick:    time.Second,
			HistoryWindow:  time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var config = defaultConfig()

// loadConfigFile decodes a YAML file over cfg; keys missing from the file
// keep their current values.
func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func registerFlags(fs *flag.FlagSet, cfg *Config, configPath *string) {
	fs.StringVar(configPath, "config", "", "Load settings from this YAML file; explicit flags take precedence")

	t := &cfg.Trending
	fs.IntVar(&t.SpamThreshold, "threshold", t.SpamThreshold, "Minimum count for a message to trend")
	fs.IntVar(&t.MaxEntries, "max-entries", t.MaxEntries, "Maximum number of trending messages shown")
	fs.DurationVar(&t.WindowMaxAge, "window-age", t.WindowMaxAge, "Evict messages older than this (0 disables)")
	fs.IntVar(&t.WindowMaxSize, "window-size", t.WindowMaxSize, "Keep at most this many messages in the window (0 disables)")
	fs.DurationVar(&t.RenderThrottle, "throttle", t.RenderThrottle, "Minimum spacing between recomputations")
	fs.DurationVar(&t.FrameFallback, "frame-fallback", t.FrameFallback, "Longest wait for a render frame once a recomputation is due")
	fs.DurationVar(&t.TrimInterval, "trim-interval", t.TrimInterval, "Period of the background window trim")
	fs.IntVar(&t.IdentityCacheLimit, "identity-limit", t.IdentityCacheLimit, "Remembered message IDs (FIFO)")
	fs.IntVar(&t.HandleCacheLimit, "handle-limit", t.HandleCacheLimit, "Remembered message handles (LRU)")
	fs.DurationVar(&t.GraceWindow, "grace", t.GraceWindow, "Handle re-render grace period")

	in := &cfg.Input
	fs.StringVar(&in.Path, "in", in.Path, "Read input from this file instead of stdin")
	fs.BoolVar(&in.JSON, "json", in.JSON, "Read JSON records {channel,id,handle,text,tokens,release} instead of text lines")
	fs.IntVar(&in.MaxLines, "max-lines", in.MaxLines, "Stop after reading this many records (0 = unlimited)")
	fs.DurationVar(&in.Pace, "pace", in.Pace, "Sleep between input records (e.g. 5ms, 50ms)")
	fs.StringVar(&in.MQTTBroker, "mqtt-broker", in.MQTTBroker, "Subscribe to JSON records on this MQTT broker (tcp://host:port)")
	fs.StringVar(&in.MQTTTopic, "mqtt-topic", in.MQTTTopic, "MQTT topic to subscribe to")
	fs.IntVar(&in.MQTTQoS, "mqtt-qos", in.MQTTQoS, "MQTT subscription QoS [0,2]")
	fs.StringVar(&in.WebSocketURL, "ws-url", in.WebSocketURL, "Read JSON records from this WebSocket URL")

	r := &cfg.Render
	fs.BoolVar(&r.Plain, "plain", r.Plain, "Print a table per update instead of the interactive view")
	fs.BoolVar(&r.AltScreen, "alt-screen", r.AltScreen, "Use the terminal alternate screen buffer")
	fs.IntVar(&r.PlotFPS, "plot-fps", r.PlotFPS, "Plot refresh rate (frames per second); frames also drive list updates")
	fs.IntVar(&r.ViewSplit, "view-split", r.ViewSplit, "Split the view at this % of the total screen width [20,80]")
	fs.BoolVar(&r.LogScale, "log-scale", r.LogScale, "Use a logarithmic Y axis scale (default: linear)")
	fs.BoolVar(&r.Stats, "stats", r.Stats, "Show runtime stats")
	fs.IntVar(&r.StatsWindow, "stats-window", r.StatsWindow, "Number of recent samples kept per metric")
	fs.DurationVar(&r.ResendCooldown, "resend-cooldown", r.ResendCooldown, "Minimum spacing between clipboard resends")
	fs.IntVar(&r.HistoryWidth, "history-width", r.HistoryWidth, "History sketch width")
	fs.IntVar(&r.HistoryDepth, "history-depth", r.HistoryDepth, "History sketch depth")
	fs.Float64Var(&r.HistoryDecay, "history-decay", r.HistoryDecay, "History sketch counter decay probability on collisions")
	fs.DurationVar(&r.HistoryTick, "history-tick", r.HistoryTick, "History plot bucket size")
	fs.DurationVar(&r.HistoryWindow, "history-window", r.HistoryWindow, "History plot span")

	fs.StringVar(&cfg.Logging.File, "log-file", cfg.Logging.File, "Append logs to this file (- for stderr; empty discards)")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level: debug, info, warn, error")
}

// parseConfig resolves defaults, the optional YAML file and the command line,
// in increasing order of precedence.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	var configPath string
	registerFlags(fs, &cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if configPath == "" {
		return cfg, nil
	}

	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })
	if err := loadConfigFile(configPath, &cfg); err != nil {
		return Config{}, err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return Config{}, fmt.Errorf("-%s: %w", name, err)
		}
	}
	return cfg, nil
}

func validateAndNormalizeConfig(cfg *Config) error {
	in := &cfg.Input
	if in.MaxLines < 0 {
		return fmt.Errorf("-max-lines must be >= 0")
	}
	if in.Pace < 0 {
		return fmt.Errorf("-pace must be >= 0")
	}
	if in.MQTTBroker != "" && in.MQTTTopic == "" {
		return fmt.Errorf("-mqtt-broker requires -mqtt-topic")
	}
	if in.MQTTQoS < 0 || in.MQTTQoS > 2 {
		return fmt.Errorf("-mqtt-qos must be in [0,2]")
	}
	if in.MQTTBroker != "" && in.WebSocketURL != "" {
		return fmt.Errorf("choose only one: -mqtt-broker or -ws-url")
	}
	if in.WebSocketURL != "" && !strings.HasPrefix(in.WebSocketURL, "ws://") && !strings.HasPrefix(in.WebSocketURL, "wss://") {
		return fmt.Errorf("-ws-url must start with ws:// or wss://")
	}

	r := &cfg.Render
	if r.PlotFPS < 1 {
		return fmt.Errorf("-plot-fps must be >= 1")
	}
	if r.ResendCooldown < 0 {
		return fmt.Errorf("-resend-cooldown must be >= 0")
	}
	if r.HistoryWidth < 1 {
		return fmt.Errorf("-history-width must be >= 1")
	}
	if r.HistoryDepth < 1 {
		return fmt.Errorf("-history-depth must be >= 1")
	}
	if r.HistoryDecay < 0 || r.HistoryDecay > 1 {
		return fmt.Errorf("-history-decay must be in [0,1]")
	}
	if r.HistoryTick <= 0 {
		return fmt.Errorf("-history-tick must be > 0")
	}
	if r.HistoryWindow < r.HistoryTick {
		return fmt.Errorf("-history-window must be >= -history-tick")
	}
	if r.HistoryWindow%r.HistoryTick != 0 {
		return fmt.Errorf("-history-window must be a multiple of -history-tick (got window=%s tick=%s)", r.HistoryWindow, r.HistoryTick)
	}
	if _, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("-log-level: %w", err)
	}

	r.ViewSplit = min(80, max(20, r.ViewSplit))
	r.StatsWindow = max(16, r.StatsWindow)
	return nil
}
