package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"

	"github.com/keilerkonzept/chat-trending/chat"
	"github.com/keilerkonzept/chat-trending/trending"
)

// feeder hands producer records to the engine. It tracks the record channel
// so that a change of channel clears the engine before the record counts.
type feeder struct {
	engine  *trending.Engine
	history *history
	metrics *ingestMetrics
	logger  *log.Logger

	mu      sync.Mutex
	channel string

	paused    bool
	pauseMu   sync.Mutex
	pauseCond *sync.Cond
}

func newFeeder(engine *trending.Engine, h *history, m *ingestMetrics, logger *log.Logger) *feeder {
	f := &feeder{engine: engine, history: h, metrics: m, logger: logger}
	f.pauseCond = sync.NewCond(&f.pauseMu)
	return f
}

// apply ingests r at now. It reports false for records without a message.
func (f *feeder) apply(r record, now time.Time) (trending.Result, bool) {
	if r.Channel != "" {
		f.mu.Lock()
		changed := f.channel != "" && f.channel != r.Channel
		f.channel = r.Channel
		f.mu.Unlock()
		if changed {
			f.logger.Info("channel changed", "channel", r.Channel)
			f.sessionChange()
		}
	}
	if r.Release != "" {
		f.engine.Release(r.Release)
	}
	if !r.hasMessage() {
		return trending.Result{}, false
	}
	return f.ingest(r.identity(), r.tokens(), now), true
}

func (f *feeder) ingest(id chat.Identity, tokens []chat.Token, now time.Time) trending.Result {
	res := f.engine.Ingest(id, tokens, now)
	if res.Outcome == trending.Accepted && f.history != nil {
		f.history.observe(res.Signature)
	}
	if f.metrics != nil {
		f.metrics.observeIngest(now, res.Outcome)
	}
	return res
}

func (f *feeder) sessionChange() {
	f.engine.OnSessionChange()
	if f.history != nil {
		f.history.reset()
	}
}

// applyJSON decodes one JSON message from a network source. Malformed
// messages are logged and skipped.
func (f *feeder) applyJSON(data []byte, now time.Time) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		f.logger.Warn("skipping malformed record", "err", err)
		return
	}
	f.apply(r, now)
}

func (f *feeder) togglePause() {
	f.pauseMu.Lock()
	f.paused = !f.paused
	f.pauseMu.Unlock()
	f.pauseCond.Broadcast()
}

func (f *feeder) isPaused() bool {
	f.pauseMu.Lock()
	defer f.pauseMu.Unlock()
	return f.paused
}

func (f *feeder) waitIfPaused() {
	f.pauseMu.Lock()
	for f.paused {
		f.pauseCond.Wait()
	}
	f.pauseMu.Unlock()
}

// source produces records until its input ends or ctx is done.
type source interface {
	run(ctx context.Context, f *feeder) error
}

func newSource(cfg InputConfig, logger *log.Logger) source {
	switch {
	case cfg.MQTTBroker != "":
		return &mqttSource{broker: cfg.MQTTBroker, topic: cfg.MQTTTopic, qos: byte(cfg.MQTTQoS), logger: logger}
	case cfg.WebSocketURL != "":
		return &wsSource{url: cfg.WebSocketURL, logger: logger}
	}
	return &readerSource{cfg: cfg}
}

// errNoInput is returned when stdin is a terminal and no file was given.
var errNoInput = errors.New("no input: pass -in, pipe records to stdin, or use -mqtt-broker/-ws-url")

type readerSource struct {
	cfg InputConfig
}

func (s *readerSource) run(ctx context.Context, f *feeder) error {
	r, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if s.cfg.JSON {
		return s.readJSON(ctx, r, f)
	}
	return s.readText(ctx, r, f)
}

func (s *readerSource) open() (io.ReadCloser, error) {
	if s.cfg.Path != "" {
		f, err := os.Open(s.cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		return f, nil
	}
	if term.IsTerminal(os.Stdin.Fd()) {
		return nil, errNoInput
	}
	return io.NopCloser(os.Stdin), nil
}

// readText ingests each line as an anonymous text message.
func (s *readerSource) readText(ctx context.Context, r io.Reader, f *feeder) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		f.waitIfPaused()
		if ctx.Err() != nil {
			return nil
		}
		if s.cfg.MaxLines > 0 && n >= s.cfg.MaxLines {
			return nil
		}
		f.ingest(chat.Identity{}, []chat.Token{chat.Text(scanner.Text())}, time.Now())
		n++
		s.pace()
	}
	return scanner.Err()
}

func (s *readerSource) readJSON(ctx context.Context, r io.Reader, f *feeder) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	n := 0
	for {
		f.waitIfPaused()
		if ctx.Err() != nil {
			return nil
		}
		if s.cfg.MaxLines > 0 && n >= s.cfg.MaxLines {
			return nil
		}
		var rec record
		err := dec.Decode(&rec)
		n++
		var typeErr *json.UnmarshalTypeError
		switch {
		case err == io.EOF:
			return nil
		case errors.As(err, &typeErr):
			// the decoder consumed the whole value and can go on
			f.logger.Warn("skipping malformed record", "record", n, "err", err)
			continue
		case err != nil:
			return fmt.Errorf("record %d: %w", n, err)
		}
		f.apply(rec, time.Now())
		s.pace()
	}
}

func (s *readerSource) pace() {
	if s.cfg.Pace > 0 {
		time.Sleep(s.cfg.Pace)
	}
}
