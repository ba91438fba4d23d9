package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/keilerkonzept/chat-trending/trending"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if err := validateAndNormalizeConfig(&cfg); err != nil {
		fatal(err)
	}
	config = cfg

	logger, closer, err := newLogger(config.Logging)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Render.Plain {
		err = runPlain(ctx, os.Stdout, logger)
	} else {
		err = runTUI(ctx, logger)
	}
	if err != nil {
		logger.Error("exiting", "err", err)
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// historyK sizes the history sketch's heap so that every trending row
// normally has a tracked series.
func historyK(maxEntries int) int {
	return max(50, 4*maxEntries)
}

func runPlain(ctx context.Context, w io.Writer, logger *log.Logger) error {
	h := newHistory(historyK(config.Trending.MaxEntries), config.Render)
	sink := newTableSink(w, h)
	engine := trending.New(config.Trending,
		trending.WithLogger(logger.WithPrefix("engine")),
		trending.WithSink(sink),
	)
	engine.Start()

	metrics := newIngestMetrics(config.Render.StatsWindow)
	metrics.setEnabled(true)
	f := newFeeder(engine, h, metrics, logger)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(config.Render.HistoryTick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case t := <-ticker.C:
				h.advance(t)
			}
		}
	}()

	started := time.Now()
	h.advance(started)
	err := newSource(config.Input, logger).run(ctx, f)
	engine.Stop()
	engine.Flush()
	if config.Render.Stats {
		writeStats(w, engine.Stats(), metrics.snapshot(), time.Since(started))
	}
	return err
}

func runTUI(ctx context.Context, logger *log.Logger) error {
	var prog *tui.Program
	sink := trending.SinkFunc(func(snap trending.Snapshot) {
		prog.Send(snapshotMsg(snap))
	})
	engine := trending.New(config.Trending,
		trending.WithLogger(logger.WithPrefix("engine")),
		trending.WithSink(sink),
		trending.WithFrames(),
	)

	h := newHistory(historyK(engine.Config().MaxEntries), config.Render)
	metrics := newIngestMetrics(config.Render.StatsWindow)
	metrics.setEnabled(config.Render.Stats)
	f := newFeeder(engine, h, metrics, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newModel(ctx, engine, f, newSource(config.Input, logger))

	opts := []tui.ProgramOption{tui.WithInputTTY(), tui.WithContext(ctx)}
	if config.Render.AltScreen {
		opts = append(opts, tui.WithAltScreen())
	}
	prog = tui.NewProgram(m, opts...)

	engine.Start()
	defer engine.Stop()
	_, err := prog.Run()
	if errors.Is(err, tui.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
