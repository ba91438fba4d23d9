package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// wsSource reads one JSON record per WebSocket text message.
type wsSource struct {
	url    string
	logger *log.Logger
}

func (s *wsSource) run(ctx context.Context, f *feeder) error {
	logger := s.logger.WithPrefix("ws")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	defer func() { _ = conn.Close() }()
	logger.Info("connected", "url", s.url)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logger.Warn("closed by peer", "code", closeErr.Code, "text", closeErr.Text)
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		f.waitIfPaused()
		f.applyJSON(data, time.Now())
	}
}
