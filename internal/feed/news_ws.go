package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// NewsWSFeed connects to an upstream WebSocket that pushes one scored event
// per text frame. It reconnects with exponential backoff on disconnect.
type NewsWSFeed struct {
	url    string
	header http.Header
	queue  *Queue
	logger *slog.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// NewNewsWSFeed creates a feed for url. header is sent on every dial and
// may be nil.
func NewNewsWSFeed(url string, header http.Header, queue *Queue, logger *slog.Logger) *NewsWSFeed {
	return &NewsWSFeed{
		url:      url,
		header:   header,
		queue:    queue,
		logger:   logger.With(slog.String("component", "news_ws_feed")),
		minDelay: reconnectDelay,
		maxDelay: maxReconnectDelay,
	}
}

// Run dials and reads until ctx is cancelled.
func (f *NewsWSFeed) Run(ctx context.Context) error {
	delay := f.minDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > f.maxDelay {
			delay = f.minDelay
		}
		f.logger.Warn("news ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, f.maxDelay)
	}
}

func (f *NewsWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.url, err)
	}
	defer conn.Close()
	f.logger.Info("news ws connected", slog.String("url", f.url))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(connCtx, conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if connCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			f.logger.Warn("skipping malformed event", slog.String("error", err.Error()))
			continue
		}
		if err := f.queue.Publish(ctx, ev); err != nil {
			if errors.Is(err, ErrQueueFull) {
				f.logger.Warn("event dropped, queue full", slog.String("event_id", ev.ID))
				continue
			}
			return nil
		}
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the
// blocked read returns.
func (f *NewsWSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
