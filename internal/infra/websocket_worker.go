package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("ws not connected")

// WSHandler is the feed-specific part of a WSWorker.
type WSHandler interface {
	ID() string
	URL() string
	// OnConnect runs after every (re)connect, e.g. to subscribe.
	OnConnect(ctx context.Context, send func([]byte) error) error
	// OnMessage handles one text frame. Errors are logged and counted, never fatal.
	OnMessage(ctx context.Context, msg []byte) error
}

// WSWorker keeps one WebSocket connection alive: reconnects with backoff,
// enforces a read deadline, sends keepalive pings and serializes writes.
type WSWorker struct {
	handler WSHandler
	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	connects  atomic.Int64
	received  atomic.Int64
	rejected  atomic.Int64
	connected atomic.Bool

	ReadTimeout  time.Duration
	PingInterval time.Duration
	Backoff      Backoff
	UserAgent    string
}

// NewWSWorker creates a worker with production timeouts.
func NewWSWorker(handler WSHandler) *WSWorker {
	return &WSWorker{
		handler:      handler,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		Backoff:      DefaultBackoff,
		UserAgent:    AppName,
	}
}

// Start initiates the connection loop.
func (w *WSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and waits for its goroutines.
func (w *WSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Connected reports whether a connection is currently up.
func (w *WSWorker) Connected() bool { return w.connected.Load() }

// WSStats are lifetime counters of a worker.
type WSStats struct {
	Connects int64
	Received int64
	Rejected int64
}

func (w *WSWorker) Stats() WSStats {
	return WSStats{
		Connects: w.connects.Load(),
		Received: w.received.Load(),
		Rejected: w.rejected.Load(),
	}
}

func (w *WSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.connect(ctx); err != nil {
			delay := w.Backoff.Delay(retry)
			slog.Warn("WS_CONNECT_FAILED",
				slog.String("id", w.handler.ID()),
				slog.Any("error", err),
				slog.Int("retry", retry),
				slog.Duration("delay", delay))
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.process(ctx)
	}
}

func (w *WSWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", w.UserAgent)

	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), header)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, w.Send); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	w.connected.Store(true)
	w.connects.Add(1)
	if w.PingInterval > 0 {
		go w.pingLoop(ctx, conn)
	}

	slog.Info("WS_CONNECTED", slog.String("id", w.handler.ID()), slog.String("url", w.handler.URL()))
	return nil
}

func (w *WSWorker) process(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS_READ_ERROR", slog.String("id", w.handler.ID()), slog.Any("error", err))
			}
			w.close()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		w.received.Add(1)
		if err := w.handler.OnMessage(ctx, msg); err != nil {
			w.rejected.Add(1)
			slog.Warn("WS_MESSAGE_REJECTED", slog.String("id", w.handler.ID()), slog.Any("error", err))
		}
	}
}

// pingLoop is bound to one connection and exits when it is replaced or closed.
func (w *WSWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS_PING_FAILED", slog.String("id", w.handler.ID()), slog.Any("error", err))
				w.close()
				return
			}
		}
	}
}

// Send writes one text frame.
func (w *WSWorker) Send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (w *WSWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected.Store(false)
}
