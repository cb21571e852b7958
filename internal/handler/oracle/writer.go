package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/service/session"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type writerConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// outboundWriter is the only goroutine that writes to a session's
// connection. Events are written in the order Send accepted them.
type outboundWriter struct {
	ws      wsWriter
	cfg     writerConfig
	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
	onError func(error)

	lost      atomic.Bool
	closeOnce sync.Once
}

func newOutboundWriter(ws wsWriter, cfg writerConfig, onError func(error)) *outboundWriter {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	w := &outboundWriter{
		ws:      ws,
		cfg:     cfg,
		queue:   make(chan []byte, cfg.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onError: onError,
	}
	go w.run()
	return w
}

// Send queues ev for writing. It returns session.ErrConnectionLost once the
// writer is closed or the connection failed.
func (w *outboundWriter) Send(ctx context.Context, ev session.Event) error {
	if w.lost.Load() {
		return session.ErrConnectionLost
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case <-w.done:
		return session.ErrConnectionLost
	case <-w.stopped:
		return session.ErrConnectionLost
	default:
	}
	// select picks randomly among ready cases, so a cancelled run must not
	// reach the enqueue below.
	if ctx.Err() != nil || w.lost.Load() {
		return session.ErrConnectionLost
	}

	select {
	case w.queue <- payload:
		return nil
	case <-w.done:
		return session.ErrConnectionLost
	case <-w.stopped:
		return session.ErrConnectionLost
	case <-ctx.Done():
		return session.ErrConnectionLost
	}
}

// markLost records that the peer is gone. Nothing is written afterwards,
// including frames already queued and the close frame.
func (w *outboundWriter) markLost() {
	w.lost.Store(true)
}

// Close stops the writer and waits for it to exit. Queued events that were
// not yet written are dropped.
func (w *outboundWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.stopped
	return nil
}

func (w *outboundWriter) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			w.shutdown()
			return
		case <-ticker.C:
			if w.lost.Load() {
				continue
			}
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				w.fail(err)
				return
			}
		case payload := <-w.queue:
			// Close wins over a frame that raced it.
			select {
			case <-w.done:
				w.shutdown()
				return
			default:
			}
			// Frames queued before the peer went away are dropped unwritten.
			if w.lost.Load() {
				continue
			}
			if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				w.fail(err)
				return
			}
			if err := w.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *outboundWriter) shutdown() {
	if !w.lost.Load() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
		_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.cfg.WriteTimeout))
	}
	_ = w.ws.Close()
}

func (w *outboundWriter) fail(err error) {
	w.lost.Store(true)
	_ = w.ws.Close()
	logging.Warnw("websocket write failed", "component", "websocket", "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}
