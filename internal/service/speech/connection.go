package speech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
)

const (
	dialAttempts  = 3
	dialBaseDelay = 200 * time.Millisecond
)

// dialVolcengine opens a vendor WebSocket, retrying transient failures with a
// linear backoff. Handshake rejections (4xx) are not retried.
func dialVolcengine(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, component string) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
				logging.Debugw("vendor connection established", "component", component, "logid", logID)
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableDial(resp, err) {
			break
		}
		logging.Warnw("vendor dial failed, retrying", "component", component, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * dialBaseDelay):
		}
	}
	return nil, fmt.Errorf("dial %s: %w", url, lastErr)
}

func isRetryableDial(resp *http.Response, err error) bool {
	if resp != nil {
		return resp.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway)
}

// watchContext unblocks pending reads on conn once ctx is done. The returned
// func detaches the watcher.
func watchContext(ctx context.Context, conn *websocket.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
}
