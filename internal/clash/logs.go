package clash

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// SubscribeLogs streams core log lines into fn until ctx is done.
// It returns nil when ctx ends the stream and an error for any other disconnect.
func (c *Client) SubscribeLogs(ctx context.Context, level string, fn func(LogEntry)) error {
	query := url.Values{}
	if level != "" {
		query.Set("level", level)
	}
	target, err := url.Parse(c.endpoint("/logs", query))
	if err != nil {
		return err
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	header := http.Header{}
	if c.secret != "" {
		header.Set("Authorization", "Bearer "+c.secret)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("clash: dial logs: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("clash: dial logs: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var raw struct {
			Type    string `json:"type"`
			Payload string `json:"payload"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("clash: read logs: %w", err)
		}
		fn(LogEntry{Level: raw.Type, Payload: raw.Payload, Time: c.now().UnixMilli()})
	}
}
