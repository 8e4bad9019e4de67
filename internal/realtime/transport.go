package realtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport dials push-channel sessions. The manager owns exactly one
// live Conn at a time and re-dials through the Transport on failure.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one push-channel session.
type Conn interface {
	// Join subscribes the session to a topic.
	Join(topic string) error
	// Leave releases a topic subscription.
	Leave(topic string) error
	// Heartbeat sends a keepalive probe.
	Heartbeat() error
	// Read blocks until the next raw message arrives.
	Read() ([]byte, error)
	// Close tears the session down.
	Close() error
}

// =============================================================================
// WebSocket transport (phoenix-framed)
// =============================================================================

// WebsocketTransport dials the realtime server over a websocket using
// phoenix channel frames (phx_join / phx_leave / heartbeat).
type WebsocketTransport struct {
	// URL is the base server URL; ws(s) scheme is derived from http(s).
	URL string
	// APIKey is appended to the websocket URL query.
	APIKey string
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration
}

// Dial opens a websocket session.
func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	wsURL := t.URL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + t.APIKey + "&vsn=1.0.0"

	timeout := t.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn wraps a websocket connection with phoenix framing.
type wsConn struct {
	mu  sync.Mutex
	ws  *websocket.Conn
	ref int
}

func (c *wsConn) nextRef() string {
	c.ref++
	return strconv.Itoa(c.ref)
}

func (c *wsConn) writeFrame(topic, event string, joinRef bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := c.nextRef()
	msg := map[string]any{
		"topic":   topic,
		"event":   event,
		"payload": map[string]any{},
		"ref":     ref,
	}
	if joinRef {
		msg["join_ref"] = ref
	}
	return c.ws.WriteJSON(msg)
}

// Join sends a phx_join frame for the topic.
func (c *wsConn) Join(topic string) error {
	if err := c.writeFrame(topic, "phx_join", true); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

// Leave sends a phx_leave frame for the topic.
func (c *wsConn) Leave(topic string) error {
	if err := c.writeFrame(topic, "phx_leave", false); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// Heartbeat sends a phoenix heartbeat frame.
func (c *wsConn) Heartbeat() error {
	if err := c.writeFrame("phoenix", "heartbeat", false); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return nil
}

// Read blocks until the next message.
func (c *wsConn) Read() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return msg, nil
}

// Close closes the websocket with a normal-closure frame.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return c.ws.Close()
}
