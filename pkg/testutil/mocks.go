// Package testutil provides common testing utilities and mock
// implementations of the sync layer's external collaborators: the REST
// server, the push-channel transport, and the token provider.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"

	"github.com/hearthhub/hearthhub/internal/realtime"
)

// =============================================================================
// Token provider
// =============================================================================

// StaticTokens is a scripted token provider.
type StaticTokens struct {
	mu sync.Mutex

	token      string
	refreshTo  string
	refreshErr error
	refreshes  int
}

// NewStaticTokens creates a provider returning token.
func NewStaticTokens(token string) *StaticTokens {
	return &StaticTokens{token: token}
}

// SetToken replaces the current token.
func (s *StaticTokens) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// ScriptRefresh makes the next refreshes install token, or fail with err.
func (s *StaticTokens) ScriptRefresh(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTo = token
	s.refreshErr = err
}

// GetToken implements the token provider contract.
func (s *StaticTokens) GetToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RefreshToken implements the token provider contract.
func (s *StaticTokens) RefreshToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshErr != nil {
		s.token = ""
		return s.refreshErr
	}
	if s.refreshTo != "" {
		s.token = s.refreshTo
	}
	return nil
}

// Refreshes returns how many refreshes were requested.
func (s *StaticTokens) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// =============================================================================
// Channel transport
// =============================================================================

// FakeTransport is a scriptable push-channel transport. Each Dial hands
// out the next scripted result in queueing order.
type FakeTransport struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

// dialResult is one scripted Dial outcome.
type dialResult struct {
	conn *FakeConn
	err  error
}

// NewFakeTransport creates an empty transport; script it with
// QueueConn and QueueError in dial order.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// QueueConn scripts a successful dial.
func (t *FakeTransport) QueueConn() *FakeConn {
	conn := NewFakeConn()
	t.mu.Lock()
	t.results = append(t.results, dialResult{conn: conn})
	t.mu.Unlock()
	return conn
}

// QueueError scripts a failed dial.
func (t *FakeTransport) QueueError(err error) {
	t.mu.Lock()
	t.results = append(t.results, dialResult{err: err})
	t.mu.Unlock()
}

// Dials returns how many dials were attempted.
func (t *FakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Dial implements realtime.Transport.
func (t *FakeTransport) Dial(ctx context.Context) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.results) == 0 {
		return nil, fmt.Errorf("no scripted connection")
	}
	next := t.results[0]
	t.results = t.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.conn, nil
}

// FakeConn is one scripted channel session. Push injects inbound
// messages; Fail kills the session so the manager's read loop sees an
// error.
type FakeConn struct {
	mu      sync.Mutex
	msgs    chan []byte
	closed  bool
	joins   []string
	leaves  []string
	beats   int
	beatErr error
}

// NewFakeConn creates a live fake session.
func NewFakeConn() *FakeConn {
	return &FakeConn{msgs: make(chan []byte, 64)}
}

// Join implements realtime.Conn.
func (c *FakeConn) Join(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, topic)
	return nil
}

// Leave implements realtime.Conn.
func (c *FakeConn) Leave(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, topic)
	return nil
}

// Heartbeat implements realtime.Conn.
func (c *FakeConn) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beats++
	return c.beatErr
}

// FailHeartbeats makes subsequent heartbeats return err.
func (c *FakeConn) FailHeartbeats(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beatErr = err
}

// Read implements realtime.Conn.
func (c *FakeConn) Read() ([]byte, error) {
	msg, ok := <-c.msgs
	if !ok {
		return nil, fmt.Errorf("connection closed")
	}
	return msg, nil
}

// Close implements realtime.Conn.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.msgs)
	}
	return nil
}

// Fail tears the session down from the transport side.
func (c *FakeConn) Fail() { c.Close() }

// Joins returns the topics joined on this session.
func (c *FakeConn) Joins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joins...)
}

// Leaves returns the topics left on this session.
func (c *FakeConn) Leaves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.leaves...)
}

// Heartbeats returns how many probes were sent.
func (c *FakeConn) Heartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beats
}

// Push injects a change notification frame for (topic, table).
func (c *FakeConn) Push(topic, table string, eventType realtime.EventType, record any, oldRecord any) {
	payload := map[string]any{
		"type":  string(eventType),
		"table": table,
	}
	if record != nil {
		payload["record"] = record
	}
	if oldRecord != nil {
		payload["old_record"] = oldRecord
	}
	frame := map[string]any{
		"topic": topic,
		"event": "postgres_changes",
		"payload": map[string]any{
			"data": payload,
		},
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal frame: %v", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.msgs <- raw
}

// =============================================================================
// Mock REST server
// =============================================================================

// MockServer is an httptest server speaking the API envelope, with
// per-route hit counting.
type MockServer struct {
	*httptest.Server

	router *mux.Router

	mu   sync.Mutex
	hits map[string]int
}

// NewMockServer starts an empty mock server. Close it when done.
func NewMockServer() *MockServer {
	s := &MockServer{
		router: mux.NewRouter(),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(s.router)
	return s
}

// HandleFunc registers a raw handler and counts its hits.
func (s *MockServer) HandleFunc(method, path string, fn http.HandlerFunc) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[method+" "+path]++
		s.mu.Unlock()
		fn(w, r)
	}).Methods(method)
}

// Handle registers a fixed envelope response for a route.
func (s *MockServer) Handle(method, path string, status int, data any) {
	s.HandleFunc(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteData(w, status, data, nil)
	})
}

// HandleError registers a fixed error response for a route.
func (s *MockServer) HandleError(method, path string, status int, code, message string) {
	s.HandleFunc(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, status, code, message)
	})
}

// Hits returns how many times a route was served.
func (s *MockServer) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any, meta any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"data": data}
	if meta != nil {
		body["meta"] = meta
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
