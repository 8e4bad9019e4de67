// Package realtime implements the event channel manager: logical
// subscriptions keyed by (topic, table), change notification dispatch,
// connection health tracking, and reconnection with capped exponential
// backoff.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/metrics"
)

// Status is the connection state of the manager.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Handler receives change notifications for one subscription.
type Handler func(Event)

// StatusHandler observes connection state transitions. err is non-nil
// for failure-driven transitions, including the terminal close after
// the reconnect budget is exhausted.
type StatusHandler func(status Status, err error)

// Config holds manager construction parameters.
type Config struct {
	// Transport dials channel sessions.
	Transport Transport
	// ReconnectDelay is the base reconnect backoff. Default 500ms.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff growth. Default 30s.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive reconnect failures before
	// the manager transitions to closed. Default 8.
	MaxReconnectAttempts int
	// HeartbeatInterval is how often keepalive probes are sent. Default 15s.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long silence is tolerated before the
	// session is assumed half-open. Default 30s. Kept shorter than the
	// REST timeout so a dead transport is noticed first.
	HeartbeatTimeout time.Duration
	// Logger receives channel logs.
	Logger zerolog.Logger
	// Metrics receives instrumentation. Optional.
	Metrics *metrics.Metrics
}

// subKey identifies a logical subscription. At most one subscription is
// active per key at any time.
type subKey struct {
	topic string
	table string
}

// subscription is a registered descriptor.
type subscription struct {
	key     subKey
	filter  EventType
	handler Handler
}

// Manager owns the push-channel session and the subscription table.
// Domain stores never open transport subscriptions directly.
type Manager struct {
	mu sync.Mutex

	transport      Transport
	reconnectDelay time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	hbInterval     time.Duration
	hbTimeout      time.Duration

	conn         Conn
	gen          int
	stop         chan struct{}
	subs         map[subKey]*subscription
	status       Status
	statusFn     StatusHandler
	attempts     int
	reconnecting bool
	closed       bool
	lastSeen     time.Time
	done         chan struct{}

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager. Connect must be called before change
// notifications flow; subscriptions registered earlier are queued and
// activated once the transport opens.
func NewManager(cfg Config) *Manager {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 8
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	return &Manager{
		transport:      cfg.Transport,
		reconnectDelay: cfg.ReconnectDelay,
		maxDelay:       cfg.MaxReconnectDelay,
		maxAttempts:    cfg.MaxReconnectAttempts,
		hbInterval:     cfg.HeartbeatInterval,
		hbTimeout:      cfg.HeartbeatTimeout,
		subs:           make(map[subKey]*subscription),
		status:         StatusConnecting,
		done:           make(chan struct{}),
		log:            cfg.Logger.With().Str("component", "realtime").Logger(),
		metrics:        cfg.Metrics,
	}
}

// SetStatusHandler registers the status observer. There is one observer;
// consumers fan out themselves.
func (m *Manager) SetStatusHandler(fn StatusHandler) {
	m.mu.Lock()
	m.statusFn = fn
	m.mu.Unlock()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ReconnectAttempts returns the consecutive failed reconnect count.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribe registers a descriptor for (topic, table) filtered to the
// given operation (EventAll for every operation). Creating a second
// subscription for the same key tears down the old one first. The
// returned function removes the descriptor; it is safe to call more
// than once.
func (m *Manager) Subscribe(topic, table string, filter EventType, handler Handler) func() {
	if filter == "" {
		filter = EventAll
	}
	key := subKey{topic: topic, table: table}
	sub := &subscription{key: key, filter: filter, handler: handler}

	m.mu.Lock()
	_, replacing := m.subs[key]
	m.subs[key] = sub
	newTopic := !replacing && m.topicCountLocked(topic) == 1
	conn := m.conn
	open := m.status == StatusOpen
	m.mu.Unlock()

	if open && conn != nil && newTopic {
		if err := conn.Join(topic); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("join failed")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub) })
	}
}

// unsubscribe removes a descriptor; the last descriptor for a topic
// releases the underlying transport channel.
func (m *Manager) unsubscribe(sub *subscription) {
	m.mu.Lock()
	current, ok := m.subs[sub.key]
	if !ok || current != sub {
		// Already replaced by a newer subscription for the same key.
		m.mu.Unlock()
		return
	}
	delete(m.subs, sub.key)
	lastForTopic := m.topicCountLocked(sub.key.topic) == 0
	conn := m.conn
	open := m.status == StatusOpen
	m.mu.Unlock()

	if open && conn != nil && lastForTopic {
		if err := conn.Leave(sub.key.topic); err != nil {
			m.log.Warn().Err(err).Str("topic", sub.key.topic).Msg("leave failed")
		}
	}
}

func (m *Manager) topicCountLocked(topic string) int {
	n := 0
	for key := range m.subs {
		if key.topic == topic {
			n++
		}
	}
	return n
}

// Connect dials the transport and activates every registered
// subscription. Subsequent failures are handled by the reconnect loop;
// only the initial dial error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.NewError(domain.CodeChannel, "manager is closed")
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.setStatusLocked(StatusConnecting, nil)
	m.mu.Unlock()

	conn, err := m.transport.Dial(ctx)
	if err != nil {
		return domain.NewErrorf(domain.CodeChannel, "dial channel: %v", err)
	}
	m.install(conn)
	return nil
}

// install adopts a fresh session: joins registered topics and starts
// the read and heartbeat loops.
func (m *Manager) install(conn Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.stop = make(chan struct{})
	stop := m.stop
	m.lastSeen = time.Now()
	m.attempts = 0
	m.reconnecting = false
	topics := make(map[string]bool)
	for key := range m.subs {
		topics[key.topic] = true
	}
	m.setStatusLocked(StatusOpen, nil)
	m.mu.Unlock()

	for topic := range topics {
		if err := conn.Join(topic); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("rejoin failed")
		}
	}

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(conn, gen, stop)
}

// readLoop receives messages until the session dies.
func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		msg, err := conn.Read()
		if err != nil {
			m.connectionLost(gen, domain.NewErrorf(domain.CodeChannel, "channel read: %v", err))
			return
		}

		m.mu.Lock()
		if m.gen != gen || m.closed {
			m.mu.Unlock()
			return
		}
		m.lastSeen = time.Now()
		m.mu.Unlock()

		ev, ok := parseEvent(msg)
		if !ok {
			continue
		}
		m.dispatch(ev)
	}
}

// dispatch delivers an event to every matching descriptor. Delivery is
// synchronous on the read loop, so no two events race into one store.
func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	var handlers []Handler
	for key, sub := range m.subs {
		if key.topic != ev.Topic {
			continue
		}
		if key.table != "" && ev.Table != "" && key.table != ev.Table {
			continue
		}
		if sub.filter != EventAll && sub.filter != ev.Type {
			continue
		}
		handlers = append(handlers, sub.handler)
	}
	m.mu.Unlock()

	m.metrics.Event(ev.Table, string(ev.Type))
	for _, h := range handlers {
		h(ev)
	}
}

// heartbeatLoop probes the session and assumes it half-open when
// nothing has been seen within the heartbeat timeout.
func (m *Manager) heartbeatLoop(conn Conn, gen int, stop chan struct{}) {
	ticker := time.NewTicker(m.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		silent := time.Since(m.lastSeen) > m.hbTimeout
		stale := m.gen != gen || m.closed
		m.mu.Unlock()
		if stale {
			return
		}

		if silent {
			m.connectionLost(gen, domain.NewError(domain.CodeChannel, "heartbeat timed out"))
			return
		}
		if err := conn.Heartbeat(); err != nil {
			m.connectionLost(gen, domain.NewErrorf(domain.CodeChannel, "heartbeat: %v", err))
			return
		}
	}
}

// connectionLost tears down the current session and schedules
// reconnection. The reconnecting flag prevents overlapping attempts.
func (m *Manager) connectionLost(gen int, cause error) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.setStatusLocked(StatusReconnecting, cause)
	m.mu.Unlock()

	m.log.Warn().Err(cause).Msg("channel lost, reconnecting")
	go m.reconnectLoop()
}

// reconnectLoop re-dials with capped exponential backoff until a
// session opens or the attempt budget is exhausted.
func (m *Manager) reconnectLoop() {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		if attempt > m.maxAttempts {
			m.reconnecting = false
			m.setStatusLocked(StatusClosed, domain.NewErrorf(domain.CodeChannel,
				"reconnect failed after %d attempts", m.maxAttempts))
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		delay := m.backoffDelay(attempt)
		m.metrics.Reconnect()
		m.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect attempt")

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.hbTimeout)
		conn, err := m.transport.Dial(ctx)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect dial failed")
			continue
		}

		m.install(conn)
		return
	}
}

// backoffDelay returns the wait before the given attempt (1-based),
// growing exponentially up to the cap.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.reconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	if delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

// Close disposes the manager: the session is torn down, all timers
// stop, and the status becomes closed. Subscriptions cannot be
// reactivated afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	conn := m.conn
	m.conn = nil
	topics := make(map[string]bool)
	for key := range m.subs {
		topics[key.topic] = true
	}
	m.subs = make(map[subKey]*subscription)
	m.setStatusLocked(StatusClosed, nil)
	m.mu.Unlock()

	if conn != nil {
		for topic := range topics {
			_ = conn.Leave(topic)
		}
		conn.Close()
	}
}

// setStatusLocked updates the status and schedules the observer call.
// Callers hold m.mu; the observer runs without it.
func (m *Manager) setStatusLocked(status Status, err error) {
	if m.status == status && err == nil {
		return
	}
	m.status = status
	if m.statusFn != nil {
		fn := m.statusFn
		go fn(status, err)
	}
}

// String renders the status for logs.
func (s Status) String() string { return string(s) }
