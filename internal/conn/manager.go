// Package conn owns the single relay connection for a session membership:
// connect/reconnect/disconnect lifecycle plus outbound and inbound event
// dispatch. Every other component talks to the relay through this seam.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

const (
	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the relay.
	pongWait = 60 * time.Second

	// Send pings to the relay with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the relay. Document updates carry
	// whole file contents, so this is generous.
	maxMessageSize = 1 << 20

	// Outbound queue depth. Send fails rather than blocking when full.
	sendBuffer = 256

	// Default bound on reconnect attempts before surfacing a terminal
	// connection failure.
	defaultMaxReconnects = 5
)

// HandlerFunc receives the raw payload of one relay event.
type HandlerFunc func(data json.RawMessage)

// Config configures a Manager.
type Config struct {
	// URL is the relay websocket endpoint.
	URL string

	// Join is sent immediately after every successful (re)connect, since
	// session membership does not survive a transport drop.
	Join protocol.JoinRequest

	// MaxReconnects bounds automatic reconnect attempts. Zero means
	// defaultMaxReconnects.
	MaxReconnects uint64

	// OnStatusChange observes the connected flag, if set.
	OnStatusChange func(connected bool)

	// OnFailure is invoked once when reconnect attempts are exhausted.
	OnFailure func(err error)

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Manager owns one relay connection and fans inbound events out to
// registered handlers. Handlers run sequentially on the read goroutine, so
// events from the relay are dispatched in arrival order.
type Manager struct {
	cfg Config

	hmu      sync.RWMutex
	handlers map[string][]HandlerFunc

	send chan []byte

	mu        sync.Mutex
	conn      *websocket.Conn
	stopWrite chan struct{}
	connected bool
	closed    bool
}

// NewManager creates a Manager. Connect must be called before Send.
func NewManager(cfg Config) *Manager {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Manager{
		cfg:      cfg,
		handlers: make(map[string][]HandlerFunc),
		send:     make(chan []byte, sendBuffer),
	}
}

// On registers a handler for the named relay event. Multiple handlers for
// one event run in registration order.
func (m *Manager) On(event string, fn HandlerFunc) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[event] = append(m.handlers[event], fn)
}

// Connected reports whether the transport is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect dials the relay, sends the join request, and starts the
// read/write pumps. The manager keeps running (reconnecting as needed)
// until Close is called or the reconnect bound is exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrConnectionFailed, err)
	}

	if err := m.attach(conn); err != nil {
		return err
	}

	go m.run(ctx)
	return nil
}

// Send queues an event for delivery to the relay. It does not wait for the
// write; when the transport is down the message is queued and flushed after
// reconnect, and when the queue is full an error is returned.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return model.ErrNotConnected
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	select {
	case m.send <- data:
		return nil
	default:
		return fmt.Errorf("send queue full, dropping %s", event)
	}
}

// Close shuts the connection down for good. No reconnect is attempted.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.stopWrite != nil {
		close(m.stopWrite)
		m.stopWrite = nil
	}
	conn := m.conn
	m.conn = nil
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if wasConnected && m.cfg.OnStatusChange != nil {
		m.cfg.OnStatusChange(false)
	}
}

// dial attempts the websocket dial with exponential backoff, bounded by
// MaxReconnects.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	operation := func() error {
		c, _, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, nil)
		if err != nil {
			log.Printf("relay dial %s failed: %v", m.cfg.URL, err)
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxReconnects),
		ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs a fresh connection: re-sends the join request (membership
// does not survive a drop), starts the write pump, and flips the connected
// flag.
func (m *Manager) attach(conn *websocket.Conn) error {
	join, err := protocol.Encode(protocol.EventJoinSession, m.cfg.Join)
	if err != nil {
		conn.Close()
		return fmt.Errorf("encode join request: %w", err)
	}

	// The join request bypasses the queue so it always precedes any
	// messages buffered while the transport was down.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		conn.Close()
		return fmt.Errorf("send join request: %w", err)
	}

	stop := make(chan struct{})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return model.ErrNotConnected
	}
	if m.stopWrite != nil {
		close(m.stopWrite)
	}
	m.conn = conn
	m.stopWrite = stop
	m.connected = true
	m.mu.Unlock()

	go m.writePump(conn, stop)

	if m.cfg.OnStatusChange != nil {
		m.cfg.OnStatusChange(true)
	}
	return nil
}

// run reads from the current connection until it fails, then reconnects
// with backoff until either the manager is closed or the bound is
// exhausted.
func (m *Manager) run(ctx context.Context) {
	for {
		err := m.readLoop()

		m.mu.Lock()
		closed := m.closed
		m.connected = false
		if m.stopWrite != nil {
			close(m.stopWrite)
			m.stopWrite = nil
		}
		m.mu.Unlock()

		if closed {
			return
		}
		if m.cfg.OnStatusChange != nil {
			m.cfg.OnStatusChange(false)
		}
		log.Printf("relay connection lost: %v, reconnecting", err)

		conn, dialErr := m.dial(ctx)
		if dialErr != nil {
			m.fail(dialErr)
			return
		}
		if err := m.attach(conn); err != nil {
			m.fail(err)
			return
		}
	}
}

// fail surfaces a terminal connection failure after retries exhaust.
func (m *Manager) fail(cause error) {
	m.mu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	m.mu.Unlock()

	if alreadyClosed {
		return
	}
	log.Printf("relay reconnect attempts exhausted: %v", cause)
	if m.cfg.OnFailure != nil {
		m.cfg.OnFailure(fmt.Errorf("%w: %v", model.ErrConnectionFailed, cause))
	}
}

// readLoop pumps messages from the connection to registered handlers until
// a read error occurs.
func (m *Manager) readLoop() error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return model.ErrNotConnected
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("failed to unmarshal relay message: %v", err)
			continue
		}
		m.dispatch(&env)
	}
}

// dispatch invokes all handlers registered for the event, in order, on the
// read goroutine. A panicking handler is contained so a malformed event can
// never take the session down.
func (m *Manager) dispatch(env *protocol.Envelope) {
	m.hmu.RLock()
	handlers := m.handlers[env.Event]
	m.hmu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("handler for %s panicked: %v", env.Event, r)
				}
			}()
			fn(env.Data)
		}()
	}
}

// writePump pumps queued messages to the connection and keeps the transport
// alive with periodic pings. It exits when stop closes or a write fails;
// messages still queued are picked up by the next connection's pump.
func (m *Manager) writePump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case message := <-m.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
