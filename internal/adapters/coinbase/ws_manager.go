package coinbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/halcyonlabs/marketsync/internal/ratelimit"
)

const (
	connectTimeout      = 10 * time.Second
	controlWriteTimeout = 5 * time.Second
)

// wsManager owns a single websocket connection: dialing, reconnection with
// exponential backoff, the read loop, and paced control-frame writes.
type wsManager struct {
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	controlGate *ratelimit.Gate

	handler     func([]byte)
	onConnected func()
	errorChan   chan<- error

	ready     chan struct{}
	readyOnce sync.Once
}

// newWSManager wires a manager for url. handler receives every inbound text
// frame; onConnected fires after each successful (re)connect, before the read
// loop resumes.
func newWSManager(ctx context.Context, url string, gate *ratelimit.Gate, handler func([]byte), onConnected func(), errorChan chan<- error) *wsManager {
	managerCtx, cancel := context.WithCancel(ctx)
	return &wsManager{
		url:         url,
		ctx:         managerCtx,
		cancel:      cancel,
		controlGate: gate,
		handler:     handler,
		onConnected: onConnected,
		errorChan:   errorChan,
		ready:       make(chan struct{}),
	}
}

// start establishes the connection in the background and waits for the first
// successful dial.
func (m *wsManager) start() error {
	go func() {
		if err := m.connect(); err != nil && !errors.Is(err, context.Canceled) {
			m.reportError(fmt.Errorf("websocket connection failed: %w", err))
		}
	}()

	select {
	case <-m.ready:
		return nil
	case <-time.After(connectTimeout):
		return errors.New("timeout waiting for websocket connection")
	case <-m.ctx.Done():
		return fmt.Errorf("websocket manager context done: %w", m.ctx.Err())
	}
}

// stop closes the connection and cancels the manager context.
func (m *wsManager) stop() {
	m.cancel()
	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "shutdown")
		m.conn = nil
	}
	m.connMu.Unlock()
}

// connect maintains the connection with automatic reconnection.
func (m *wsManager) connect() error {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-m.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(m.ctx, m.url, nil)
		if err != nil {
			m.reportError(fmt.Errorf("dial %s: %w", m.url, err))
			sleep := backoffCfg.NextBackOff()
			select {
			case <-m.ctx.Done():
				return context.Canceled
			case <-time.After(sleep):
				continue
			}
		}
		conn.SetReadLimit(1 << 22)

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()

		m.readyOnce.Do(func() {
			close(m.ready)
		})
		backoffCfg.Reset()

		if m.onConnected != nil {
			m.onConnected()
		}

		if err := m.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			m.reportError(fmt.Errorf("read loop: %w", err))
		}

		m.connMu.Lock()
		m.conn = nil
		m.connMu.Unlock()

		sleep := backoffCfg.NextBackOff()
		select {
		case <-m.ctx.Done():
			return context.Canceled
		case <-time.After(sleep):
		}
	}
}

// acquireControlSlot blocks until the control-frame rate gate grants a slot.
// Callers sign after acquiring so tokens cannot expire while gated.
func (m *wsManager) acquireControlSlot(ctx context.Context) error {
	return m.controlGate.Acquire(ctx)
}

// sendControl writes one control frame. ctx lets an abandoned subscription
// task stop between frames.
func (m *wsManager) sendControl(ctx context.Context, payload []byte) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return errors.New("websocket not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, controlWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write control frame: %w", err)
	}
	return nil
}

// readLoop delivers inbound frames strictly in arrival order on this single
// goroutine; downstream book and watermark mutation relies on that ordering.
func (m *wsManager) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(m.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		if m.handler != nil {
			m.handler(data)
		}
	}
}

func (m *wsManager) reportError(err error) {
	if err == nil || m.errorChan == nil {
		return
	}
	select {
	case <-m.ctx.Done():
	case m.errorChan <- err:
	default:
	}
}
