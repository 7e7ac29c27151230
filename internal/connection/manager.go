// Package connection keeps one self-healing chat channel open.
//
// A Manager owns a single event-loop goroutine (Run). Public calls, dial
// results, inbound chunks, closures and timer firings are all posted to that
// loop and handled one at a time, so the state machine needs no locks.
// Each connection attempt and each timer carries a generation number; events
// from an older generation are dropped.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/logging"
	"github.com/inercia/chatline/internal/protocol"
)

var (
	// ErrNoToken is returned by Connect when there is no session token.
	ErrNoToken = errors.New("not logged in")

	// ErrSendFailed matches every Send failure other than empty content.
	ErrSendFailed = errors.New("send failed")

	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("connection manager stopped")
)

const (
	msgConnecting = "Connecting..."
	msgConnected  = "Connected"
	msgClosed     = "Disconnected"
	msgLost       = "Connection lost. Please refresh the page."
)

const eventQueueSize = 64

// Manager drives the channel state machine.
type Manager struct {
	dialer   client.Dialer
	tokens   TokenSource
	consumer Consumer
	opts     Options
	logger   *slog.Logger

	events chan func()
	done   chan struct{}

	// Snapshots readable from any goroutine.
	state    atomic.Int32
	attempts atomic.Int32

	// Everything below is owned by the loop goroutine.
	ctx        context.Context
	roomID     int
	conn       client.Conn
	connGen    uint64
	log        *slog.Logger
	dialCancel context.CancelFunc

	retryTimer *time.Timer
	retryGen   uint64
	clearTimer *time.Timer
	clearGen   uint64

	pendingConnect bool
	idleWaiters    []chan struct{}
	typing         *rate.Limiter
}

// New creates a Manager in the Idle state. Call Run before any other method.
func New(dialer client.Dialer, tokens TokenSource, consumer Consumer, opts Options) *Manager {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Connection()
	}
	if consumer == nil {
		consumer = ConsumerFuncs{}
	}
	m := &Manager{
		dialer:   dialer,
		tokens:   tokens,
		consumer: consumer,
		opts:     opts,
		logger:   logger,
		events:   make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
		roomID:   opts.RoomID,
		log:      logger,
		typing:   rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
	}
	return m
}

// Run processes events until ctx is done. It must be called exactly once.
// On exit the open connection, if any, is closed cleanly.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.events:
			fn()
		}
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Attempts returns the number of reconnects made since the channel was last
// open.
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

// Connect opens the channel. It is a no-op while connecting or open, and is
// deferred while a disconnect is in progress. Called while a reconnect is
// pending it dials at once. After retries are exhausted it starts a fresh
// cycle.
func (m *Manager) Connect() error {
	return m.call(m.handleConnect)
}

// Disconnect closes the channel cleanly, cancels any pending reconnect and
// waits until the Manager is Idle.
func (m *Manager) Disconnect() {
	var idle chan struct{}
	_ = m.call(func() error {
		idle = m.handleDisconnect()
		return nil
	})
	if idle == nil {
		return
	}
	select {
	case <-idle:
	case <-m.done:
	}
}

// Wake reacts to the application returning to the foreground. While Idle or
// waiting to reconnect it dials immediately.
func (m *Manager) Wake() {
	_ = m.call(func() error {
		switch m.State() {
		case StateIdle, StateReconnecting:
			if err := m.handleConnect(); err != nil {
				m.log.Debug("Wake did not connect", "error", err)
			}
		}
		return nil
	})
}

// SwitchRoom binds the channel to roomID. A live or pending connection is
// replaced by one to the new room; otherwise the room is used by the next
// Connect.
func (m *Manager) SwitchRoom(roomID int) error {
	return m.call(func() error {
		if roomID == m.roomID {
			return nil
		}
		prev := m.roomID
		m.roomID = roomID
		m.logger.Info("Switching room", "from", prev, "to", roomID)

		switch m.State() {
		case StateOpen, StateConnecting:
			m.abandonConn()
			return m.dial()
		}
		return nil
	})
}

// RoomID returns the room the channel is bound to.
func (m *Manager) RoomID() int {
	var id int
	_ = m.call(func() error {
		id = m.roomID
		return nil
	})
	return id
}

// Send writes content as one text frame. Content is trimmed; empty content
// returns protocol.ErrEmptyContent. Anything else that prevents the frame
// from being written matches ErrSendFailed. Nothing is queued.
func (m *Manager) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return protocol.ErrEmptyContent
	}
	err := m.call(func() error {
		if m.State() != StateOpen || m.conn == nil {
			return fmt.Errorf("%w: not connected", ErrSendFailed)
		}
		frame, err := protocol.Encode(protocol.Intent{Content: content, Author: m.tokens.DisplayName()})
		if err != nil {
			return err
		}
		if err := m.conn.WriteFrame(frame); err != nil {
			m.log.Warn("Write failed", "error", err)
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return nil
	})
	if errors.Is(err, ErrStopped) {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return err
}

// SendTyping tells the room whether the user is typing. typing=true frames
// are throttled; typing=false is always sent. It does nothing unless the
// channel is open.
func (m *Manager) SendTyping(isTyping bool) {
	_ = m.call(func() error {
		if m.State() != StateOpen || m.conn == nil {
			return nil
		}
		if isTyping && !m.typing.Allow() {
			return nil
		}
		frame, err := protocol.EncodeTyping(isTyping)
		if err != nil {
			return err
		}
		if err := m.conn.WriteFrame(frame); err != nil {
			m.log.Debug("Typing write failed", "error", err)
		}
		return nil
	})
}

// call runs fn on the loop and waits for its result.
func (m *Manager) call(fn func() error) error {
	reply := make(chan error, 1)
	if !m.post(func() { reply <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrStopped
	}
}

// post queues fn for the loop. It reports false once the loop has exited.
// It must never be called from the loop itself.
func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) setState(s State) {
	prev := m.State()
	if prev == s {
		return
	}
	m.state.Store(int32(s))
	m.log.Debug("State changed", "from", prev, "to", s)
}

func (m *Manager) handleConnect() error {
	switch m.State() {
	case StateConnecting, StateOpen:
		return nil
	case StateClosing:
		m.pendingConnect = true
		return nil
	case StateIdle:
		// An external connect from Idle starts a fresh retry cycle.
		m.attempts.Store(0)
	}
	return m.dial()
}

// dial starts a connection attempt in the background.
func (m *Manager) dial() error {
	token := m.tokens.Token()
	if token == "" {
		return ErrNoToken
	}
	url, err := m.opts.Address(token, m.roomID)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	m.stopRetryTimer()
	m.connGen++
	gen := m.connGen
	m.log = logging.WithChannel(m.logger, uuid.NewString(), m.roomID)

	ctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel

	m.setState(StateConnecting)
	m.consumer.OnStatus(StatusConnecting, msgConnecting)
	m.log.Info("Connecting", "attempt", m.Attempts())

	go func() {
		conn, err := m.dialer.Dial(ctx, url)
		if !m.post(func() { m.onDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close(true)
		}
	}()
	return nil
}

func (m *Manager) onDialed(gen uint64, conn client.Conn, err error) {
	if gen != m.connGen {
		if conn != nil {
			_ = conn.Close(true)
		}
		return
	}
	m.cancelDial()

	if err != nil {
		m.log.Warn("Dial failed", "error", err)
		m.scheduleReconnect()
		return
	}

	m.conn = conn
	m.attempts.Store(0)
	m.setState(StateOpen)
	m.log.Info("Connected")
	m.consumer.OnStatus(StatusConnected, msgConnected)
	m.consumer.OnChannelEnabledChanged(true)
	m.startClearTimer()

	go m.readLoop(gen, conn)
}

// readLoop forwards inbound chunks to the loop until the connection ends.
func (m *Manager) readLoop(gen uint64, conn client.Conn) {
	for {
		chunk, err := conn.ReadChunk()
		if err != nil {
			m.post(func() { m.onClosed(gen, err) })
			return
		}
		if !m.post(func() { m.onChunk(gen, chunk) }) {
			return
		}
	}
}

func (m *Manager) onChunk(gen uint64, chunk []byte) {
	if gen != m.connGen || m.State() != StateOpen {
		return
	}
	events, err := protocol.Decode(chunk)
	if err != nil {
		m.log.Warn("Skipped malformed frames", "error", err)
	}
	for _, ev := range events {
		m.consumer.OnMessage(ev)
	}
}

func (m *Manager) onClosed(gen uint64, err error) {
	if gen != m.connGen {
		return
	}
	conn := m.conn
	m.conn = nil
	m.stopClearTimer()

	switch m.State() {
	case StateClosing:
		m.finishClose()
	case StateOpen:
		// The transport keeps its socket and keepalive until closed.
		if conn != nil {
			go func() { _ = conn.Close(false) }()
		}
		m.log.Warn("Connection lost", "error", err)
		m.consumer.OnChannelEnabledChanged(false)
		m.scheduleReconnect()
	}
}

// scheduleReconnect handles an unclean closure or failed dial.
func (m *Manager) scheduleReconnect() {
	n := m.Attempts()
	if n >= m.opts.MaxAttempts {
		m.log.Error("Giving up reconnecting", "attempts", n)
		m.setState(StateIdle)
		m.consumer.OnStatus(StatusDisconnected, msgLost)
		m.notifyIdle()
		return
	}

	n++
	m.attempts.Store(int32(n))
	m.setState(StateReconnecting)
	m.consumer.OnStatus(StatusConnecting, fmt.Sprintf("Reconnecting (%d/%d)", n, m.opts.MaxAttempts))

	m.retryGen++
	gen := m.retryGen
	m.retryTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.post(func() { m.onRetryTimer(gen) })
	})
}

func (m *Manager) onRetryTimer(gen uint64) {
	if gen != m.retryGen || m.State() != StateReconnecting {
		return
	}
	m.retryTimer = nil
	if err := m.dial(); err != nil {
		m.log.Warn("Reconnect aborted", "error", err)
		m.setState(StateIdle)
		m.consumer.OnStatus(StatusDisconnected, msgClosed)
		m.notifyIdle()
	}
}

// handleDisconnect starts a clean close. The returned channel is closed once
// the Manager is Idle; nil means it already is.
func (m *Manager) handleDisconnect() chan struct{} {
	m.pendingConnect = false
	m.stopRetryTimer()
	m.stopClearTimer()

	switch m.State() {
	case StateIdle:
		return nil
	case StateClosing:
		return m.idleWaiter()
	case StateOpen:
		conn := m.conn
		m.setState(StateClosing)
		m.consumer.OnChannelEnabledChanged(false)
		m.log.Info("Disconnecting")
		go func() { _ = conn.Close(true) }()
		return m.idleWaiter()
	default:
		// Connecting or Reconnecting: nothing is open yet.
		m.cancelDial()
		m.connGen++
		m.attempts.Store(0)
		m.setState(StateIdle)
		m.consumer.OnStatus(StatusDisconnected, msgClosed)
		return nil
	}
}

func (m *Manager) finishClose() {
	m.attempts.Store(0)
	m.setState(StateIdle)
	m.log.Info("Disconnected")
	m.consumer.OnStatus(StatusDisconnected, msgClosed)
	m.notifyIdle()

	if m.pendingConnect {
		m.pendingConnect = false
		if err := m.handleConnect(); err != nil {
			m.log.Warn("Deferred connect failed", "error", err)
		}
	}
}

// abandonConn drops the current attempt or connection without reporting a
// closure, ahead of dialing a replacement.
func (m *Manager) abandonConn() {
	m.cancelDial()
	m.stopClearTimer()
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		m.consumer.OnChannelEnabledChanged(false)
		go func() { _ = conn.Close(true) }()
	}
	m.connGen++
}

func (m *Manager) idleWaiter() chan struct{} {
	ch := make(chan struct{})
	m.idleWaiters = append(m.idleWaiters, ch)
	return ch
}

func (m *Manager) notifyIdle() {
	for _, ch := range m.idleWaiters {
		close(ch)
	}
	m.idleWaiters = nil
}

func (m *Manager) startClearTimer() {
	m.stopClearTimer()
	gen := m.clearGen
	m.clearTimer = time.AfterFunc(m.opts.ClearDelay, func() {
		m.post(func() {
			if gen == m.clearGen && m.State() == StateOpen {
				m.clearTimer = nil
				m.consumer.OnStatus(StatusClear, "")
			}
		})
	})
}

func (m *Manager) stopClearTimer() {
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
	m.clearGen++
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryGen++
}

func (m *Manager) cancelDial() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

func (m *Manager) shutdown() {
	m.stopRetryTimer()
	m.stopClearTimer()
	m.cancelDial()
	m.connGen++
	if m.conn != nil {
		_ = m.conn.Close(true)
		m.conn = nil
	}
	m.setState(StateIdle)
	m.notifyIdle()
}
