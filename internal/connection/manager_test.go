package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/protocol"
)

// fakeConn is an in-memory client.Conn.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	hold    chan struct{} // when set, Close waits for it

	closeOnce  sync.Once
	closeCalls atomic.Int32
	mu         sync.Mutex
	written    [][]byte
	writeErr   error
	clean      bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadChunk() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(clean bool) error {
	c.closeCalls.Add(1)
	if c.hold != nil {
		<-c.hold
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.clean = clean
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out connections according to fn.
type fakeDialer struct {
	mu   sync.Mutex
	urls []string
	fn   func(n int) (client.Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (client.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	n := len(d.urls)
	fn := d.fn
	d.mu.Unlock()
	return fn(n)
}

func (d *fakeDialer) setFn(fn func(n int) (client.Conn, error)) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

var errRefused = errors.New("connection refused")

func alwaysFail(int) (client.Conn, error) { return nil, errRefused }

type staticTokens struct{ token, name string }

func (s staticTokens) Token() string       { return s.token }
func (s staticTokens) DisplayName() string { return s.name }

type statusUpdate struct {
	status Status
	detail string
}

// recorder is a Consumer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	statuses []statusUpdate
	messages []protocol.Event
	enabled  []bool
}

func (r *recorder) OnStatus(status Status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusUpdate{status, detail})
}

func (r *recorder) OnMessage(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ev)
}

func (r *recorder) OnChannelEnabledChanged(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = append(r.enabled, enabled)
}

func (r *recorder) details() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.detail
	}
	return out
}

func (r *recorder) hasDetail(detail string) bool {
	for _, d := range r.details() {
		if d == detail {
			return true
		}
	}
	return false
}

func (r *recorder) events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.messages...)
}

func (r *recorder) enabledChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.enabled...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testAddress(token string, roomID int) (string, error) {
	return fmt.Sprintf("ws://chat.test/ws?token=%s&room_id=%d", token, roomID), nil
}

type harness struct {
	mgr    *Manager
	dialer *fakeDialer
	rec    *recorder
}

func newHarness(t *testing.T, fn func(n int) (client.Conn, error), opts Options) *harness {
	t.Helper()
	if opts.Address == nil {
		opts.Address = testAddress
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 5 * time.Millisecond
	}
	if opts.ClearDelay == 0 {
		opts.ClearDelay = 10 * time.Millisecond
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	d := &fakeDialer{fn: fn}
	rec := &recorder{}
	m := New(d, staticTokens{token: "t1", name: "alice"}, rec, opts)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return &harness{mgr: m, dialer: d, rec: rec}
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	waitFor(t, "state "+s.String(), func() bool { return h.mgr.State() == s })
}

func TestManager_ConnectOpensChannel(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, func(int) (client.Conn, error) { return conn, nil }, Options{})

	if err := h.mgr.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.waitState(t, StateOpen)
	waitFor(t, "clear status", func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		n := len(h.rec.statuses)
		return n > 0 && h.rec.statuses[n-1].status == StatusClear
	})

	h.rec.mu.Lock()
	got := append([]statusUpdate(nil), h.rec.statuses...)
	h.rec.mu.Unlock()
	want := []statusUpdate{
		{StatusConnecting, "Connecting..."},
		{StatusConnected, "Connected"},
		{StatusClear, ""},
	}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if e := h.rec.enabledChanges(); len(e) != 1 || !e[0] {
		t.Errorf("enabled changes = %v, want [true]", e)
	}
	if !strings.Contains(h.dialer.url(0), "token=t1") {
		t.Errorf("dial url = %q, want token=t1", h.dialer.url(0))
	}
	if h.mgr.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.mgr.Attempts())
	}
}

func TestManager_DoubleConnectDialsOnce(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(int) (client.Conn, error) {
		<-release
		return newFakeConn(), nil
	}, Options{})

	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first dial", func() bool { return h.dialer.count() >= 1 })
	close(release)
	h.waitState(t, StateOpen)

	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	if n := h.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_ConnectWithoutToken(t *testing.T) {
	d := &fakeDialer{fn: alwaysFail}
	m := New(d, staticTokens{}, nil, Options{Address: testAddress, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if err := m.Connect(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Connect() error = %v, want ErrNoToken", err)
	}
	if d.count() != 0 {
		t.Errorf("dials = %d, want 0", d.count())
	}
	if m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", m.State())
	}
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, alwaysFail, Options{})

	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "terminal status", func() bool { return h.rec.hasDetail(msgLost) })

	// Give a stray sixth reconnect time to show up.
	time.Sleep(50 * time.Millisecond)

	if n := h.dialer.count(); n != 1+DefaultMaxAttempts {
		t.Errorf("dials = %d, want %d", n, 1+DefaultMaxAttempts)
	}
	if h.mgr.Attempts() != DefaultMaxAttempts {
		t.Errorf("Attempts() = %d, want %d", h.mgr.Attempts(), DefaultMaxAttempts)
	}
	if h.mgr.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.mgr.State())
	}

	var reconnecting []string
	for _, d := range h.rec.details() {
		if strings.HasPrefix(d, "Reconnecting") {
			reconnecting = append(reconnecting, d)
		}
	}
	want := []string{
		"Reconnecting (1/5)", "Reconnecting (2/5)", "Reconnecting (3/5)",
		"Reconnecting (4/5)", "Reconnecting (5/5)",
	}
	if strings.Join(reconnecting, ",") != strings.Join(want, ",") {
		t.Errorf("reconnect banners = %v, want %v", reconnecting, want)
	}

	details := h.rec.details()
	if details[len(details)-1] != msgLost {
		t.Errorf("last status = %q, want %q", details[len(details)-1], msgLost)
	}
}

func TestManager_ConnectAfterExhaustionStartsFresh(t *testing.T) {
	h := newHarness(t, alwaysFail, Options{MaxAttempts: 2})

	h.mgr.Connect()
	waitFor(t, "terminal status", func() bool { return h.rec.hasDetail(msgLost) })

	h.dialer.setFn(func(int) (client.Conn, error) { return newFakeConn(), nil })
	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, StateOpen)
	if h.mgr.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.mgr.Attempts())
	}
}

func TestManager_AttemptsResetOnOpen(t *testing.T) {
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n <= 3 {
			return nil, errRefused
		}
		return newFakeConn(), nil
	}, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	if h.mgr.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.mgr.Attempts())
	}
	if !h.rec.hasDetail("Reconnecting (3/5)") || h.rec.hasDetail("Reconnecting (4/5)") {
		t.Errorf("statuses = %v", h.rec.details())
	}
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	first.drop()
	waitFor(t, "second dial", func() bool { return h.dialer.count() == 2 })
	h.waitState(t, StateOpen)

	if !h.rec.hasDetail("Reconnecting (1/5)") {
		t.Errorf("statuses = %v, want a reconnect banner", h.rec.details())
	}
	want := []bool{true, false, true}
	got := h.rec.enabledChanges()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("enabled changes = %v, want %v", got, want)
	}
	if h.mgr.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", h.mgr.Attempts())
	}
}

func TestManager_DroppedConnIsClosed(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	first.drop()
	waitFor(t, "second dial", func() bool { return h.dialer.count() == 2 })
	h.waitState(t, StateOpen)
	waitFor(t, "dropped conn closed", func() bool { return first.closeCalls.Load() > 0 })

	if n := second.closeCalls.Load(); n != 0 {
		t.Errorf("replacement conn Close calls = %d, want 0", n)
	}
}

func TestManager_DisconnectIsClean(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, func(int) (client.Conn, error) { return conn, nil }, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	h.mgr.Disconnect()
	if h.mgr.State() != StateIdle {
		t.Fatalf("State() = %v after Disconnect, want idle", h.mgr.State())
	}
	conn.mu.Lock()
	clean := conn.clean
	conn.mu.Unlock()
	if !clean {
		t.Error("connection should be closed cleanly")
	}

	time.Sleep(30 * time.Millisecond)
	if n := h.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after clean close)", n)
	}
	details := h.rec.details()
	if details[len(details)-1] != msgClosed {
		t.Errorf("last status = %q, want %q", details[len(details)-1], msgClosed)
	}
	if e := h.rec.enabledChanges(); fmt.Sprint(e) != "[true false]" {
		t.Errorf("enabled changes = %v, want [true false]", e)
	}
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, alwaysFail, Options{ReconnectDelay: 40 * time.Millisecond})

	h.mgr.Connect()
	h.waitState(t, StateReconnecting)

	h.mgr.Disconnect()
	time.Sleep(100 * time.Millisecond)

	if n := h.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if h.mgr.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.mgr.State())
	}
}

func TestManager_WakeSkipsDelay(t *testing.T) {
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n == 1 {
			return nil, errRefused
		}
		return newFakeConn(), nil
	}, Options{ReconnectDelay: time.Hour})

	h.mgr.Connect()
	h.waitState(t, StateReconnecting)

	h.mgr.Wake()
	h.waitState(t, StateOpen)
	if n := h.dialer.count(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestManager_WakeWhileOpenIsNoop(t *testing.T) {
	h := newHarness(t, func(int) (client.Conn, error) { return newFakeConn(), nil }, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)
	h.mgr.Wake()

	if n := h.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_ConnectDuringCloseIsDeferred(t *testing.T) {
	first := newFakeConn()
	first.hold = make(chan struct{})
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n == 1 {
			return first, nil
		}
		return newFakeConn(), nil
	}, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	disconnected := make(chan struct{})
	go func() {
		h.mgr.Disconnect()
		close(disconnected)
	}()
	h.waitState(t, StateClosing)

	if err := h.mgr.Connect(); err != nil {
		t.Fatal(err)
	}
	if n := h.dialer.count(); n != 1 {
		t.Fatalf("dials = %d while closing, want 1", n)
	}

	close(first.hold)
	<-disconnected
	h.waitState(t, StateOpen)
	if n := h.dialer.count(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestManager_DeliversEventsInOrder(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, func(int) (client.Conn, error) { return conn, nil }, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	conn.inbound <- []byte(`{"type":"text","username":"bob","content":"hi"}` + "\n" + `{"type":"user_left","content":"bob left"}`)
	conn.inbound <- []byte(`{"type":"text","username":"carol","content":"one"}` + "\nnot json\n" + `{"type":"text","username":"carol","content":"two"}`)

	waitFor(t, "four events", func() bool { return len(h.rec.events()) == 4 })

	events := h.rec.events()
	wantKinds := []protocol.Kind{protocol.KindText, protocol.KindUserLeft, protocol.KindText, protocol.KindText}
	wantText := []string{"hi", "bob left", "one", "two"}
	for i, ev := range events {
		if ev.Kind() != wantKinds[i] || ev.Text() != wantText[i] {
			t.Errorf("event[%d] = %v %q, want %v %q", i, ev.Kind(), ev.Text(), wantKinds[i], wantText[i])
		}
	}
	if tm, ok := events[0].(protocol.TextMessage); !ok || tm.Author != "bob" {
		t.Errorf("event[0] = %#v, want text from bob", events[0])
	}
}

func TestManager_Send(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, func(int) (client.Conn, error) { return conn, nil }, Options{})

	if err := h.mgr.Send("hello"); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() before connect error = %v, want ErrSendFailed", err)
	}

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	if err := h.mgr.Send("   "); !errors.Is(err, protocol.ErrEmptyContent) {
		t.Errorf("Send(blank) error = %v, want ErrEmptyContent", err)
	}
	if err := h.mgr.Send("  hello world "); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	frames := conn.frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	var got map[string]string
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"type": "text", "content": "hello world", "username": "alice"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("frame[%s] = %q, want %q", k, got[k], v)
		}
	}

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()
	if err := h.mgr.Send("again"); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() with write error = %v, want ErrSendFailed", err)
	}
}

func TestManager_SendTypingThrottled(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, func(int) (client.Conn, error) { return conn, nil }, Options{TypingInterval: time.Hour})

	// Not open: silently dropped.
	h.mgr.SendTyping(true)

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	h.mgr.SendTyping(true)
	h.mgr.SendTyping(true)
	h.mgr.SendTyping(true)
	h.mgr.SendTyping(false)

	frames := conn.frames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !strings.Contains(string(frames[0]), `"is_typing":true`) {
		t.Errorf("frame[0] = %s", frames[0])
	}
	if !strings.Contains(string(frames[1]), `"is_typing":false`) {
		t.Errorf("frame[1] = %s", frames[1])
	}
}

func TestManager_SwitchRoom(t *testing.T) {
	first := newFakeConn()
	h := newHarness(t, func(n int) (client.Conn, error) {
		if n == 1 {
			return first, nil
		}
		return newFakeConn(), nil
	}, Options{})

	h.mgr.Connect()
	h.waitState(t, StateOpen)

	if err := h.mgr.SwitchRoom(2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second dial", func() bool { return h.dialer.count() == 2 })
	h.waitState(t, StateOpen)

	if !strings.Contains(h.dialer.url(1), "room_id=2") {
		t.Errorf("dial url = %q, want room_id=2", h.dialer.url(1))
	}
	waitFor(t, "old connection closed", first.isClosed)
	if h.mgr.RoomID() != 2 {
		t.Errorf("RoomID() = %d, want 2", h.mgr.RoomID())
	}
	if h.rec.hasDetail("Reconnecting (1/5)") {
		t.Error("switching rooms must not count as a reconnect")
	}
}

func TestManager_StoppedManager(t *testing.T) {
	d := &fakeDialer{fn: alwaysFail}
	m := New(d, staticTokens{token: "t1", name: "alice"}, nil, Options{Address: testAddress, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	if err := m.Connect(); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect() error = %v, want ErrStopped", err)
	}
	if err := m.Send("hi"); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() error = %v, want ErrSendFailed", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StateConnecting:   "connecting",
		StateOpen:         "open",
		StateClosing:      "closing",
		StateReconnecting: "reconnecting",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
