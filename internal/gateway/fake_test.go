package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Bingeljell/alfred-gateway/internal/config"
)

type sentMessage struct {
	jid     string
	payload SendPayload
}

// fakeSocket records outbound traffic and lets tests push transport
// events into the session.
type fakeSocket struct {
	mu        sync.Mutex
	listeners map[string][]Listener
	sent      []sentMessage
	sendErr   error
	endCalls  int
	logouts   int
	logoutErr error
	userID    string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		listeners: make(map[string][]Listener),
		userID:    "15550001111:7@s.whatsapp.net",
	}
}

func (f *fakeSocket) On(event string, fn Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[event] = append(f.listeners[event], fn)
}

func (f *fakeSocket) emit(event string, payload map[string]any) {
	f.mu.Lock()
	fns := make([]Listener, len(f.listeners[event]))
	copy(fns, f.listeners[event])
	f.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

func (f *fakeSocket) SendMessage(_ context.Context, jid string, payload SendPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{jid: jid, payload: payload})
	return nil
}

func (f *fakeSocket) End(_ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
}

func (f *fakeSocket) Logout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.logoutErr
}

func (f *fakeSocket) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *fakeSocket) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSocket) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

func (f *fakeSocket) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

// fakeDriver hands out fakeSockets and records every connect attempt.
type fakeDriver struct {
	mu         sync.Mutex
	sockets    []*fakeSocket
	versionErr error
	authErr    error
	socketErr  error
	saveErr    error
	saveCalls  int

	// socketGate, when set, blocks NewSocket until the channel is closed.
	socketGate chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{}
}

func (d *fakeDriver) Version(_ context.Context) ([3]int, error) {
	if d.versionErr != nil {
		return [3]int{}, d.versionErr
	}
	return [3]int{2, 3000, 0}, nil
}

func (d *fakeDriver) LoadAuthState(_ context.Context, _ string) (AuthState, SaveCredsFunc, error) {
	if d.authErr != nil {
		return nil, nil, d.authErr
	}
	save := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.saveCalls++
		return d.saveErr
	}
	return struct{}{}, save, nil
}

func (d *fakeDriver) NewSocket(_ context.Context, _ SocketOptions) (Socket, error) {
	if d.socketGate != nil {
		<-d.socketGate
	}
	if d.socketErr != nil {
		return nil, d.socketErr
	}
	sock := newFakeSocket()
	d.mu.Lock()
	d.sockets = append(d.sockets, sock)
	d.mu.Unlock()
	return sock, nil
}

func (d *fakeDriver) socketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDriver) lastSocket() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func (d *fakeDriver) saveCredsCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveCalls
}

// inboxRecorder collects the messages the session delivers downstream.
type inboxRecorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *inboxRecorder) handler(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *inboxRecorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AuthDir = t.TempDir()
	cfg.ReconnectDelay = 20 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession wires a session to a fake driver and an inbox recorder.
func newTestSession(t *testing.T, mutate func(*config.Config)) (*Session, *fakeDriver, *inboxRecorder) {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	driver := newFakeDriver()
	inbox := &inboxRecorder{}
	s := NewSession(cfg, driver, inbox.handler, testLogger())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, driver, inbox
}

// connectAndOpen connects the session and drives the link to open.
func connectAndOpen(t *testing.T, s *Session, driver *fakeDriver) *fakeSocket {
	t.Helper()
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sock := driver.lastSocket()
	if sock == nil {
		t.Fatal("no socket created")
	}
	sock.emit(EventConnectionUpdate, map[string]any{"connection": "open"})
	return sock
}

// notifyBatch builds a messages.upsert payload with the given records.
func notifyBatch(records ...map[string]any) map[string]any {
	msgs := make([]any, len(records))
	for i, r := range records {
		msgs[i] = r
	}
	return map[string]any{"type": "notify", "messages": msgs}
}

// textRecord builds one inbound message record.
func textRecord(jid, id, text string) map[string]any {
	return map[string]any{
		"key": map[string]any{
			"remoteJid": jid,
			"id":        id,
			"fromMe":    false,
		},
		"message":          map[string]any{"conversation": text},
		"messageTimestamp": float64(time.Now().Unix()),
		"pushName":         "Tester",
	}
}
