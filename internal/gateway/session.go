package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Bingeljell/alfred-gateway/internal/config"
	"github.com/Bingeljell/alfred-gateway/internal/creds"
	"github.com/Bingeljell/alfred-gateway/internal/dedupe"
	"github.com/Bingeljell/alfred-gateway/internal/state"
	"github.com/Bingeljell/alfred-gateway/internal/status"
)

// Session owns the single long-lived transport link: the socket handle,
// the connection state machine, the QR budget, the reconnect timer, the
// dedup window, and the status model. All mutable fields are serialized
// behind one mutex; event listeners never propagate failures back into
// the transport.
type Session struct {
	cfg     *config.Config
	driver  Driver
	log     *slog.Logger
	machine *state.Machine
	tracker *status.Tracker
	window  *dedupe.Window

	// allowedSenders holds canonical sender keys; empty means any sender.
	allowedSenders map[string]struct{}

	mu             sync.Mutex
	socket         Socket
	saveCreds      SaveCredsFunc
	allowReconnect bool
	liveSince      int64 // unix seconds; 0 while bootstrapping
	qrCount        int
	pending        *pendingConnect
	reconnectTimer *time.Timer
	reconnectWait  backoff.BackOff
	onInbound      Handler
	onMessage      []Handler
	onQR           []func(code string)
}

// pendingConnect lets concurrent Connect callers join one in-flight
// attempt and observe its result.
type pendingConnect struct {
	done chan struct{}
	snap status.Snapshot
	err  error
}

// NewSession creates a session runtime for the given driver. onInbound is
// the mandatory downstream consumer; additional handlers can be attached
// with OnMessage.
func NewSession(cfg *config.Config, driver Driver, onInbound Handler, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedSenders))
	for _, jid := range cfg.AllowedSenders {
		if key := canonicalSenderKey(jid); key != "" {
			allowed[key] = struct{}{}
		}
	}

	s := &Session{
		cfg:            cfg,
		driver:         driver,
		log:            log.With("component", "gateway"),
		machine:        state.NewMachine(),
		tracker:        status.NewTracker(cfg.Provider, cfg.MaxQRGenerations),
		window:         dedupe.New(dedupe.DefaultCapacity),
		allowedSenders: allowed,
		reconnectWait:  backoff.NewConstantBackOff(cfg.ReconnectDelay),
		onInbound:      onInbound,
	}

	s.machine.OnTransition(func(ctx context.Context, from, to state.State, trigger state.Trigger) {
		s.log.Info("state transition", "from", from, "to", to, "trigger", trigger)
	})

	return s
}

// Connect starts a connect attempt, or joins the one already in flight.
// It re-enables reconnects and cancels any pending reconnect timer.
func (s *Session) Connect(ctx context.Context) (status.Snapshot, error) {
	s.mu.Lock()
	s.allowReconnect = true
	s.stopReconnectTimerLocked()
	if p := s.pending; p != nil {
		s.mu.Unlock()
		<-p.done
		return p.snap, p.err
	}
	p := &pendingConnect{done: make(chan struct{})}
	s.pending = p
	s.mu.Unlock()

	err := s.connectInternal(ctx)

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	p.snap = s.tracker.Snapshot()
	p.err = err
	close(p.done)
	return p.snap, err
}

// connectInternal runs one connect attempt: reset transient state, repair
// credentials, load auth, open the socket, bind the event listeners.
func (s *Session) connectInternal(ctx context.Context) error {
	s.mu.Lock()
	s.liveSince = 0
	s.qrCount = 0
	s.mu.Unlock()
	s.window.Reset()

	_ = s.machine.Fire(ctx, state.TriggerConnect)
	s.tracker.SetState(state.StateConnecting)
	s.tracker.ResetQR()
	s.tracker.SetSync(status.SyncBootstrapping, nil)
	s.tracker.SetLastError("")

	quarantined, err := creds.Repair(s.cfg.AuthDir)
	if err != nil {
		// Non-fatal: connect proceeds with the file as-is and the
		// transport surfaces its own error if one arises.
		s.log.Warn("credential repair failed", "error", err)
	}
	if quarantined {
		s.tracker.SetLastError(errPartialCreds)
		s.log.Warn("quarantined partial credentials", "dir", s.cfg.AuthDir)
	}

	version, err := s.driver.Version(ctx)
	if err != nil {
		return s.failConnect(ctx, err)
	}

	auth, saveCreds, err := s.driver.LoadAuthState(ctx, s.cfg.AuthDir)
	if err != nil {
		return s.failConnect(ctx, err)
	}

	sock, err := s.driver.NewSocket(ctx, SocketOptions{
		Auth:    auth,
		Browser: browserDescriptor,
		Version: version,
	})
	if err != nil {
		return s.failConnect(ctx, err)
	}

	s.mu.Lock()
	prev := s.socket
	s.socket = sock
	s.saveCreds = saveCreds
	s.mu.Unlock()
	if prev != nil {
		prev.End(nil)
	}

	sock.On(EventCredsUpdate, s.handleCredsUpdate)
	sock.On(EventConnectionUpdate, s.handleConnectionUpdate)
	sock.On(EventMessagesUpsert, s.handleMessagesUpsert)

	return nil
}

func (s *Session) failConnect(ctx context.Context, err error) error {
	_ = s.machine.Fire(ctx, state.TriggerFail)
	s.tracker.SetState(state.StateError)
	s.tracker.SetLastError(err.Error())
	s.log.Error("connect failed", "error", err)
	return err
}

// Disconnect tears the session down. With logout the transport session is
// invalidated server-side (failures swallowed, force-close always
// attempted); without it the credentials stay valid on disk so the next
// start resumes without a new QR pairing.
func (s *Session) Disconnect(ctx context.Context, logout bool) status.Snapshot {
	s.mu.Lock()
	s.allowReconnect = false
	s.stopReconnectTimerLocked()
	sock := s.socket
	s.socket = nil
	s.liveSince = 0
	s.qrCount = 0
	s.mu.Unlock()

	if sock != nil {
		if logout {
			if err := sock.Logout(ctx); err != nil {
				s.log.Warn("transport logout failed", "error", err)
			}
		}
		sock.End(nil)
	}

	s.window.Reset()
	_ = s.machine.Fire(ctx, state.TriggerHalt)
	s.tracker.SetState(state.StateDisconnected)
	s.tracker.ResetQR()
	s.tracker.SetSelfJID("")
	s.tracker.SetSync(status.SyncBootstrapping, nil)

	return s.tracker.Snapshot()
}

// Stop disconnects without logging out, preserving on-disk credentials.
func (s *Session) Stop(ctx context.Context) status.Snapshot {
	return s.Disconnect(ctx, false)
}

// Status returns a copy of the current status snapshot.
func (s *Session) Status() status.Snapshot {
	return s.tracker.Snapshot()
}

// OnMessage registers an additional downstream handler, invoked after the
// mandatory inbound callback.
func (s *Session) OnMessage(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = append(s.onMessage, h)
}

// OnQR registers an observer for fresh pairing codes.
func (s *Session) OnQR(fn func(code string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQR = append(s.onQR, fn)
}

// handleCredsUpdate persists rotated credentials via the driver callback.
func (s *Session) handleCredsUpdate(_ map[string]any) {
	s.mu.Lock()
	save := s.saveCreds
	s.mu.Unlock()

	if save == nil {
		return
	}
	if err := save(); err != nil {
		s.tracker.SetLastError(errSaveCredsFailed)
		s.log.Error("failed to save credentials", "error", err)
	}
}

// scheduleReconnect arms the singleton reconnect timer, replacing any
// pending one.
func (s *Session) scheduleReconnect(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReconnectTimerLocked()
	s.log.Info("scheduling reconnect", "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		if _, err := s.Connect(context.Background()); err != nil {
			// Connect already recorded the error state.
			s.log.Error("reconnect attempt failed", "error", err)
		}
	})
}

func (s *Session) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}
