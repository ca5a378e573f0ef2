package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/Bingeljell/alfred-gateway/internal/state"
	"github.com/Bingeljell/alfred-gateway/internal/status"
)

const (
	// codeAuthInvalid is the transport's "logged out" close; reconnecting
	// with the same credentials can never succeed.
	codeAuthInvalid = 401
	// codeRestartRequired is an in-band protocol resync request, an
	// expected step of the initial pairing rather than a real outage.
	codeRestartRequired = 515

	restartReason = "restart required"

	// restartReconnectCap keeps the pairing fast path snappy even when
	// the configured reconnect delay is long.
	restartReconnectCap = time.Second
)

// handleConnectionUpdate is the state-machine step driven by the
// transport's connection.update events.
func (s *Session) handleConnectionUpdate(payload map[string]any) {
	ctx := context.Background()

	if qr, ok := asString(payload["qr"]); ok && qr != "" {
		s.handleQR(ctx, qr)
	}

	conn, _ := asString(payload["connection"])
	switch conn {
	case "open":
		s.handleOpen(ctx)
	case "close":
		s.handleClose(ctx, payload)
	}
}

// handleQR counts one pairing-code rotation against the budget. On
// exhaustion the socket is dropped and the session goes dormant until an
// explicit Connect.
func (s *Session) handleQR(ctx context.Context, code string) {
	s.mu.Lock()
	if s.qrCount+1 > s.cfg.MaxQRGenerations {
		s.allowReconnect = false
		s.stopReconnectTimerLocked()
		count := s.qrCount
		sock := s.socket
		s.socket = nil
		s.mu.Unlock()

		if sock != nil {
			sock.End(nil)
		}
		_ = s.machine.Fire(ctx, state.TriggerHalt)
		s.tracker.SetState(state.StateDisconnected)
		s.tracker.LockQR(count)
		s.tracker.SetLastError(errQRLimitReached)
		s.log.Warn("qr generation limit reached", "limit", s.cfg.MaxQRGenerations)
		return
	}

	s.qrCount++
	count := s.qrCount
	observers := make([]func(string), len(s.onQR))
	copy(observers, s.onQR)
	s.mu.Unlock()

	s.tracker.SetQR(code, count)
	s.log.Info("qr code rotated", "generation", count, "limit", s.cfg.MaxQRGenerations)

	for _, fn := range observers {
		fn(code)
	}
}

// handleOpen marks the link live. Messages older than the grace window
// before this instant will be classified as stale.
func (s *Session) handleOpen(ctx context.Context) {
	live := time.Now().Add(-s.cfg.HistoryGraceWindow)

	s.mu.Lock()
	s.liveSince = live.Unix()
	s.reconnectWait.Reset()
	sock := s.socket
	s.mu.Unlock()

	_ = s.machine.Fire(ctx, state.TriggerOpen)
	s.tracker.SetState(state.StateConnected)
	s.tracker.SetSync(status.SyncLive, &live)
	s.tracker.ClearQR()
	if sock != nil {
		s.tracker.SetSelfJID(sock.UserID())
	}
	s.tracker.SetLastError("")
	s.log.Info("connection open", "live_since", live)
}

// handleClose interprets a close event: the restart-required fast path
// reconnects almost immediately, the general path honors the configured
// delay, and an auth-invalid close suppresses reconnecting entirely.
func (s *Session) handleClose(ctx context.Context, payload map[string]any) {
	code := safeDisconnectCode(payload)
	reason := safeDisconnectReason(payload)

	restart := (code != nil && *code == codeRestartRequired) ||
		strings.Contains(strings.ToLower(reason), restartReason)

	if restart {
		s.mu.Lock()
		s.liveSince = 0
		sock := s.socket
		s.socket = nil
		allow := s.allowReconnect
		s.mu.Unlock()

		s.window.Reset()
		s.tracker.SetDisconnect(code, reason)
		s.tracker.SetSync(status.SyncBootstrapping, nil)
		if sock != nil {
			sock.End(nil)
		}

		s.log.Info("transport requested restart", "code", code, "reason", reason)
		if allow {
			_ = s.machine.Fire(ctx, state.TriggerRetry)
			s.tracker.SetState(state.StateConnecting)
			s.scheduleReconnect(min(s.cfg.ReconnectDelay, restartReconnectCap))
		}
		return
	}

	s.mu.Lock()
	s.liveSince = 0
	allow := s.allowReconnect
	s.mu.Unlock()

	s.window.Reset()
	s.tracker.SetDisconnect(code, reason)
	s.tracker.ClearQR()
	s.tracker.SetSelfJID("")
	s.tracker.SetSync(status.SyncBootstrapping, nil)

	if allow {
		_ = s.machine.Fire(ctx, state.TriggerRetry)
		s.tracker.SetState(state.StateConnecting)
	} else {
		_ = s.machine.Fire(ctx, state.TriggerHalt)
		s.tracker.SetState(state.StateDisconnected)
	}

	s.log.Info("connection closed", "code", code, "reason", reason, "reconnect", allow)

	if code != nil && *code == codeAuthInvalid {
		s.log.Warn("session invalidated by server, reconnect suppressed")
		return
	}
	if !allow {
		return
	}

	s.mu.Lock()
	delay := s.reconnectWait.NextBackOff()
	s.mu.Unlock()
	s.scheduleReconnect(delay)
}
