// Package status holds the observable state of the gateway session: the
// connection snapshot operators read plus the monotonic accept/ignore counters.
package status

import (
	"sync"
	"time"

	"github.com/Bingeljell/alfred-gateway/internal/state"
)

// SyncState tells whether the inbound stream is still replaying history
// or delivering live traffic.
type SyncState string

const (
	SyncBootstrapping SyncState = "bootstrapping"
	SyncLive          SyncState = "live"
)

// IgnoreReason identifies which inbound filter rejected a message.
type IgnoreReason string

const (
	IgnoreNonNotify        IgnoreReason = "non_notify"
	IgnorePreLive          IgnoreReason = "pre_live"
	IgnoreStale            IgnoreReason = "stale"
	IgnoreDuplicate        IgnoreReason = "duplicate"
	IgnoreUnsupportedJID   IgnoreReason = "unsupported_jid"
	IgnoreFromMe           IgnoreReason = "from_me"
	IgnoreSenderNotAllowed IgnoreReason = "sender_not_allowed"
	IgnoreMissingPrefix    IgnoreReason = "missing_prefix"
)

// Counters are the monotonic message counters. They only ever increase
// while the process runs.
type Counters struct {
	Accepted                uint64 `json:"accepted"`
	IgnoredNonNotify        uint64 `json:"ignored_non_notify"`
	IgnoredPreLive          uint64 `json:"ignored_pre_live"`
	IgnoredStale            uint64 `json:"ignored_stale"`
	IgnoredDuplicate        uint64 `json:"ignored_duplicate"`
	IgnoredUnsupportedJID   uint64 `json:"ignored_unsupported_jid"`
	IgnoredFromMe           uint64 `json:"ignored_from_me"`
	IgnoredSenderNotAllowed uint64 `json:"ignored_sender_not_allowed"`
	IgnoredMissingPrefix    uint64 `json:"ignored_missing_prefix"`
}

// TotalIgnored sums the ignore counters.
func (c Counters) TotalIgnored() uint64 {
	return c.IgnoredNonNotify + c.IgnoredPreLive + c.IgnoredStale +
		c.IgnoredDuplicate + c.IgnoredUnsupportedJID + c.IgnoredFromMe +
		c.IgnoredSenderNotAllowed + c.IgnoredMissingPrefix
}

// Snapshot is an immutable copy of the session status.
type Snapshot struct {
	Provider             string      `json:"provider"`
	State                state.State `json:"state"`
	Connected            bool        `json:"connected"`
	SelfJID              string      `json:"self_jid,omitempty"`
	QR                   string      `json:"qr,omitempty"`
	QRUpdatedAt          time.Time   `json:"qr_updated_at,omitempty"`
	QRGenerationCount    int         `json:"qr_generation_count"`
	QRGenerationLimit    int         `json:"qr_generation_limit"`
	QRLocked             bool        `json:"qr_locked"`
	LastDisconnectCode   *int        `json:"last_disconnect_code,omitempty"`
	LastDisconnectReason string      `json:"last_disconnect_reason,omitempty"`
	LastError            string      `json:"last_error,omitempty"`
	SyncState            SyncState   `json:"sync_state"`
	LiveSince            *time.Time  `json:"live_since,omitempty"`
	UpdatedAt            time.Time   `json:"updated_at"`
	Counters             Counters    `json:"counters"`
}

// Tracker owns the mutable status record. Mutators are called only by the
// session runtime; everyone else reads copies via Snapshot.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a tracker in the initial disconnected state.
func NewTracker(provider string, qrLimit int) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Provider:          provider,
			State:             state.StateDisconnected,
			QRGenerationLimit: qrLimit,
			SyncState:         SyncBootstrapping,
			UpdatedAt:         time.Now(),
		},
	}
}

// Snapshot returns a coherent copy of the current status.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.snap
	if t.snap.LastDisconnectCode != nil {
		code := *t.snap.LastDisconnectCode
		snap.LastDisconnectCode = &code
	}
	if t.snap.LiveSince != nil {
		ts := *t.snap.LiveSince
		snap.LiveSince = &ts
	}
	return snap
}

// SetState records the connection state. Connected stays true only while
// the state is Connected.
func (t *Tracker) SetState(s state.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.State = s
	t.snap.Connected = s.IsConnected()
	t.touch()
}

// SetQR stores the current pairing code and its generation count.
func (t *Tracker) SetQR(code string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.QR = code
	t.snap.QRUpdatedAt = time.Now()
	t.snap.QRGenerationCount = count
	t.touch()
}

// ClearQR drops the pairing code but keeps the generation count.
func (t *Tracker) ClearQR() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.QR = ""
	t.snap.QRUpdatedAt = time.Time{}
	t.touch()
}

// ResetQR clears the code, the generation count, and the locked flag.
func (t *Tracker) ResetQR() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.QR = ""
	t.snap.QRUpdatedAt = time.Time{}
	t.snap.QRGenerationCount = 0
	t.snap.QRLocked = false
	t.touch()
}

// LockQR marks the pairing budget as exhausted.
func (t *Tracker) LockQR(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.QR = ""
	t.snap.QRUpdatedAt = time.Time{}
	t.snap.QRGenerationCount = count
	t.snap.QRLocked = true
	t.touch()
}

// SetSelfJID records our own transport identity.
func (t *Tracker) SetSelfJID(jid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SelfJID = jid
	t.touch()
}

// SetSync records the inbound sync state and the start of the live window.
func (t *Tracker) SetSync(s SyncState, liveSince *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SyncState = s
	t.snap.LiveSince = liveSince
	t.touch()
}

// SetDisconnect records the last disconnect code and reason.
func (t *Tracker) SetDisconnect(code *int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastDisconnectCode = code
	t.snap.LastDisconnectReason = reason
	t.touch()
}

// SetLastError records a transient error string; empty clears it.
func (t *Tracker) SetLastError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastError = msg
	t.touch()
}

// IncAccepted counts messages delivered downstream.
func (t *Tracker) IncAccepted(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counters.Accepted += n
	t.touch()
}

// IncIgnored counts messages rejected by a filter.
func (t *Tracker) IncIgnored(reason IgnoreReason, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch reason {
	case IgnoreNonNotify:
		t.snap.Counters.IgnoredNonNotify += n
	case IgnorePreLive:
		t.snap.Counters.IgnoredPreLive += n
	case IgnoreStale:
		t.snap.Counters.IgnoredStale += n
	case IgnoreDuplicate:
		t.snap.Counters.IgnoredDuplicate += n
	case IgnoreUnsupportedJID:
		t.snap.Counters.IgnoredUnsupportedJID += n
	case IgnoreFromMe:
		t.snap.Counters.IgnoredFromMe += n
	case IgnoreSenderNotAllowed:
		t.snap.Counters.IgnoredSenderNotAllowed += n
	case IgnoreMissingPrefix:
		t.snap.Counters.IgnoredMissingPrefix += n
	}
	t.touch()
}

func (t *Tracker) touch() {
	t.snap.UpdatedAt = time.Now()
}
