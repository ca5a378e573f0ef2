package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bingeljell/alfred-gateway/internal/state"
)

func TestNewTracker(t *testing.T) {
	tr := NewTracker("whatsapp", 3)
	snap := tr.Snapshot()

	assert.Equal(t, "whatsapp", snap.Provider)
	assert.Equal(t, state.StateDisconnected, snap.State)
	assert.False(t, snap.Connected)
	assert.Equal(t, 3, snap.QRGenerationLimit)
	assert.Equal(t, SyncBootstrapping, snap.SyncState)
	assert.Equal(t, Counters{}, snap.Counters)
}

func TestTracker_SetState(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	tr.SetState(state.StateConnected)
	snap := tr.Snapshot()
	assert.Equal(t, state.StateConnected, snap.State)
	assert.True(t, snap.Connected)

	tr.SetState(state.StateConnecting)
	snap = tr.Snapshot()
	assert.False(t, snap.Connected)
}

func TestTracker_QRLifecycle(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	tr.SetQR("qr-code-1", 1)
	snap := tr.Snapshot()
	assert.Equal(t, "qr-code-1", snap.QR)
	assert.Equal(t, 1, snap.QRGenerationCount)
	assert.False(t, snap.QRUpdatedAt.IsZero())

	// ClearQR drops the code but keeps the generation count
	tr.ClearQR()
	snap = tr.Snapshot()
	assert.Empty(t, snap.QR)
	assert.Equal(t, 1, snap.QRGenerationCount)

	tr.SetQR("qr-code-2", 2)
	tr.ResetQR()
	snap = tr.Snapshot()
	assert.Empty(t, snap.QR)
	assert.Equal(t, 0, snap.QRGenerationCount)
	assert.False(t, snap.QRLocked)
}

func TestTracker_LockQR(t *testing.T) {
	tr := NewTracker("whatsapp", 3)
	tr.SetQR("qr-code-3", 3)

	tr.LockQR(3)
	snap := tr.Snapshot()
	assert.Empty(t, snap.QR)
	assert.Equal(t, 3, snap.QRGenerationCount)
	assert.True(t, snap.QRLocked)

	// A new connect attempt unlocks the budget
	tr.ResetQR()
	assert.False(t, tr.Snapshot().QRLocked)
}

func TestTracker_SetDisconnect(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	code := 515
	tr.SetDisconnect(&code, "restart required")
	snap := tr.Snapshot()
	require.NotNil(t, snap.LastDisconnectCode)
	assert.Equal(t, 515, *snap.LastDisconnectCode)
	assert.Equal(t, "restart required", snap.LastDisconnectReason)

	tr.SetDisconnect(nil, "")
	assert.Nil(t, tr.Snapshot().LastDisconnectCode)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	code := 401
	live := time.Now()
	tr.SetDisconnect(&code, "logged out")
	tr.SetSync(SyncLive, &live)

	snap := tr.Snapshot()
	*snap.LastDisconnectCode = 999
	*snap.LiveSince = time.Time{}

	fresh := tr.Snapshot()
	assert.Equal(t, 401, *fresh.LastDisconnectCode)
	assert.Equal(t, live.Unix(), fresh.LiveSince.Unix())
}

func TestTracker_Counters(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	tr.IncAccepted(2)
	tr.IncIgnored(IgnoreNonNotify, 3)
	tr.IncIgnored(IgnorePreLive, 1)
	tr.IncIgnored(IgnoreStale, 1)
	tr.IncIgnored(IgnoreDuplicate, 1)
	tr.IncIgnored(IgnoreUnsupportedJID, 1)
	tr.IncIgnored(IgnoreFromMe, 1)
	tr.IncIgnored(IgnoreSenderNotAllowed, 1)
	tr.IncIgnored(IgnoreMissingPrefix, 1)

	c := tr.Snapshot().Counters
	assert.Equal(t, uint64(2), c.Accepted)
	assert.Equal(t, uint64(3), c.IgnoredNonNotify)
	assert.Equal(t, uint64(10), c.TotalIgnored())
}

func TestTracker_SetLastError(t *testing.T) {
	tr := NewTracker("whatsapp", 3)

	tr.SetLastError("save_creds_failed")
	assert.Equal(t, "save_creds_failed", tr.Snapshot().LastError)

	tr.SetLastError("")
	assert.Empty(t, tr.Snapshot().LastError)
}
