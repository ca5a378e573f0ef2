// Package gateway implements the session runtime that bridges a chat
// transport to the orchestrator: connection lifecycle, QR pairing budget,
// reconnects, and the inbound normalization pipeline.
package gateway

import (
	"context"
	"errors"
)

// Event names emitted by a transport driver. Payloads are weakly typed;
// the runtime checks the type of each field and treats mismatches as
// absent fields.
const (
	EventCredsUpdate      = "creds.update"
	EventConnectionUpdate = "connection.update"
	EventMessagesUpsert   = "messages.upsert"
)

// browserDescriptor identifies this gateway to the transport during
// pairing. Compile-time constant on purpose.
var browserDescriptor = [3]string{"Alfred", "Chrome", "1.0.0"}

// Sentinel errors surfaced to callers of the send and connect paths. The
// messages double as the error vocabulary of the status model.
var (
	ErrInvalidJID      = errors.New("invalid_jid")
	ErrInvalidFilePath = errors.New("invalid_file_path")
	ErrEmptyText       = errors.New("empty_text")
	ErrNotConnected    = errors.New("not_connected")
)

// Transient error strings recorded in the status model.
const (
	errSaveCredsFailed = "save_creds_failed"
	errQRLimitReached  = "qr_generation_limit_reached"
	errPartialCreds    = "partial_creds_reset"
)

// Listener receives a raw event payload from the transport.
type Listener func(payload map[string]any)

// AuthState is the driver's opaque credential handle.
type AuthState any

// SaveCredsFunc persists updated credentials when the transport rotates them.
type SaveCredsFunc func() error

// SendPayload is an outbound message: either Text, or a Document with
// its metadata.
type SendPayload struct {
	Text     string
	Document []byte
	FileName string
	MimeType string
	Caption  string
}

// SocketOptions configure a new transport socket.
type SocketOptions struct {
	Auth    AuthState
	Browser [3]string
	Version [3]int
}

// Socket is one live transport connection. The session holds at most one
// at a time; a replaced socket is always End-ed first.
type Socket interface {
	// On registers a listener for one of the three driver events.
	On(event string, fn Listener)
	// SendMessage delivers an outbound payload to the given JID.
	SendMessage(ctx context.Context, jid string, payload SendPayload) error
	// End force-closes the connection. Errors are swallowed by the driver.
	End(err error)
	// Logout invalidates the session server-side.
	Logout(ctx context.Context) error
	// UserID returns our own JID, empty until the link is open.
	UserID() string
}

// Driver is the transport factory the session runtime is built against.
type Driver interface {
	// Version fetches the transport protocol version triple.
	Version(ctx context.Context) ([3]int, error)
	// LoadAuthState opens the credential store rooted at dir.
	LoadAuthState(ctx context.Context, dir string) (AuthState, SaveCredsFunc, error)
	// NewSocket opens a connection with the given auth and descriptors.
	NewSocket(ctx context.Context, opts SocketOptions) (Socket, error)
}

// Message is a normalized inbound message delivered to the orchestrator.
// Text is non-empty, null-byte free, trimmed, and truncated to the
// configured bound. Timestamp is unix seconds, zero when the transport
// did not supply one.
type Message struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remote_jid"`
	Text      string `json:"text"`
	PushName  string `json:"push_name,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Handler consumes a normalized inbound message. Handler errors are
// recorded in the status model and never break the batch.
type Handler func(ctx context.Context, msg Message) error
