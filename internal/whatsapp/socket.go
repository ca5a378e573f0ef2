package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/Bingeljell/alfred-gateway/internal/gateway"
)

// socket adapts one whatsmeow client to the gateway's socket contract,
// translating typed whatsmeow events into the weakly-typed payloads the
// session runtime consumes.
type socket struct {
	client *whatsmeow.Client
	log    *slog.Logger

	mu        sync.Mutex
	listeners map[string][]gateway.Listener
	buffered  map[string][]map[string]any
}

func newSocket(client *whatsmeow.Client, log *slog.Logger) *socket {
	return &socket{
		client:    client,
		log:       log.With("component", "whatsapp-socket"),
		listeners: make(map[string][]gateway.Listener),
		buffered:  make(map[string][]map[string]any),
	}
}

// On registers a listener and flushes any events that arrived for this
// event name before registration.
func (s *socket) On(event string, fn gateway.Listener) {
	s.mu.Lock()
	s.listeners[event] = append(s.listeners[event], fn)
	pending := s.buffered[event]
	delete(s.buffered, event)
	s.mu.Unlock()

	for _, payload := range pending {
		fn(payload)
	}
}

func (s *socket) emit(event string, payload map[string]any) {
	s.mu.Lock()
	fns := make([]gateway.Listener, len(s.listeners[event]))
	copy(fns, s.listeners[event])
	if len(fns) == 0 {
		s.buffered[event] = append(s.buffered[event], payload)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// handleEvent maps whatsmeow events onto the three driver events.
func (s *socket) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		// Only the first code is currently active; whatsmeow fires a new
		// QR event on rotation.
		if len(e.Codes) > 0 {
			s.emit(gateway.EventConnectionUpdate, map[string]any{"qr": e.Codes[0]})
		}
	case *events.PairSuccess:
		s.emit(gateway.EventCredsUpdate, map[string]any{})
	case *events.Connected:
		s.emit(gateway.EventConnectionUpdate, map[string]any{"connection": "open"})
	case *events.Disconnected:
		s.emit(gateway.EventConnectionUpdate, map[string]any{"connection": "close"})
	case *events.KeepAliveTimeout:
		s.emit(gateway.EventConnectionUpdate, closePayload(408, "keepalive timeout"))
	case *events.StreamReplaced:
		s.emit(gateway.EventConnectionUpdate, closePayload(440, "stream replaced"))
	case *events.LoggedOut:
		s.emit(gateway.EventConnectionUpdate, closePayload(401, "logged out"))
	case *events.Message:
		s.emit(gateway.EventMessagesUpsert, upsertPayload(e))
	}
}

// closePayload builds a close event carrying a disconnect code in the
// shape the session's safe extractors expect.
func closePayload(code int, reason string) map[string]any {
	return map[string]any{
		"connection": "close",
		"lastDisconnect": map[string]any{
			"error": map[string]any{
				"output":  map[string]any{"statusCode": code},
				"message": reason,
			},
		},
	}
}

// upsertPayload converts a live message event into a single-message
// notify batch with Baileys-shaped records.
func upsertPayload(evt *events.Message) map[string]any {
	key := map[string]any{
		"remoteJid": evt.Info.Chat.String(),
		"id":        evt.Info.ID,
		"fromMe":    evt.Info.IsFromMe,
	}
	if !evt.Info.IsFromMe && evt.Info.Sender.String() != evt.Info.Chat.String() {
		key["participant"] = evt.Info.Sender.String()
	}

	record := map[string]any{
		"key":              key,
		"message":          map[string]any{"conversation": messageText(evt.Message)},
		"messageTimestamp": evt.Info.Timestamp.Unix(),
		"pushName":         evt.Info.PushName,
	}

	return map[string]any{
		"type":     "notify",
		"messages": []any{record},
	}
}

// messageText pulls the plain-text content out of a message.
func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// SendMessage delivers a text or document payload.
func (s *socket) SendMessage(ctx context.Context, jid string, payload gateway.SendPayload) error {
	recipient, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	var msg *waE2E.Message
	if payload.Document != nil {
		uploaded, err := s.client.Upload(ctx, payload.Document, whatsmeow.MediaDocument)
		if err != nil {
			return fmt.Errorf("failed to upload document: %w", err)
		}
		msg = &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				FileName:      proto.String(payload.FileName),
				Mimetype:      proto.String(payload.MimeType),
				Caption:       proto.String(payload.Caption),
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uint64(len(payload.Document))),
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(payload.Text)}
	}

	if _, err := s.client.SendMessage(ctx, recipient, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// End force-closes the connection.
func (s *socket) End(_ error) {
	s.client.Disconnect()
}

// Logout invalidates the session server-side.
func (s *socket) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

// UserID returns our own JID once the device is paired.
func (s *socket) UserID() string {
	if s.client.Store != nil && s.client.Store.ID != nil {
		return s.client.Store.ID.String()
	}
	return ""
}

var _ gateway.Socket = (*socket)(nil)
