package gateway

import (
	"context"
	"strings"

	"github.com/Bingeljell/alfred-gateway/internal/status"
)

// handleMessagesUpsert runs the inbound filter pipeline over one
// messages.upsert batch. Messages are processed sequentially so upstream
// order is preserved; each rejection increments exactly one counter.
func (s *Session) handleMessagesUpsert(payload map[string]any) {
	msgs, _ := asSlice(payload["messages"])
	if len(msgs) == 0 {
		return
	}
	batch := uint64(len(msgs))

	// Only live notify batches pass; append/replace/history-sync batches
	// are counted and dropped wholesale.
	if t, ok := asString(payload["type"]); ok && t != "" && !strings.EqualFold(t, "notify") {
		s.tracker.IncIgnored(status.IgnoreNonNotify, batch)
		return
	}

	s.mu.Lock()
	live := s.liveSince
	s.mu.Unlock()

	if !s.tracker.Snapshot().Connected || live == 0 {
		s.tracker.IncIgnored(status.IgnorePreLive, batch)
		return
	}

	ctx := context.Background()
	for _, raw := range msgs {
		s.filterMessage(ctx, raw, live)
	}
}

// filterMessage applies the per-message filters in order: JID shape,
// dedup, staleness, self-message policy, sender allowlist, text
// extraction, truncation, and the required-prefix rule.
func (s *Session) filterMessage(ctx context.Context, raw any, live int64) {
	m, ok := asMap(raw)
	if !ok {
		s.tracker.IncIgnored(status.IgnoreUnsupportedJID, 1)
		return
	}

	key, _ := asMap(m["key"])
	remoteJID, _ := asString(key["remoteJid"])
	id, _ := asString(key["id"])
	if remoteJID == "" || id == "" || !isSupportedJID(remoteJID) {
		s.tracker.IncIgnored(status.IgnoreUnsupportedJID, 1)
		return
	}

	if !s.window.Observe(remoteJID + ":" + id) {
		s.tracker.IncIgnored(status.IgnoreDuplicate, 1)
		return
	}

	ts := normalizeTimestamp(m["messageTimestamp"])
	if ts != nil && *ts < live {
		s.tracker.IncIgnored(status.IgnoreStale, 1)
		return
	}

	fromMe, _ := asBool(key["fromMe"])
	if fromMe && !s.cfg.AllowSelfFromMe {
		s.tracker.IncIgnored(status.IgnoreFromMe, 1)
		return
	}

	if !fromMe && len(s.allowedSenders) > 0 {
		sender := remoteJID
		if p, ok := asString(key["participant"]); ok && p != "" {
			sender = p
		}
		if _, allowed := s.allowedSenders[canonicalSenderKey(sender)]; !allowed {
			s.tracker.IncIgnored(status.IgnoreSenderNotAllowed, 1)
			return
		}
	}

	text := sanitizeText(extractText(m), s.cfg.MaxTextChars)
	if text == "" {
		// Nothing deliverable (media, reactions, receipts); not an error.
		return
	}

	text = applyRequiredPrefix(text, s.cfg.RequirePrefix)
	if strings.TrimSpace(s.cfg.RequirePrefix) != "" && text == "" {
		s.tracker.IncIgnored(status.IgnoreMissingPrefix, 1)
		return
	}

	pushName, _ := asString(m["pushName"])

	msg := Message{
		ID:        id,
		RemoteJID: remoteJID,
		Text:      text,
		PushName:  strings.TrimSpace(pushName),
	}
	if ts != nil {
		msg.Timestamp = *ts
	}

	s.deliver(ctx, msg)
}

// deliver invokes the mandatory inbound callback and then the registered
// handlers. Handler failures are recorded but never break the batch.
func (s *Session) deliver(ctx context.Context, msg Message) {
	s.mu.Lock()
	handlers := make([]Handler, 0, 1+len(s.onMessage))
	if s.onInbound != nil {
		handlers = append(handlers, s.onInbound)
	}
	handlers = append(handlers, s.onMessage...)
	s.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			s.tracker.SetLastError(err.Error())
			s.log.Error("inbound handler failed", "id", msg.ID, "error", err)
		}
	}

	s.tracker.IncAccepted(1)
}

// extractText pulls the plain-text content out of a raw message record:
// conversation first, then the extended text body.
func extractText(m map[string]any) string {
	body, ok := asMap(m["message"])
	if !ok {
		return ""
	}
	if text, ok := asString(body["conversation"]); ok && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if ext, ok := asMap(body["extendedTextMessage"]); ok {
		if text, ok := asString(ext["text"]); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// applyRequiredPrefix enforces the leading-token rule: a case-insensitive
// prefix match is stripped along with an optional ':' or '-' separator;
// no match yields an empty string.
func applyRequiredPrefix(text, prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return text
	}
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return ""
	}
	rest := strings.TrimLeft(text[len(prefix):], " \t\r\n")
	if rest != "" && (rest[0] == ':' || rest[0] == '-') {
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
	}
	return rest
}

// canonicalSenderKey lowers a JID and keeps the portion before '@' and
// before ':' so device suffixes compare equal.
func canonicalSenderKey(jid string) string {
	key := strings.ToLower(strings.TrimSpace(jid))
	if i := strings.IndexByte(key, '@'); i >= 0 {
		key = key[:i]
	}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key = key[:i]
	}
	return strings.TrimSpace(key)
}

// sanitizeText strips null bytes, trims whitespace, and truncates to
// maxChars runes.
func sanitizeText(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.TrimSpace(text)
	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}
	return text
}

// isSupportedJID reports whether the JID addresses a supported direct
// chat. Group and broadcast suffixes are rejected.
func isSupportedJID(jid string) bool {
	for _, suffix := range []string{"@s.whatsapp.net", "@lid"} {
		if strings.HasSuffix(jid, suffix) && len(jid) > len(suffix) {
			return true
		}
	}
	return false
}
