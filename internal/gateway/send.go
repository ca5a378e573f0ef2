package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultMimeType is used when the caller does not name one.
const defaultMimeType = "application/octet-stream"

// FileOptions carry optional metadata for SendFile.
type FileOptions struct {
	FileName string
	MimeType string
	Caption  string
}

// SendText sends a text message to a supported JID. The text is
// sanitized the same way inbound text is.
func (s *Session) SendText(ctx context.Context, jid, text string) error {
	if !isSupportedJID(jid) {
		return ErrInvalidJID
	}

	text = sanitizeText(text, s.cfg.MaxTextChars)
	if text == "" {
		return ErrEmptyText
	}

	sock := s.currentSocket()
	if sock == nil {
		return ErrNotConnected
	}

	return sock.SendMessage(ctx, jid, SendPayload{Text: text})
}

// SendFile sends the file at path as a document. The filename defaults to
// the path's base name, the mime type to application/octet-stream.
func (s *Session) SendFile(ctx context.Context, jid, path string, opts FileOptions) error {
	if !isSupportedJID(jid) {
		return ErrInvalidJID
	}

	if err := validateFilePath(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	fileName := opts.FileName
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	sock := s.currentSocket()
	if sock == nil {
		return ErrNotConnected
	}

	return sock.SendMessage(ctx, jid, SendPayload{
		Document: data,
		FileName: fileName,
		MimeType: mimeType,
		Caption:  sanitizeText(opts.Caption, s.cfg.MaxTextChars),
	})
}

func (s *Session) currentSocket() Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

func validateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if cleanPath == "." || cleanPath == "" {
		return fmt.Errorf("path is required")
	}

	forbiddenPrefixes := []string{
		"/etc",
		"/proc",
		"/sys",
		"/bin",
		"/sbin",
		"/boot",
		"/dev",
		"/lib",
		"/lib64",
	}
	for _, prefix := range forbiddenPrefixes {
		if cleanPath == prefix || strings.HasPrefix(cleanPath, prefix+string(filepath.Separator)) {
			return fmt.Errorf("path %q is not allowed", cleanPath)
		}
	}

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal is not allowed")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return err
	}

	return nil
}
