// Package whatsapp provides the whatsmeow-backed transport driver for the
// gateway session runtime.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Bingeljell/alfred-gateway/internal/gateway"
)

// sessionDBName is the sqlite file holding the whatsmeow device store
// inside the auth directory.
const sessionDBName = "session.db"

// Driver implements gateway.Driver on top of whatsmeow.
type Driver struct {
	log *slog.Logger
}

// NewDriver creates a whatsmeow transport driver.
func NewDriver(log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{log: log}
}

// Version returns the transport protocol version triple. whatsmeow pins
// its own wire version internally; the triple is informational.
func (d *Driver) Version(_ context.Context) ([3]int, error) {
	return [3]int{2, 3000, 0}, nil
}

// authState bundles the sqlstore container and the device it yields.
type authState struct {
	container *sqlstore.Container
	device    *store.Device
}

// LoadAuthState opens (or creates) the device store under dir. whatsmeow
// persists session state itself, so the save callback is a no-op hook.
func (d *Driver) LoadAuthState(ctx context.Context, dir string) (gateway.AuthState, gateway.SaveCredsFunc, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create auth directory: %w", err)
	}

	dbLog := &slogAdapter{log: d.log.With("component", "whatsmeow-db")}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, sessionDBName))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, dbLog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get device store: %w", err)
	}

	saveCreds := func() error { return nil }
	return &authState{container: container, device: device}, saveCreds, nil
}

// NewSocket builds a whatsmeow client over the loaded device store and
// connects it. Events arriving before the session binds listeners are
// buffered inside the socket.
func (d *Driver) NewSocket(_ context.Context, opts gateway.SocketOptions) (gateway.Socket, error) {
	auth, ok := opts.Auth.(*authState)
	if !ok {
		return nil, errors.New("auth state was not produced by this driver")
	}

	clientLog := &slogAdapter{log: d.log.With("component", "whatsmeow")}
	client := whatsmeow.NewClient(auth.device, clientLog)

	sock := newSocket(client, d.log)
	client.AddEventHandler(sock.handleEvent)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return sock, nil
}

// slogAdapter adapts slog.Logger to whatsmeow's log interface.
type slogAdapter struct {
	log *slog.Logger
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}

var _ waLog.Logger = (*slogAdapter)(nil)
