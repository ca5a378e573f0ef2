// Package main is the entry point for the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"github.com/Bingeljell/alfred-gateway/internal/config"
	"github.com/Bingeljell/alfred-gateway/internal/gateway"
	"github.com/Bingeljell/alfred-gateway/internal/whatsapp"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("Alfred gateway starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"auth_dir", cfg.AuthDir,
	)

	if err := os.MkdirAll(cfg.AuthDir, 0700); err != nil {
		logger.Error("Failed to create auth directory", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	driver := whatsapp.NewDriver(logger)

	// The orchestrator consumes inbound messages; without one attached we
	// log them so operators can watch traffic flow.
	onInbound := func(_ context.Context, msg gateway.Message) error {
		logger.Info("inbound message",
			"id", msg.ID,
			"remote_jid", msg.RemoteJID,
			"push_name", msg.PushName,
			"text", msg.Text,
		)
		return nil
	}

	session := gateway.NewSession(cfg, driver, onInbound, logger)

	// Render pairing codes to the terminal and save a PNG next to the
	// auth directory for headless setups.
	qrFilePath := filepath.Join(filepath.Dir(cfg.AuthDir), "qrcode.png")
	session.OnQR(func(code string) {
		if err := qrcode.WriteFile(code, qrcode.Medium, 256, qrFilePath); err == nil {
			logger.Info("QR code saved to file - open this file to scan", "path", qrFilePath)
		} else {
			logger.Error("Failed to save QR code to file", "error", err)
		}

		fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════════╗")
		fmt.Fprintln(os.Stderr, "║  Scan this QR code with WhatsApp Mobile  ║")
		fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════════╝")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stderr)
		fmt.Fprintln(os.Stderr, "")
	})

	if _, err := session.Connect(ctx); err != nil {
		logger.Error("Initial connect failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Gateway initialized", "state", session.Status().State)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)
	cancel()

	snap := session.Stop(context.Background())
	logger.Info("Alfred gateway stopped",
		"accepted", snap.Counters.Accepted,
		"ignored", snap.Counters.TotalIgnored(),
	)
}
