package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
)

func TestAppRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.StoreDSN = filepath.Join(t.TempDir(), "chat.db")
	cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	logger := zerolog.Nop()

	cfg := config.Default()
	cfg.StoreDSN = ""
	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestNewFailsWithoutRedis(t *testing.T) {
	logger := zerolog.Nop()

	cfg := config.Default()
	cfg.StoreDSN = filepath.Join(t.TempDir(), "chat.db")
	// Nothing listens on the discard port.
	cfg.RedisAddr = "127.0.0.1:9"

	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected redis ping error")
	}
}
