package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/creditfence/internal/config"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_InvalidRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis connection test")
	}
	cfg := config.NewDefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	// Nothing listens on port 1
	cfg.Redis.Addr = "127.0.0.1:1"

	err := serve(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
