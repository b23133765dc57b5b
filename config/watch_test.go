package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherPushesReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	updates := make(chan AppConfig, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Watcher{Path: path, Cooldown: time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, func(cfg AppConfig) { updates <- cfg }) }()

	// give the watcher a moment to register before rewriting
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(sampleYAML, "equity: 50000", "equity: 75000", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-updates:
		require.Equal(t, 75000.0, cfg.Assets["BTC"].Perp.Equity)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherSwallowsBadConfig(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	updates := make(chan AppConfig, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Watcher{Path: path, Cooldown: time.Millisecond}
	go func() { _ = w.Start(ctx, func(cfg AppConfig) { updates <- cfg }) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("assets: ["), 0o600))

	select {
	case <-updates:
		t.Fatal("invalid config must not reach the engine")
	case <-time.After(300 * time.Millisecond):
	}
}
