package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/whisper/pairchat/internal/config"
)

func testFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("chatserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func defaultServerConfig() *config.Server {
	cfg := &config.Server{ListenAddr: "0.0.0.0:3000"}
	cfg.Lobby.CleanupInterval = 5 * time.Second
	cfg.Lobby.MaxMessages = 5
	cfg.Lobby.MaxIdleOutside = 20 * time.Second
	cfg.Lobby.MaxIdleInside = 300 * time.Second
	return cfg
}

func TestParseFlagsBareIntegers(t *testing.T) {
	cfg := defaultServerConfig()
	args := []string{
		"-cleanup-poll-frequency", "2500",
		"-max-idle-outside", "30",
		"--max-idle-inside", "600",
		"-max-messages", "100",
	}
	if err := parseFlags(testFlagSet(), args, cfg); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Lobby.CleanupInterval != 2500*time.Millisecond {
		t.Errorf("cleanup interval = %v, want 2.5s", cfg.Lobby.CleanupInterval)
	}
	if cfg.Lobby.MaxIdleOutside != 30*time.Second {
		t.Errorf("max idle outside = %v, want 30s", cfg.Lobby.MaxIdleOutside)
	}
	if cfg.Lobby.MaxIdleInside != 10*time.Minute {
		t.Errorf("max idle inside = %v, want 10m", cfg.Lobby.MaxIdleInside)
	}
	if cfg.Lobby.MaxMessages != 100 {
		t.Errorf("max messages = %d, want 100", cfg.Lobby.MaxMessages)
	}
}

func TestParseFlagsDurations(t *testing.T) {
	cfg := defaultServerConfig()
	args := []string{"-cleanup-poll-frequency", "1s", "-max-idle-outside", "1m30s", "-listen", ":4000"}
	if err := parseFlags(testFlagSet(), args, cfg); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Lobby.CleanupInterval != time.Second {
		t.Errorf("cleanup interval = %v, want 1s", cfg.Lobby.CleanupInterval)
	}
	if cfg.Lobby.MaxIdleOutside != 90*time.Second {
		t.Errorf("max idle outside = %v, want 1m30s", cfg.Lobby.MaxIdleOutside)
	}
	if cfg.Lobby.MaxIdleInside != 300*time.Second {
		t.Errorf("untouched max idle inside changed to %v", cfg.Lobby.MaxIdleInside)
	}
	if cfg.ListenAddr != ":4000" {
		t.Errorf("listen = %q, want :4000", cfg.ListenAddr)
	}
}

func TestParseFlagsRejectsGarbage(t *testing.T) {
	cfg := defaultServerConfig()
	if err := parseFlags(testFlagSet(), []string{"-max-idle-inside", "soon"}, cfg); err == nil {
		t.Fatal("expected an error for a non-numeric, non-duration value")
	}
}
