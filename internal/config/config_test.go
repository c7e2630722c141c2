package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var maskdKeys = []string{
	"CHROMIUM_CDP_ADDRESS", "CHROMIUM_CDP_PORT", "MASKD_BIND_ADDR",
	"MASKD_PORT_AUTO_FALLBACK", "MASKD_PORT_CANDIDATES", "MASKD_TAB_URL_FILTER", "MASKD_ROUTES_FILE",
	"MASKD_SETTINGS_DB", "MASKD_FIXTURE_DIR", "MASKD_JOURNAL_DIR", "MASKD_JOURNAL_MAX_MB",
	"MASKD_HANDSHAKE_ATTEMPTS",
	"MASKD_HANDSHAKE_INTERVAL", "MASKD_MAX_FLUSH_ROUNDS", "MASKD_LAUNCH_BROWSER",
	"MASKD_START_URL", "MASKD_PROFILE_DIR", "MASKD_BROWSER_PATH", "LOG_LEVEL", "LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range maskdKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.CDPURL(), "http://127.0.0.1:9220"; got != want {
		t.Fatalf("CDPURL() = %q; want %q", got, want)
	}
	if cfg.BindAddr != "127.0.0.1:8190" || !cfg.PortAutoFallback {
		t.Fatalf("bind = %q fallback = %v; want 127.0.0.1:8190 true", cfg.BindAddr, cfg.PortAutoFallback)
	}
	wantCandidates := []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}
	if diff := cmp.Diff(wantCandidates, cfg.PortCandidates); diff != "" {
		t.Fatalf("PortCandidates mismatch (-want +got):\n%s", diff)
	}
	if cfg.TabURLFilter != "fidelity.com" {
		t.Fatalf("TabURLFilter = %q; want fidelity.com", cfg.TabURLFilter)
	}
	if cfg.HandshakeAttempts != 5 || cfg.HandshakeInterval != 500*time.Millisecond {
		t.Fatalf("handshake = %d/%s; want 5/500ms", cfg.HandshakeAttempts, cfg.HandshakeInterval)
	}
	if cfg.JournalDir != "./data/journal" || cfg.JournalMaxMB != 25 {
		t.Fatalf("journal = %q/%d; want ./data/journal/25", cfg.JournalDir, cfg.JournalMaxMB)
	}
	if cfg.MaxFlushRounds != 32 {
		t.Fatalf("MaxFlushRounds = %d; want 32", cfg.MaxFlushRounds)
	}
	if cfg.RoutesFile != "" || cfg.LaunchBrowser {
		t.Fatalf("RoutesFile = %q LaunchBrowser = %v; want empty false", cfg.RoutesFile, cfg.LaunchBrowser)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("SlogLevel() = %v; want info", cfg.SlogLevel())
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("MASKD_HANDSHAKE_INTERVAL", "750")
	t.Setenv("MASKD_LAUNCH_BROWSER", "true")
	t.Setenv("MASKD_ROUTES_FILE", "/etc/maskd/routes.yaml")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MASKD_PORT_CANDIDATES", " 127.0.0.1:9001, ,127.0.0.1:9002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.CDPURL(), "http://127.0.0.1:9333"; got != want {
		t.Fatalf("CDPURL() = %q; want %q", got, want)
	}
	if cfg.HandshakeInterval != 750*time.Millisecond {
		t.Fatalf("HandshakeInterval = %s; want 750ms", cfg.HandshakeInterval)
	}
	if !cfg.LaunchBrowser {
		t.Fatal("LaunchBrowser = false; want true")
	}
	if cfg.RoutesFile != "/etc/maskd/routes.yaml" {
		t.Fatalf("RoutesFile = %q", cfg.RoutesFile)
	}
	if diff := cmp.Diff([]string{"127.0.0.1:9001", "127.0.0.1:9002"}, cfg.PortCandidates); diff != "" {
		t.Fatalf("PortCandidates mismatch (-want +got):\n%s", diff)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel() = %v; want debug", cfg.SlogLevel())
	}
}

func TestUnparsableValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHROMIUM_CDP_PORT", "nine")
	t.Setenv("MASKD_HANDSHAKE_INTERVAL", "soon")
	t.Setenv("MASKD_PORT_AUTO_FALLBACK", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9220 || cfg.HandshakeInterval != 500*time.Millisecond || !cfg.PortAutoFallback {
		t.Fatalf("got port %d interval %s fallback %v; want defaults", cfg.CDPPort, cfg.HandshakeInterval, cfg.PortAutoFallback)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{"CHROMIUM_CDP_PORT": "70000"}},
		{"attempts", map[string]string{"MASKD_HANDSHAKE_ATTEMPTS": "0"}},
		{"interval", map[string]string{"MASKD_HANDSHAKE_INTERVAL": "-1s"}},
		{"flush rounds", map[string]string{"MASKD_MAX_FLUSH_ROUNDS": "-3"}},
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil; want error for %v", tt.env)
			}
		})
	}
}
