package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaskdConfig holds all configuration for the maskd daemon.
type MaskdConfig struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// Control API
	BindAddr         string
	PortAutoFallback bool
	PortCandidates   []string

	// Data files
	RoutesFile string
	SettingsDB string
	FixtureDir string
	// JournalDir receives relayed messages as JSON lines. Empty disables it.
	JournalDir   string
	JournalMaxMB int

	// Relay handshake
	HandshakeAttempts int
	HandshakeInterval time.Duration

	// Engine
	MaxFlushRounds int

	// Browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
	BrowserPath   string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*MaskdConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &MaskdConfig{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:      getEnvOrDefault("MASKD_TAB_URL_FILTER", "fidelity.com"),
		BindAddr:          getEnvOrDefault("MASKD_BIND_ADDR", "127.0.0.1:8190"),
		PortAutoFallback:  getEnvBoolOrDefault("MASKD_PORT_AUTO_FALLBACK", true),
		PortCandidates:    getEnvListOrDefault("MASKD_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193"),
		RoutesFile:        getEnvOrDefault("MASKD_ROUTES_FILE", ""),
		SettingsDB:        getEnvOrDefault("MASKD_SETTINGS_DB", "./data/settings.db"),
		FixtureDir:        getEnvOrDefault("MASKD_FIXTURE_DIR", "./data/fixtures"),
		JournalDir:        getEnvOrDefault("MASKD_JOURNAL_DIR", "./data/journal"),
		JournalMaxMB:      getEnvIntOrDefault("MASKD_JOURNAL_MAX_MB", 25),
		HandshakeAttempts: getEnvIntOrDefault("MASKD_HANDSHAKE_ATTEMPTS", 5),
		HandshakeInterval: getEnvDurationOrDefault("MASKD_HANDSHAKE_INTERVAL", 500*time.Millisecond),
		MaxFlushRounds:    getEnvIntOrDefault("MASKD_MAX_FLUSH_ROUNDS", 32),
		LaunchBrowser:     getEnvBoolOrDefault("MASKD_LAUNCH_BROWSER", false),
		StartURL:          getEnvOrDefault("MASKD_START_URL", "https://digital.fidelity.com/ftgw/digital/portfolio/summary"),
		ProfileDir:        getEnvOrDefault("MASKD_PROFILE_DIR", "./data/chromium-profile"),
		BrowserPath:       getEnvOrDefault("MASKD_BROWSER_PATH", ""),
		LogLevel:          strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("LOG_FILE", "logs/maskd.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values maskd cannot run with.
func (c *MaskdConfig) Validate() error {
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	if c.BindAddr == "" {
		return fmt.Errorf("config: MASKD_BIND_ADDR is empty")
	}
	if c.HandshakeAttempts < 1 {
		return fmt.Errorf("config: MASKD_HANDSHAKE_ATTEMPTS must be at least 1, got %d", c.HandshakeAttempts)
	}
	if c.HandshakeInterval <= 0 {
		return fmt.Errorf("config: MASKD_HANDSHAKE_INTERVAL must be positive, got %s", c.HandshakeInterval)
	}
	if c.MaxFlushRounds < 1 {
		return fmt.Errorf("config: MASKD_MAX_FLUSH_ROUNDS must be at least 1, got %d", c.MaxFlushRounds)
	}
	if _, ok := levels[c.LogLevel]; !ok {
		return fmt.Errorf("config: unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LogLevel onto slog. Unknown names fall back to info.
func (c *MaskdConfig) SlogLevel() slog.Level {
	if l, ok := levels[c.LogLevel]; ok {
		return l
	}
	return slog.LevelInfo
}

// CDPURL returns the CDP HTTP endpoint.
func (c *MaskdConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key, defaultVal string) []string {
	var out []string
	for _, part := range strings.Split(getEnvOrDefault(key, defaultVal), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDurationOrDefault accepts Go durations ("750ms") or bare
// milliseconds ("750").
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
