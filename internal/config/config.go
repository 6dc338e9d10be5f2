// Package config loads ipvwatch settings from the environment and the
// user options file.
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

// Config holds process configuration. Every field has an environment
// variable; command line flags override them in cmd/ipvwatch.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Optional local browser
	LaunchBrowser  bool
	BrowserProfile string
	BrowserBinary  string

	// HTTP API
	BindAddr string

	// Logging
	LogLevel string
	LogFile  string

	// Storage
	DataDir       string
	JournalDir    string
	JournalSizeMB int
	IPCache       bool
	IPCacheLimit  int

	// User options and badge glyphs
	OptionsFile string
	GlyphFile   string

	// Tracking behavior
	PollInterval   time.Duration
	Hold           time.Duration
	BirthGrace     time.Duration
	DomainCap      int
	CompactTooltip bool
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:     getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:        getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser:  getEnvBoolOrDefault("IPVWATCH_LAUNCH_BROWSER", false),
		BrowserProfile: getEnvOrDefault("IPVWATCH_BROWSER_PROFILE", "./ipvwatch_data/profile"),
		BrowserBinary:  getEnvOrDefault("IPVWATCH_BROWSER_BINARY", ""),
		BindAddr:       getEnvOrDefault("IPVWATCH_BIND_ADDR", "127.0.0.1:8190"),
		LogLevel:       strings.ToLower(getEnvOrDefault("IPVWATCH_LOG_LEVEL", "info")),
		LogFile:        getEnvOrDefault("IPVWATCH_LOG_FILE", "logs/ipvwatch.log"),
		DataDir:        getEnvOrDefault("IPVWATCH_DATA_DIR", "./ipvwatch_data"),
		JournalDir:     getEnvOrDefault("IPVWATCH_JOURNAL_DIR", ""),
		JournalSizeMB:  getEnvIntOrDefault("IPVWATCH_JOURNAL_SIZE_MB", 100),
		IPCache:        getEnvBoolOrDefault("IPVWATCH_IP_CACHE", true),
		IPCacheLimit:   getEnvIntOrDefault("IPVWATCH_IP_CACHE_LIMIT", 1024),
		OptionsFile:    getEnvOrDefault("IPVWATCH_OPTIONS_FILE", "ipvwatch.yaml"),
		GlyphFile:      getEnvOrDefault("IPVWATCH_GLYPH_FILE", ""),
		PollInterval:   getEnvDurationOrDefault("IPVWATCH_POLL_INTERVAL", 5*time.Minute),
		Hold:           getEnvDurationOrDefault("IPVWATCH_HOLD", 500*time.Millisecond),
		BirthGrace:     getEnvDurationOrDefault("IPVWATCH_BIRTH_GRACE", 60*time.Second),
		DomainCap:      getEnvIntOrDefault("IPVWATCH_DOMAIN_CAP", 256),
		CompactTooltip: getEnvBoolOrDefault("IPVWATCH_COMPACT_TOOLTIP", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the tracker cannot run with.
func (c *Config) Validate() error {
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("invalid CDP port %d", c.CDPPort)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s is below 1s", c.PollInterval)
	}
	if c.Hold <= 0 {
		return fmt.Errorf("hold %s must be positive", c.Hold)
	}
	if c.DomainCap < 1 {
		return fmt.Errorf("domain cap %d must be at least 1", c.DomainCap)
	}
	if c.IPCacheLimit < 1 {
		return fmt.Errorf("ip cache limit %d must be at least 1", c.IPCacheLimit)
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
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

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
