package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRemotePath is the Yandex Disk folder the vault is mirrored into
// when REMOTE_PATH is not set.
const DefaultRemotePath = "ObsidianSync"

// Config holds all environment-based configuration for vault-mirror.
type Config struct {
	// Yandex Disk OAuth token. Checked per run, not at load time.
	OAuthToken string `env:"YANDEX_OAUTH_TOKEN"`

	// Remote folder on Yandex Disk. Joined to file paths with "/".
	RemotePath string `env:"REMOTE_PATH" envDefault:"ObsidianSync"`

	// Local vault directory to mirror.
	VaultDir string `env:"VAULT_DIR"`

	// Upload workers per run.
	Concurrency int `env:"CONCURRENCY" envDefault:"5"`

	// Timeout applied to every HTTP request made to Yandex Disk.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// Page size for the remote file listing.
	ListPageSize int `env:"LIST_PAGE_SIZE" envDefault:"1000"`

	// When true a failed remote listing aborts the run. Otherwise the
	// remote side is treated as empty and everything is uploaded.
	AbortOnListError bool `env:"ABORT_ON_LIST_ERROR" envDefault:"false"`

	// How long the final summary notice stays visible.
	NoticeDismissAfter time.Duration `env:"NOTICE_DISMISS_AFTER" envDefault:"5s"`

	// Watch mode keeps the process running and resyncs on local changes.
	Watch         bool          `env:"WATCH" envDefault:"false"`
	WatchDebounce time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s"`

	// Address for the Prometheus /metrics endpoint. Empty disables it.
	MetricsAddr string `env:"METRICS_ADDR"`

	// Run history database. Defaults to ~/.vault-mirror/state.db.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The file usually holds the OAuth token.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.OAuthToken = strings.TrimSpace(cfg.OAuthToken)
	cfg.RemotePath = strings.TrimSpace(cfg.RemotePath)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.VaultDir)
	if err != nil {
		return nil, fmt.Errorf("resolving vault dir to absolute path: %w", err)
	}

	cfg.VaultDir = absDir

	if cfg.StatePath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.VaultDir == "" {
		return fmt.Errorf("VAULT_DIR is required")
	}

	if c.RemotePath == "" {
		return fmt.Errorf("REMOTE_PATH must not be empty")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}

	if c.ListPageSize < 1 {
		return fmt.Errorf("LIST_PAGE_SIZE must be at least 1, got %d", c.ListPageSize)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.Watch && c.WatchDebounce <= 0 {
		return fmt.Errorf("WATCH_DEBOUNCE must be positive when WATCH is enabled")
	}

	return nil
}

// DefaultStatePath returns ~/.vault-mirror/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".vault-mirror", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StatePathFromEnv returns STATE_PATH (after loading .env) or the default
// state path. It skips the rest of the config so read-only commands work
// without VAULT_DIR.
func StatePathFromEnv() (string, error) {
	_ = godotenv.Load()

	if path := strings.TrimSpace(os.Getenv("STATE_PATH")); path != "" {
		return path, nil
	}

	return DefaultStatePath()
}
