// Package config loads application configuration from the config file and
// environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/codersaadi/passvault/internal/breach"
)

const (
	// AppName names the application directory under the user's home.
	AppName = "passvault"

	// FileName is the config file name inside the application directory.
	FileName = "config.json"

	// VaultFileName is the default vault file name.
	VaultFileName = "passwords.enc"
)

// Config holds the application configuration. Values come from, in order of
// increasing precedence: defaults, the JSON config file, a .env file in the
// working directory, and PASSVAULT_* environment variables.
type Config struct {
	VaultPath  string `json:"vault_path" env:"PASSVAULT_VAULT_PATH" validate:"required"`
	BackupDir  string `json:"backup_dir" env:"PASSVAULT_BACKUP_DIR" validate:"required"`
	ListenAddr string `json:"listen_addr" env:"PASSVAULT_LISTEN_ADDR" validate:"required,hostname_port"`

	BreachCheck      bool   `json:"breach_check" env:"PASSVAULT_BREACH_CHECK"`
	BreachAPIURL     string `json:"breach_api_url" env:"PASSVAULT_BREACH_API_URL" validate:"required,url"`
	BreachTimeoutSec int    `json:"breach_timeout_sec" env:"PASSVAULT_BREACH_TIMEOUT_SEC" validate:"min=1,max=120"`

	// SessionTimeout is the idle time, in minutes, after which an API
	// session expires.
	SessionTimeout int `json:"session_timeout" env:"PASSVAULT_SESSION_TIMEOUT" validate:"min=1"`

	LogLevel  string `json:"log_level" env:"PASSVAULT_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" env:"PASSVAULT_LOG_FORMAT" validate:"oneof=console json"`
}

// BreachTimeout returns the per-request breach check timeout.
func (c *Config) BreachTimeout() time.Duration {
	return time.Duration(c.BreachTimeoutSec) * time.Second
}

// SessionTTL returns the API session idle timeout.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Minute
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// AppDir returns the application directory, ~/.passvault.
func AppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	return filepath.Join(home, "."+AppName), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Default returns the default configuration with files under appDir.
func Default(appDir string) *Config {
	return &Config{
		VaultPath:        filepath.Join(appDir, VaultFileName),
		BackupDir:        filepath.Join(appDir, "backups"),
		ListenAddr:       "127.0.0.1:3200",
		BreachCheck:      true,
		BreachAPIURL:     breach.DefaultBaseURL,
		BreachTimeoutSec: 10,
		SessionTimeout:   15,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Load builds the configuration. An empty path selects DefaultPath. A missing
// config file or .env file is not an error.
func Load(path string) (*Config, error) {
	appDir, err := AppDir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(appDir, FileName)
	}
	cfg := Default(appDir)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "cannot parse config file %q", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "cannot load .env file")
	}
	if err := envdecode.StrictDecode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Wrap(err, "cannot decode environment")
	}
	cfg.VaultPath = expandHome(cfg.VaultPath)
	cfg.BackupDir = expandHome(cfg.BackupDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "cannot create config directory for %q", path)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode config")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "cannot write config file %q", path)
	}
	return nil
}

// EnsureFile writes the default configuration to path unless a file already
// exists there. It reports whether a file was written.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "cannot stat config file %q", path)
	}
	appDir, err := AppDir()
	if err != nil {
		return false, err
	}
	if err := Default(appDir).Save(path); err != nil {
		return false, err
	}
	return true, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
