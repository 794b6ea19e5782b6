// Package config loads the daemon's TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values like "30s" or "10m" decode
// directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration (~/.chatdesk/config.toml).
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`

	Provider ProviderConfig `toml:"provider"`
	Session  SessionConfig  `toml:"session"`
	Send     SendConfig     `toml:"send"`
	Response ResponseConfig `toml:"response"`
}

// ProviderConfig points at the hosted messaging backend.
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// SessionConfig controls the credential validity probe.
type SessionConfig struct {
	ProbeURL      string   `toml:"probe_url"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// SendConfig controls the outbound dispatch path.
type SendConfig struct {
	Timeout Duration `toml:"timeout"`
}

// ResponseConfig controls attention-status derivation.
type ResponseConfig struct {
	// InProgressWindow separates "agent still working" from "waiting on
	// agent" after an outbound message. Deliberately tunable: there is no
	// product-confirmed constant for it.
	InProgressWindow Duration `toml:"in_progress_window"`
}

// Default returns the configuration used when no file overrides exist.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8870",
		DataDir:    defaultDataDir(),
		Session: SessionConfig{
			ProbeInterval: Duration(30 * time.Second),
			ProbeTimeout:  Duration(5 * time.Second),
		},
		Send: SendConfig{
			Timeout: Duration(15 * time.Second),
		},
		Response: ResponseConfig{
			InProgressWindow: Duration(10 * time.Minute),
		},
	}
}

// Load reads config from path on top of defaults. A missing file is an
// error; callers that accept absence should stat first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the SQLite database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "chatdesk.db")
}

// LogPath returns the daemon log file location under the data dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "chatdeskd.log")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatdesk"
	}
	return filepath.Join(home, ".chatdesk")
}
