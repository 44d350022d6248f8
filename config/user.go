package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// UserConfig holds per-user preferences kept outside the project manifest.
type UserConfig struct {
	Plain      bool   `toml:"plain"`       // disable the interactive progress view
	Theme      string `toml:"theme"`       // "dark" or "light"
	ServerAddr string `toml:"server_addr"` // default address for `slipway serve`
}

// DefaultUserConfigPath returns the default path for the user config file.
func DefaultUserConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "slipway", "config.toml")
}

// LoadUserConfig reads preferences from the given TOML file path. A missing
// file yields an empty config without error. Environment variables take
// precedence over file values:
//   - SLIPWAY_PLAIN       overrides plain ("1" or "true")
//   - SLIPWAY_THEME       overrides theme
//   - SLIPWAY_SERVER_ADDR overrides server_addr
func LoadUserConfig(path string) (UserConfig, error) {
	var cfg UserConfig
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return UserConfig{}, err
		}
	}
	applyUserEnvOverrides(&cfg)
	return cfg, nil
}

func applyUserEnvOverrides(cfg *UserConfig) {
	if v := os.Getenv("SLIPWAY_PLAIN"); v == "1" || v == "true" {
		cfg.Plain = true
	}
	if v := os.Getenv("SLIPWAY_THEME"); v != "" {
		cfg.Theme = v
	}
	if v := os.Getenv("SLIPWAY_SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
}
