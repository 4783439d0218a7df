// Package config loads gavran's runtime configuration the way
// tuannm99/novasql loads its storage/server config: a viper.Viper
// layering defaults, an optional file, and environment overrides,
// unmarshalled into a typed struct.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of knobs gavran's cmd/gavran CLI (and any
// embedder) reads at startup.
type Config struct {
	Database struct {
		Path         string `mapstructure:"path"`
		InitialPages uint64 `mapstructure:"initial_pages"`
		ReadOnly     bool   `mapstructure:"read_only"`
	} `mapstructure:"database"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load builds a Config from, in increasing precedence: built-in
// defaults, an optional config file at path (skipped if empty or
// missing), and GAVRAN_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("gavran")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.path", "gavran.db")
	v.SetDefault("database.initial_pages", 16)
	v.SetDefault("database.read_only", false)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
