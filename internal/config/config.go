// Package config loads runtime configuration: defaults, then an optional
// YAML file, then environment variables, then command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `koanf:"port"`
	// DB is the SQLite database path.
	DB string `koanf:"db"`
	// DataDir is the watched directory where export files arrive.
	DataDir string `koanf:"data_dir"`
	// Sources are extra export locations: local directories or git remotes.
	Sources []string `koanf:"sources"`
	// ReposDir is where git sources keep their local checkouts.
	ReposDir string `koanf:"repos_dir"`
}

const envPrefix = "DIARIO_"

var defaults = map[string]any{
	"port":      8458,
	"db":        "diario.db",
	"data_dir":  "data",
	"repos_dir": "repos",
}

// Load resolves the configuration. The config file named by the "config"
// flag (or DIARIO_CONFIG) is optional; a missing default file is ignored.
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		k.Set(key, value)
	}

	path := "diario.yml"
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		path = f.Value.String()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !strings.Contains(err.Error(), "no such file") {
		return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	// Flag names use dashes (--data-dir); config keys use underscores.
	flagProvider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	})
	if err := k.Load(flagProvider, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
