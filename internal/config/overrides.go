package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/pathq/internal/shared"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. PATHQ_SERVER_IP.
const EnvPrefix = "PATHQ_"

// fileConfig is the YAML config file. Keys are long flag names.
type fileConfig struct {
	Client map[string]any `yaml:"client"`
	Server map[string]any `yaml:"server"`
}

// loadFile reads the YAML config file.
func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", shared.ErrConfig, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file %s: %v", shared.ErrConfig, path, err)
	}
	return &cfg, nil
}

// envName returns the environment variable that overrides flag name.
func envName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// applyOverrides fills every flag not given on the command line from the
// environment, then from the config file section.
func applyOverrides(fs *flag.FlagSet, configPath, section string) error {
	var values map[string]any
	if configPath != "" {
		cfg, err := loadFile(configPath)
		if err != nil {
			return err
		}
		values = cfg.Client
		if section == "server" {
			values = cfg.Server
		}
	}

	// Reject unknown keys so typos in the file do not go unnoticed
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f := fs.Lookup(k); f == nil || skipOverride(k) {
			return fmt.Errorf("%w: unknown %s option %q in %s", shared.ErrConfig, section, k, configPath)
		}
	}

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || f.Changed || skipOverride(f.Name) {
			return
		}
		if v, ok := os.LookupEnv(envName(f.Name)); ok {
			if setErr := fs.Set(f.Name, v); setErr != nil {
				err = fmt.Errorf("%w: %s: %v", shared.ErrConfig, envName(f.Name), setErr)
			}
			return
		}
		if v, ok := values[f.Name]; ok {
			if setErr := fs.Set(f.Name, fmt.Sprint(v)); setErr != nil {
				err = fmt.Errorf("%w: %s in %s: %v", shared.ErrConfig, f.Name, configPath, setErr)
			}
		}
	})
	return err
}

func skipOverride(name string) bool {
	return name == "config" || name == "version" || name == "help"
}
