package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RANCHERHOST_STATE_DB.
const EnvPrefix = "RANCHERHOST"

// flagNames maps settings keys to the command-line flags that set them.
var flagNames = map[string]string{
	"attribute_files":  "attributes",
	"set":              "set",
	"run_list":         "run-list",
	"root":             "root",
	"state_db":         "state-db",
	"keep_runs":        "keep-runs",
	"policies":         "policy",
	"download_retries": "download-retries",
	"manage_ownership": "manage-ownership",
	"log_level":        "log-level",
	"trace_exporter":   "trace-exporter",
	"otlp_endpoint":    "otlp-endpoint",
	"metrics_textfile": "metrics-textfile",
	"metrics_listen":   "metrics-listen",
	"watch_debounce":   "debounce",
}

// Load resolves settings from, lowest precedence first: Defaults, the
// config file, RANCHERHOST_* environment variables and flags. An explicit
// path must exist; otherwise DefaultPath is read only if present. flags may
// be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagNames {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, engine.NewInternalError("failed to bind flag "+name, err)
				}
			}
		}
	}

	source, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if source != "" {
		v.SetConfigFile(source)
		if err := v.ReadInConfig(); err != nil {
			return nil, engine.NewConfigError(fmt.Sprintf("failed to read config file %s", source), err)
		}
	}

	var s Settings
	if err := v.UnmarshalExact(&s); err != nil {
		return nil, engine.NewConfigError("failed to decode settings", err)
	}
	s.Source = source
	if source != "" {
		s.relativeTo(filepath.Dir(source), v, flags)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", engine.NewConfigError(fmt.Sprintf("config file %s", path), err)
		}
		return path, nil
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", engine.NewConfigError(fmt.Sprintf("config file %s", DefaultPath), err)
	}
	return "", nil
}

// relativeTo anchors relative paths that came from the config file at dir.
// Paths given as flags or environment stay relative to the working directory.
func (s *Settings) relativeTo(dir string, v *viper.Viper, flags *pflag.FlagSet) {
	fromFile := func(key string) bool {
		if !v.InConfig(key) {
			return false
		}
		if _, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(key)); ok {
			return false
		}
		if flags != nil {
			if f := flags.Lookup(flagNames[key]); f != nil && f.Changed {
				return false
			}
		}
		return true
	}
	anchor := func(paths []string) {
		for i, p := range paths {
			if p != "" && !filepath.IsAbs(p) {
				paths[i] = filepath.Join(dir, p)
			}
		}
	}

	if fromFile("attribute_files") {
		anchor(s.AttributeFiles)
	}
	if fromFile("policies") {
		anchor(s.Policies)
	}
}
