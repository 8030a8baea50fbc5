package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/config"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/recipes"
	"github.com/openfroyo/rancherhost/pkg/stores"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigHint = config.DefaultPath

// loadSettings resolves the settings for cmd from the config file,
// environment and flags.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if verbose {
		s.LogLevel = "debug"
	}
	if level, err := zerolog.ParseLevel(s.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if s.Source != "" {
		log.Debug().Str("path", s.Source).Msg("Settings loaded")
	}
	return s, nil
}

// loadAttributes layers attribute files and overrides over the defaults.
func loadAttributes(s *config.Settings) (*attributes.Store, error) {
	store := attributes.New()
	if err := store.LoadFiles(s.AttributeFiles...); err != nil {
		return nil, err
	}
	for _, o := range s.Overrides {
		if err := store.SetString(o); err != nil {
			return nil, err
		}
	}
	if len(s.RunList) > 0 {
		list := make([]interface{}, len(s.RunList))
		for i, r := range s.RunList {
			list[i] = r
		}
		store.Set("run_list", list)
	}
	return store, nil
}

// compile resolves attributes and builds the declaration list. Nothing on
// the host is touched.
func compile(s *config.Settings) (*attributes.Attributes, []*engine.Declaration, error) {
	store, err := loadAttributes(s)
	if err != nil {
		return nil, nil, err
	}
	attrs, err := store.Decode()
	if err != nil {
		return nil, nil, err
	}
	decls, err := recipes.Compile(attrs)
	if err != nil {
		return nil, nil, err
	}

	log.Debug().
		Strs("run_list", attrs.RunList).
		Int("declarations", len(decls)).
		Msg("Declarations compiled")
	return attrs, decls, nil
}

// openHistory opens the run history database, or returns nil when history
// is disabled.
func openHistory(cmd *cobra.Command, s *config.Settings) (*stores.SQLiteStore, error) {
	path := s.StateDBPath()
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return stores.Open(cmd.Context(), path)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
