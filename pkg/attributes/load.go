package attributes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/spf13/viper"
)

// LoadFile merges an override file into the store. YAML, JSON and TOML are
// read with viper; .cue files are evaluated and must be concrete; .star
// files are Starlark scripts that may read the layers below them.
func (s *Store) LoadFile(path string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	var values map[string]interface{}
	var err error
	switch ext {
	case "yaml", "yml", "json", "toml":
		values, err = readViperFile(path, ext)
	case "cue":
		values, err = readCUEFile(path)
	case "star":
		values, err = s.readStarlarkFile(path)
	default:
		return engine.NewConfigError(
			fmt.Sprintf("unsupported attribute file %s (want .yaml, .json, .toml, .cue or .star)", path), nil,
		).WithCode(engine.ErrCodeInvalidAttribute)
	}
	if err != nil {
		return engine.NewConfigError(fmt.Sprintf("failed to load attribute file %s", path), err).
			WithCode(engine.ErrCodeInvalidAttribute)
	}
	return s.Merge(path, values)
}

// LoadFiles merges files in order; later files win.
func (s *Store) LoadFiles(paths ...string) error {
	for _, p := range paths {
		if err := s.LoadFile(p); err != nil {
			return err
		}
	}
	return nil
}

func readViperFile(path, ext string) (map[string]interface{}, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if ext == "yml" {
		ext = "yaml"
	}
	v.SetConfigType(ext)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func readCUEFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("cue compile: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("cue validate: %w", err)
	}

	raw, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("cue export: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cue export: %w", err)
	}
	return out, nil
}
