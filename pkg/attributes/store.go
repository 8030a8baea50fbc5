// Package attributes holds the layered attribute tree that recipes read.
//
// Layers, lowest precedence first: built-in defaults, override files in the
// order given, then key=value overrides from the command line. String values
// may reference other attributes with ${path}; "$${" yields a literal "${".
// References are resolved lazily, memoized, and checked for cycles.
package attributes

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/spf13/viper"
)

// Store is the layered attribute tree of one run.
type Store struct {
	mu    sync.Mutex
	v     *viper.Viper
	cache map[string]interface{}

	// sources records which override layers were merged, for diagnostics.
	sources []string
}

// New creates a store seeded with Defaults.
func New() *Store {
	return NewWithDefaults(Defaults())
}

// NewWithDefaults creates a store seeded with the given default tree.
func NewWithDefaults(defaults map[string]interface{}) *Store {
	v := viper.New()
	for path, value := range flatten("", defaults) {
		v.SetDefault(path, value)
	}
	return &Store{
		v:     v,
		cache: make(map[string]interface{}),
	}
}

// Set overrides a single path. It has the highest precedence.
func (s *Store) Set(path string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(path, value)
	s.sources = append(s.sources, "set:"+path)
	s.reset()
}

// SetString parses an override of the form "a.b.c=value".
func (s *Store) SetString(assignment string) error {
	path, value, ok := strings.Cut(assignment, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return engine.NewConfigError(fmt.Sprintf("invalid attribute override %q, expected path=value", assignment), nil).
			WithCode(engine.ErrCodeInvalidAttribute)
	}
	s.Set(path, value)
	return nil
}

// Merge layers a nested map over the current values.
func (s *Store) Merge(source string, values map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.MergeConfigMap(values); err != nil {
		return engine.NewConfigError(fmt.Sprintf("failed to merge attributes from %s", source), err).
			WithCode(engine.ErrCodeInvalidAttribute)
	}
	s.sources = append(s.sources, source)
	s.reset()
	return nil
}

// Sources lists the override layers merged so far, in order.
func (s *Store) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sources))
	copy(out, s.sources)
	return out
}

// Get returns the fully interpolated value at path.
func (s *Store) Get(path string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(normalize(path), nil)
}

// GetString returns the value at path formatted as a string.
func (s *Store) GetString(path string) (string, error) {
	v, err := s.Get(path)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// Has reports whether path is set in any layer.
func (s *Store) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Get(normalize(path)) != nil
}

// Keys returns every leaf path, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// ResolveAll interpolates every leaf and returns the nested tree. Any missing
// reference or cycle is reported here, before a declaration is built.
func (s *Store) ResolveAll() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.v.AllKeys()
	sort.Strings(keys)

	tree := make(map[string]interface{})
	for _, key := range keys {
		value, err := s.resolve(key, nil)
		if err != nil {
			return nil, err
		}
		setPath(tree, strings.Split(key, "."), value)
	}
	return tree, nil
}

// reset drops memoized values after a layer changed. Callers hold mu.
func (s *Store) reset() {
	s.cache = make(map[string]interface{})
}

func normalize(path string) string {
	return strings.ToLower(strings.TrimSpace(path))
}

// flatten turns a nested map into dotted leaf paths.
func flatten(prefix string, m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]interface{}); ok && len(child) > 0 {
			for ck, cv := range flatten(key, child) {
				out[ck] = cv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func setPath(tree map[string]interface{}, parts []string, value interface{}) {
	for i, part := range parts {
		if i == len(parts)-1 {
			tree[part] = value
			return
		}
		child, ok := tree[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			tree[part] = child
		}
		tree = child
	}
}
