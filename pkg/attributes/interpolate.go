package attributes

import (
	"fmt"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// resolve returns the interpolated value of path. stack holds the paths
// currently being resolved and is used for cycle detection. Callers hold mu.
func (s *Store) resolve(path string, stack []string) (interface{}, error) {
	if v, ok := s.cache[path]; ok {
		return v, nil
	}
	for i, p := range stack {
		if p == path {
			cycle := append(append([]string{}, stack[i:]...), path)
			return nil, engine.NewInterpolationCycleError(cycle)
		}
	}

	raw := s.v.Get(path)
	if raw == nil {
		referencedBy := ""
		if len(stack) > 0 {
			referencedBy = stack[len(stack)-1]
		}
		return nil, engine.NewMissingAttributeError(path, referencedBy)
	}

	value, err := s.interpolateValue(path, raw, append(stack, path))
	if err != nil {
		return nil, err
	}
	s.cache[path] = value
	return value, nil
}

func (s *Store) interpolateValue(path string, raw interface{}, stack []string) (interface{}, error) {
	switch v := raw.(type) {
	case string:
		return s.interpolateString(path, v, stack)
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := s.interpolateString(path, item, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := s.interpolateValue(path, item, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k := range v {
			resolved, err := s.resolve(path+"."+strings.ToLower(k), stack[:len(stack)-1])
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}

// interpolateString expands ${path} references. A string that is exactly one
// reference takes the referenced value with its type.
func (s *Store) interpolateString(path, str string, stack []string) (interface{}, error) {
	if !strings.Contains(str, "${") {
		return str, nil
	}

	var sb strings.Builder
	rest := str
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			sb.WriteString(rest)
			break
		}
		if i > 0 && rest[i-1] == '$' {
			sb.WriteString(rest[:i-1])
			sb.WriteString("${")
			rest = rest[i+2:]
			continue
		}
		end := strings.Index(rest[i:], "}")
		if end < 0 {
			return nil, engine.NewConfigError(
				fmt.Sprintf("unterminated reference in %q", str), nil,
			).WithCode(engine.ErrCodeInvalidAttribute).WithDetail("path", path)
		}
		ref := normalize(rest[i+2 : i+end])
		if ref == "" {
			return nil, engine.NewConfigError(
				fmt.Sprintf("empty reference in %q", str), nil,
			).WithCode(engine.ErrCodeInvalidAttribute).WithDetail("path", path)
		}

		value, err := s.resolve(ref, stack)
		if err != nil {
			return nil, err
		}
		if i == 0 && end == len(rest)-1 && sb.Len() == 0 && rest == str {
			return value, nil
		}
		sb.WriteString(rest[:i])
		sb.WriteString(stringify(value))
		rest = rest[i+end+1:]
	}
	return sb.String(), nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
