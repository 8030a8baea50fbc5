package attributes

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	starlarkTimeout  = 10 * time.Second
	starlarkMaxSteps = 10_000_000
)

// readStarlarkFile executes an attribute script. Every public top-level
// global becomes an attribute subtree, so
//
//	etcd = {"version": "3.4.3"}
//
// overrides etcd.version. Scripts read the layers merged before them with
// attr("path") and attr("path", default).
func (s *Store) readStarlarkFile(path string) (map[string]interface{}, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name:  "attributes",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(starlarkMaxSteps)
	timer := time.AfterFunc(starlarkTimeout, func() {
		thread.Cancel(fmt.Sprintf("timed out after %s", starlarkTimeout))
	})
	defer timer.Stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"attr":   starlark.NewBuiltin("attr", s.starlarkAttr),
	}

	globals, err := starlark.ExecFile(thread, path, src, predeclared)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("starlark: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark: %w", err)
	}

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		if name[0] == '_' {
			continue
		}
		if _, isFunc := globals[name].(starlark.Callable); isFunc {
			continue
		}
		v, err := fromStarlark(globals[name])
		if err != nil {
			return nil, fmt.Errorf("starlark global %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// starlarkAttr implements attr(path, default=None).
func (s *Store) starlarkAttr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var def starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "default?", &def); err != nil {
		return nil, err
	}

	if !s.Has(path) && def != nil {
		return def, nil
	}
	v, err := s.Get(path)
	if err != nil {
		return nil, err
	}
	return toStarlark(v)
}

func toStarlark(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", v)
	}
}

func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		m := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			gv, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			m[string(key)] = gv
		}
		return m, nil
	case *starlarkstruct.Struct:
		m := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			m[name] = gv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	out := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		gv, err := fromStarlark(x)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}
