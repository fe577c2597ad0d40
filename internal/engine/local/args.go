package local

import (
	"encoding/json"
	"math"

	"github.com/sneaker-boar/sneaker/internal/engine"
)

// Operation arguments arrive either as native Go values or as whatever
// encoding/json produced on the other side of an RPC boundary. The helpers
// below accept both shapes.

func wantArgs(op string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return engine.Errorf(engine.KindInvalidArguments, op,
				"%s takes %d argument(s), got %d", op, min, len(args))
		}
		return engine.Errorf(engine.KindInvalidArguments, op,
			"%s takes %d to %d arguments, got %d", op, min, max, len(args))
	}
	return nil
}

// present reports whether the optional argument at i was supplied and is not null.
func present(args []any, i int) bool {
	return i < len(args) && args[i] != nil
}

func argString(op string, args []any, i int, name string) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", badArg(op, name, "a string", args[i])
	}
	return s, nil
}

func argInt(op string, args []any, i int, name string) (int, error) {
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, badArg(op, name, "an integer", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, badArg(op, name, "an integer", v)
		}
		return int(n), nil
	default:
		return 0, badArg(op, name, "an integer", v)
	}
}

// argOptInt returns def when the argument at i is absent or null.
func argOptInt(op string, args []any, i int, name string, def int) (int, error) {
	if !present(args, i) {
		return def, nil
	}
	return argInt(op, args, i, name)
}

func argMap(op string, args []any, i int, name string) (map[string]any, error) {
	switch v := args[i].(type) {
	case map[string]any:
		return v, nil
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m, nil
	default:
		return nil, badArg(op, name, "an object", v)
	}
}

func argStringList(op string, args []any, i int, name string) ([]string, error) {
	switch v := args[i].(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, badArg(op, name, "a list of strings", v)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, badArg(op, name, "a list of strings", v)
	}
}

func badArg(op, name, want string, got any) error {
	return engine.Errorf(engine.KindInvalidArguments, op,
		"%s: argument %q must be %s, got %T", op, name, want, got)
}
