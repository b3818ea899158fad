package ingestion

import (
	"strings"

	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

const flattenSeparator = "_"

// Flatten collapses nested objects into one level, joining keys with "_".
// Keys are lowercased and characters outside [a-z0-9_] become "_". Arrays
// are stored as their JSON text. Only objects can be flattened.
func Flatten(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, domain.ErrValidation("record must be a JSON object, got %s", kindOf(v))
	}
	out := make(map[string]any, len(obj))
	if err := flattenInto(out, "", obj); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]any, prefix string, obj map[string]any) error {
	for k, v := range obj {
		key := formatKey(k)
		if prefix != "" {
			key = prefix + flattenSeparator + key
		}
		switch val := v.(type) {
		case map[string]any:
			if err := flattenInto(out, key, val); err != nil {
				return err
			}
		case []any:
			b, err := json.Marshal(val)
			if err != nil {
				return domain.ErrValidation("field %q: %v", key, err)
			}
			out[key] = string(b)
		case json.Number:
			out[key] = numberValue(val)
		default:
			out[key] = val
		}
	}
	return nil
}

func formatKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// numberValue prefers int64 and falls back to float64.
func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int64:
		return "number"
	default:
		return "value"
	}
}
