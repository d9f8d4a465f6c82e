package plugin

import (
	"encoding/json"
	"hash/fnv"
)

// effectiveConfigHash hashes a plugin's raw config blob with map keys
// canonicalized, so formatting-only edits don't trigger a restart.
func effectiveConfigHash(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashString(string(raw))
	}
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		return hashString(string(raw))
	}
	return hashString(string(b))
}

// canonicalize rebuilds nested maps so json.Marshal emits sorted keys.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = canonicalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = canonicalize(vv)
		}
		return out
	default:
		return v
	}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
