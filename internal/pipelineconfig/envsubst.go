package pipelineconfig

import (
	"os"
	"strings"
)

const envPrefix = "env:"

// resolveEnv recursively walks a decoded YAML tree (maps, slices, scalars)
// and replaces environment variable references in every string found.
//
// This is a direct port of _resolve_env / _resolve_env_string from the
// Python configuration manager this store replaces: a whole-value match
// against "env:VAR_NAME" resolves the entire string to the variable's
// value (or "" if unset); anything else is scanned left to right for
// "${VAR_NAME}" placeholders, each replaced in turn. An unterminated
// "${" is passed through literally rather than treated as an error.
func resolveEnv(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = resolveEnv(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = resolveEnv(vv)
		}
		return out
	case string:
		return resolveEnvString(val)
	default:
		return v
	}
}

func resolveEnvString(value string) string {
	if strings.HasPrefix(value, envPrefix) {
		varName := strings.TrimSpace(strings.TrimPrefix(value, envPrefix))
		return os.Getenv(varName)
	}

	var b strings.Builder
	idx := 0
	for idx < len(value) {
		start := strings.Index(value[idx:], "${")
		if start == -1 {
			b.WriteString(value[idx:])
			break
		}
		start += idx
		b.WriteString(value[idx:start])

		end := strings.Index(value[start:], "}")
		if end == -1 {
			b.WriteString(value[start:])
			break
		}
		end += start

		varName := strings.TrimSpace(value[start+2 : end])
		b.WriteString(os.Getenv(varName))
		idx = end + 1
	}
	return b.String()
}
