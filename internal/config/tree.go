package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// envKeys is the allow-list of environment variables and the dotted keys they override.
var envKeys = map[string]string{
	"OUTREACH_SERVER_ADDR":             "server.addr",
	"OUTREACH_SQLITE_PATH":             "storage.sqlitePath",
	"OUTREACH_PROCESSING_INTERVAL_MS":  "global.processingIntervalMs",
	"OUTREACH_MAX_CONCURRENT_TASKS":    "global.maxConcurrentTasks",
	"OUTREACH_SIMULATE":                "global.simulate",
	"OUTREACH_GLOBAL_ACTIONS_PER_HOUR": "safety.global.actionsPerHour",
	"OUTREACH_GLOBAL_ACTIONS_PER_DAY":  "safety.global.actionsPerDay",
	"OUTREACH_PUBLISHER_BASE_URL":      "publisher.baseURL",
	"OUTREACH_GENERATOR_BASE_URL":      "generator.baseURL",
	"OUTREACH_GENERATOR_API_KEY":       "generator.apiKey",
}

// EnvKeys returns the supported environment variables, sorted.
func EnvKeys() []string {
	out := make([]string, 0, len(envKeys))
	for k := range envKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func defaultTree() (map[string]any, error) {
	b, err := yaml.Marshal(Defaults())
	if err != nil {
		return nil, err
	}
	return parseTree(b)
}

func parseTree(b []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidConfig)
	}
	return m, nil
}

// normalize converts yaml's generic maps into map[string]any all the way down.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = normalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalize(vv)
		}
		return out
	default:
		return v
	}
}

// canonical round-trips an arbitrary Go value through YAML so stored values have one shape.
func canonical(v any) (any, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return normalize(out), nil
}

func cloneTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneTree(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// mergeTree merges src into dst. Maps merge recursively, everything else replaces.
func mergeTree(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeTree(dm, sm)
				continue
			}
			dst[k] = cloneTree(sm)
			continue
		}
		dst[k] = cloneValue(v)
	}
}

func splitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnknownPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
		}
	}
	return parts, nil
}

func lookupPath(tree map[string]any, path string) (any, bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(tree map[string]any, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := canonical(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	cur := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func applyOverrides(tree map[string]any, overrides map[string]any) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := canonical(overrides[k])
		if err != nil {
			return fmt.Errorf("override %s: %w", k, err)
		}
		if vm, ok := v.(map[string]any); ok {
			if existing, found := lookupPath(tree, k); found {
				if em, ok := existing.(map[string]any); ok {
					mergeTree(em, vm)
					continue
				}
			}
		}
		if err := setPath(tree, k, v); err != nil {
			return err
		}
	}
	return nil
}

func applyEnv(tree map[string]any, lookup func(string) (string, bool)) error {
	for _, name := range EnvKeys() {
		raw, ok := lookup(name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil || v == nil {
			v = strings.TrimSpace(raw)
		}
		if err := setPath(tree, envKeys[name], v); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}
