package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".multiclube"

// Paths holds resolved filesystem paths for multiclube data.
type Paths struct {
	Base   string // ~/.multiclube
	Config string // ~/.multiclube/config.yaml
	Env    string // ~/.multiclube/.env
	Logs   string // ~/.multiclube/logs
	Data   string // ~/.multiclube/data
}

// ResolvePaths computes all standard paths from the home directory.
// If MULTICLUBE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("MULTICLUBE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Env:    filepath.Join(base, ".env"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the SQLite path used for completed sales, honouring
// an explicit store.path.
func (p Paths) DatabasePath(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "multiclube.db")
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath stores value at path, creating intermediate maps and
// replacing any non-map value that sits in the way.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	last := len(path) - 1
	for _, key := range path[:last] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[last]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it was
// present.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent := root
	last := len(path) - 1
	if last > 0 {
		v, ok := GetValueAtPath(root, path[:last])
		if !ok {
			return false
		}
		if parent, ok = v.(map[string]any); !ok {
			return false
		}
	}
	if _, ok := parent[path[last]]; !ok {
		return false
	}
	delete(parent, path[last])
	return true
}
