package loader

import (
	"os"
	"strings"
)

// DefaultEnvPrefix is the prefix of the daemon's environment variables.
const DefaultEnvPrefix = "LUMEN_"

// EnvLoader loads configuration from environment variables.
//
// Mapped variables go to their configured path. Any other prefixed
// variable is converted by section: LUMEN_PLUGINS_SHUTDOWN_GRACE becomes
// plugins.shutdownGrace.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates an environment loader for prefix with the default
// mappings for top-level keys.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		environ: os.Environ,
	}
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: mapping,
		environ: os.Environ,
	}
}

// defaultEnvMapping covers the keys that envToPath cannot derive: top-level
// keys containing underscores and the logging shorthands.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "INSTANCE":    "instance",
		prefix + "DATA_DIR":    "dataDir",
		prefix + "PLUGINS_DIR": "pluginsDir",
		prefix + "DATABASE":    "database",
		prefix + "LOG_LEVEL":   "logging.level",
		prefix + "LOG_JSON":    "logging.json",
		prefix + "LOG_FILE":    "logging.file",
	}
}

// Load reads environment variables and returns a configuration map of
// string values. Empty values are kept, not treated as unset.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		if path == "" {
			continue
		}
		setByPath(config, path, value)
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// envToPath converts LUMEN_PLUGINS_KILL_WAIT to plugins.killWait.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	parts := strings.Split(strings.ToLower(name), "_")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	setting := parts[1]
	for _, part := range parts[2:] {
		if part != "" {
			setting += strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return parts[0] + "." + setting
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
