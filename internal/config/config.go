package config

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"

	"github.com/dshills/lumen/internal/config/loader"
	"github.com/dshills/lumen/internal/host"
)

// DefaultInstance is the instance the daemon serves when none is configured.
const DefaultInstance = "0"

// Duration is a time.Duration written as a string ("4s", "500ms") in
// configuration files and environment variables.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the daemon configuration.
type Config struct {
	// Instance selects the per-instance plugin state in the database.
	Instance string `toml:"instance"`

	// DataDir holds the database and, unless configured otherwise, the
	// plugins directory.
	DataDir    string `toml:"dataDir"`
	PluginsDir string `toml:"pluginsDir"`
	Database   string `toml:"database"`

	Logging LoggingConfig `toml:"logging"`
	Plugins PluginsConfig `toml:"plugins"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the host:port serving /metrics. Empty disables the endpoint.
	Listen string `toml:"listen"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
	// File receives the log instead of stderr when set.
	File string `toml:"file"`
}

// PluginsConfig configures the plugin manager.
type PluginsConfig struct {
	Autostart      bool     `toml:"autostart"`
	AutostartDelay Duration `toml:"autostartDelay"`
	ShutdownGrace  Duration `toml:"shutdownGrace"`
	KillWait       Duration `toml:"killWait"`
	WatchScripts   bool     `toml:"watchScripts"`
	WatchDelay     Duration `toml:"watchDelay"`

	// SearchPaths are extra Lua module directories shared by all plugins.
	SearchPaths []string `toml:"searchPaths"`

	// DefaultPriority applies to script inputs given without a priority.
	DefaultPriority int `toml:"defaultPriority"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Instance: DefaultInstance,
		DataDir:  defaultDataDir(),
		Logging:  LoggingConfig{Level: "info"},
		Plugins: PluginsConfig{
			Autostart:       true,
			AutostartDelay:  Duration(4 * time.Second),
			ShutdownGrace:   Duration(3 * time.Second),
			KillWait:        Duration(time.Second),
			WatchDelay:      Duration(500 * time.Millisecond),
			DefaultPriority: host.DefaultPriority,
		},
	}
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "lumen")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "lumen")
}

// Load returns the defaults overridden by the file at path. The format
// follows the extension (.toml, .yaml, .yml). An empty path or a missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	l, err := loader.ForPath(path)
	if err != nil {
		return nil, err
	}
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	if doc != nil {
		if err := cfg.decode(path, doc, true); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables starting with
// prefix (normally loader.DefaultEnvPrefix). Unknown variables are ignored.
func (c *Config) ApplyEnv(prefix string) error {
	doc, err := loader.NewEnvLoader(prefix).Load()
	if err != nil {
		return err
	}
	typed, err := coerce("", doc, reflect.TypeOf(*c))
	if err != nil {
		return err
	}
	if len(typed) == 0 {
		return nil
	}
	return c.decode("environment", typed, false)
}

// decode applies doc over c. Keys absent from doc keep their value.
func (c *Config) decode(source string, doc map[string]any, strict bool) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return &loader.ParseError{Path: source, Message: err.Error(), Err: err}
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(c); err != nil {
		msg := err.Error()
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			msg = "unknown setting: " + strings.TrimSpace(serr.String())
		}
		return &loader.ParseError{Path: source, Message: msg, Err: err}
	}
	return nil
}

var textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// coerce converts the string values of an environment document to the
// types of the matching fields of t. Keys without a field are dropped.
func coerce(prefix string, doc map[string]any, t reflect.Type) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for key, raw := range doc {
		field, ok := fieldByTag(t, key)
		if !ok {
			continue
		}
		path := prefix + field.Tag.Get("toml")
		ft := field.Type

		if sub, isMap := raw.(map[string]any); isMap {
			if ft.Kind() != reflect.Struct || reflect.PointerTo(ft).Implements(textUnmarshaler) {
				return nil, &TypeError{Path: path, Expected: ft.String(), Value: "section"}
			}
			v, err := coerce(path+".", sub, ft)
			if err != nil {
				return nil, err
			}
			out[field.Tag.Get("toml")] = v
			continue
		}

		s, _ := raw.(string)
		v, err := convert(path, s, ft)
		if err != nil {
			return nil, err
		}
		out[field.Tag.Get("toml")] = v
	}
	return out, nil
}

func convert(path, s string, t reflect.Type) (any, error) {
	if reflect.PointerTo(t).Implements(textUnmarshaler) {
		return s, nil
	}
	switch t.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, &TypeError{Path: path, Expected: "bool", Value: s}
		}
		return b, nil
	case reflect.Int, reflect.Int64, reflect.Int32:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, &TypeError{Path: path, Expected: "integer", Value: s}
		}
		return i, nil
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			break
		}
		// A JSON array or a comma separated list.
		items := []string{}
		if strings.HasPrefix(strings.TrimSpace(s), "[") {
			if !gjson.Valid(s) {
				return nil, &TypeError{Path: path, Expected: "list", Value: s}
			}
			for _, r := range gjson.Parse(s).Array() {
				items = append(items, r.String())
			}
			return items, nil
		}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	}
	return nil, &TypeError{Path: path, Expected: t.String(), Value: s}
}

func fieldByTag(t reflect.Type, key string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if strings.EqualFold(f.Tag.Get("toml"), key) {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	if strings.TrimSpace(c.Instance) == "" {
		add("instance", "must not be empty", c.Instance, ErrCodeRequiredMissing)
	}
	if c.DataDir == "" && (c.PluginsDir == "" || c.Database == "") {
		add("dataDir", "required unless pluginsDir and database are set", c.DataDir, ErrCodeRequiredMissing)
	}
	if hclog.LevelFromString(c.Logging.Level) == hclog.NoLevel {
		add("logging.level", "must be one of trace, debug, info, warn, error, off", c.Logging.Level, ErrCodeInvalidEnum)
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "must be host:port", c.Metrics.Listen, ErrCodeOutOfRange)
		}
	}

	p := c.Plugins
	if p.AutostartDelay < 0 {
		add("plugins.autostartDelay", "must not be negative", p.AutostartDelay, ErrCodeOutOfRange)
	}
	if p.WatchDelay < 0 {
		add("plugins.watchDelay", "must not be negative", p.WatchDelay, ErrCodeOutOfRange)
	}
	if p.ShutdownGrace <= 0 {
		add("plugins.shutdownGrace", "must be positive", p.ShutdownGrace, ErrCodeOutOfRange)
	}
	if p.KillWait <= 0 {
		add("plugins.killWait", "must be positive", p.KillWait, ErrCodeOutOfRange)
	}
	if p.DefaultPriority < 1 || p.DefaultPriority >= host.LowestPriority {
		add("plugins.defaultPriority", fmt.Sprintf("must be between 1 and %d", host.LowestPriority-1), p.DefaultPriority, ErrCodeOutOfRange)
	}

	return errors.Join(errs...)
}

// PluginsPath returns the plugins directory.
func (c *Config) PluginsPath() string {
	if c.PluginsDir != "" {
		return c.PluginsDir
	}
	return filepath.Join(c.DataDir, "plugins")
}

// DatabasePath returns the database file.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "lumen.db")
}
