package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dshills/lumen/internal/plugin/schema"
)

// DefinitionFile is the file name of a plugin definition inside its directory.
const DefinitionFile = "plugin.json"

// HostDependency is the dependency key naming the minimum host version
// instead of another plugin.
const HostDependency = "lumen"

// DefaultEntry is the entry script used when a definition names none.
const DefaultEntry = "main.lua"

// servicePrefix marks plugins that are started as long-running services.
const servicePrefix = "service."

// Definition describes a plugin's metadata, settings schema and settings.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"` // Semver (e.g., "1.2.0")

	// Dependencies maps plugin ids to required versions. The HostDependency
	// key holds the minimum host version.
	Dependencies map[string]string `json:"dependencies,omitempty"`

	Changelog []map[string]any `json:"changelog,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	License   string           `json:"license,omitempty"`
	Support   string           `json:"support,omitempty"`
	Source    string           `json:"source,omitempty"`

	// Entry is the entry script, relative to the plugin directory.
	Entry string `json:"entry,omitempty"`

	SettingsSchema map[string]any `json:"settingsSchema,omitempty"`

	// Settings is the current settings document.
	Settings map[string]any `json:"settings,omitempty"`

	// Internal: path to the plugin directory
	dir string
}

// Validation errors.
var (
	ErrMissingName    = errors.New("definition: name is required")
	ErrMissingVersion = errors.New("definition: version is required")
	ErrInvalidVersion = errors.New("definition: version must be valid semver")
	ErrInvalidEntry   = errors.New("definition: entry must be a relative .lua file")
	ErrInvalidSchema  = errors.New("definition: invalid settings schema")
	ErrInvalidID      = errors.New("definition: invalid plugin id")
)

// idPattern validates plugin ids (directory names), e.g. "service.alpha".
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(\.[a-z0-9][a-z0-9_-]*)*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// ValidID reports whether id is a well-formed plugin id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// IsService reports whether id names a service plugin. Only service
// plugins can be started.
func IsService(id string) bool {
	return strings.HasPrefix(id, servicePrefix)
}

// LoadDefinition loads the definition from a plugin directory.
func LoadDefinition(dir string) (*Definition, error) {
	path := filepath.Join(dir, DefinitionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}

	def.dir = dir
	def.applyDefaults()

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// applyDefaults sets default values for unset fields.
func (d *Definition) applyDefaults() {
	if d.Entry == "" {
		d.Entry = DefaultEntry
	}
	if d.Settings == nil {
		d.Settings = d.DefaultSettings()
	}
}

// Validate checks that the definition is well-formed.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return ErrMissingName
	}
	if d.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(d.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, d.Version)
	}

	entry := d.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	if filepath.Ext(entry) != ".lua" || filepath.IsAbs(entry) || strings.HasPrefix(filepath.Clean(entry), "..") {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, entry)
	}

	for dep := range d.Dependencies {
		if dep != HostDependency && !ValidID(dep) {
			return fmt.Errorf("%w: dependency %q", ErrInvalidID, dep)
		}
	}

	if _, err := schema.FromMap(d.SettingsSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return nil
}

// Dir returns the plugin directory.
func (d *Definition) Dir() string {
	return d.dir
}

// EntryPath returns the full path to the entry script.
func (d *Definition) EntryPath() string {
	entry := d.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	return filepath.Join(d.dir, entry)
}

// PluginDependencies returns the ids of the plugins this plugin depends on,
// sorted, without the host pseudo-dependency.
func (d *Definition) PluginDependencies() []string {
	deps := make([]string, 0, len(d.Dependencies))
	for id := range d.Dependencies {
		if id != HostDependency {
			deps = append(deps, id)
		}
	}
	slices.Sort(deps)
	return deps
}

// Schema parses the settings schema. A definition without a schema yields
// a nil schema, which accepts every settings document.
func (d *Definition) Schema() (*schema.Schema, error) {
	return schema.FromMap(d.SettingsSchema)
}

// DefaultSettings returns the defaults declared by the settings schema.
func (d *Definition) DefaultSettings() map[string]any {
	s, err := d.Schema()
	if err != nil {
		return map[string]any{}
	}
	return s.Defaults()
}

// ValidateSettings validates a settings document against the schema.
// Failures are reported as *schema.ValidationErrors.
func (d *Definition) ValidateSettings(doc map[string]any) error {
	s, err := d.Schema()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return schema.NewValidator(s).Validate(doc)
}

// String returns a string representation of the definition.
func (d *Definition) String() string {
	return fmt.Sprintf("%s v%s", d.Name, d.Version)
}

// Clone creates a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Dependencies = maps.Clone(d.Dependencies)
	if d.Changelog != nil {
		clone.Changelog = make([]map[string]any, len(d.Changelog))
		for i, entry := range d.Changelog {
			clone.Changelog[i] = deepCopyMap(entry)
		}
	}
	clone.SettingsSchema = deepCopyMap(d.SettingsSchema)
	clone.Settings = deepCopyMap(d.Settings)
	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
