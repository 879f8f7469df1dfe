package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Catalog is the set of installed plugins the Manager starts from.
// *Loader implements Catalog.
type Catalog interface {
	// Definition returns a copy of the definition for id.
	Definition(id string) (*Definition, bool)

	// Installed returns the ids of all installed plugins, sorted.
	Installed() []string

	// SetSettings replaces the settings document of an installed plugin.
	SetSettings(id string, doc map[string]any) error

	// Remove deletes an installed plugin.
	Remove(id string) error
}

// Loader discovers installed plugins in a plugins directory. Each plugin
// lives in <dir>/<id>/ with a plugin.json definition.
type Loader struct {
	dir string

	mu         sync.RWMutex
	discovered map[string]*Definition
	errors     map[string]error
}

// NewLoader creates a loader for the plugins directory dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:        dir,
		discovered: make(map[string]*Definition),
		errors:     make(map[string]error),
	}
}

// Dir returns the plugins directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Discover rescans the plugins directory and returns the ids of the valid
// plugins, sorted. A missing directory is not an error. Plugins that fail
// to load are recorded and available through Errors.
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan plugins: %w", err)
	}

	discovered := make(map[string]*Definition)
	errs := make(map[string]error)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if !ValidID(id) {
			continue
		}
		def, err := LoadDefinition(filepath.Join(l.dir, id))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // Not a plugin directory
			}
			errs[id] = err
			continue
		}
		discovered[id] = def
	}

	l.mu.Lock()
	l.discovered = discovered
	l.errors = errs
	l.mu.Unlock()

	return l.Installed(), nil
}

// Refresh reloads a single plugin definition from disk.
func (l *Loader) Refresh(id string) (*Definition, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	def, err := LoadDefinition(filepath.Join(l.dir, id))

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		delete(l.discovered, id)
		if !errors.Is(err, fs.ErrNotExist) {
			l.errors[id] = err
		}
		return nil, err
	}
	delete(l.errors, id)
	l.discovered[id] = def
	return def.Clone(), nil
}

// Definition returns a copy of the definition for id.
func (l *Loader) Definition(id string) (*Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.discovered[id]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// Installed returns the ids of all installed plugins, sorted.
func (l *Loader) Installed() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.discovered))
	for id := range l.discovered {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SetSettings replaces the in-memory settings document of a plugin.
func (l *Loader) SetSettings(id string, doc map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	def, ok := l.discovered[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	def.Settings = deepCopyMap(doc)
	return nil
}

// Remove deletes the plugin directory and forgets the plugin.
func (l *Loader) Remove(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	l.mu.Lock()
	delete(l.discovered, id)
	delete(l.errors, id)
	l.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(l.dir, id)); err != nil {
		return fmt.Errorf("remove plugin %s: %w", id, err)
	}
	return nil
}

// Errors returns the load errors of the last scan, keyed by plugin id.
func (l *Loader) Errors() map[string]error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]error, len(l.errors))
	for id, err := range l.errors {
		out[id] = err
	}
	return out
}
