// Package loader reads daemon configuration files and environment
// variables into generic configuration maps.
//
// TOML (.toml) and YAML (.yaml, .yml) files are supported. Environment
// variables are mapped onto the same key paths, so every source can be
// decoded the same way.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for configuration files whose extension
// has no loader.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Loader is the interface for configuration loaders.
type Loader interface {
	// Load reads configuration from the source and returns a map.
	// Returns nil, nil if the source doesn't exist (not an error).
	Load() (map[string]any, error)
}

// FileLoader is the interface for loaders that read from files.
type FileLoader interface {
	Loader
	// LoadFrom reads configuration from a specific path.
	LoadFrom(path string) (map[string]any, error)
	// LoadFromReader reads configuration from a reader.
	LoadFromReader(r io.Reader) (map[string]any, error)
}

// FileSystem is an abstraction for file system operations.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// ForPath returns the loader matching the file extension of path.
func ForPath(path string) (FileLoader, error) {
	return ForPathWithFS(DefaultFS(), path)
}

// ForPathWithFS is ForPath reading through fsys.
func ForPathWithFS(fsys FileSystem, path string) (FileLoader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return NewTOMLLoaderWithFS(fsys, path), nil
	case ".yaml", ".yml":
		return NewYAMLLoaderWithFS(fsys, path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// readFile reads path, treating a missing file as empty.
func readFile(fsys FileSystem, path string) ([]byte, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return data, true, nil
}
