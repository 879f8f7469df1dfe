package lua

import (
	"path/filepath"
	"strings"
)

// SearchPath builds a package.path value. The base path and the host paths
// come first so they take precedence in module resolution; each dependency
// directory is appended after them.
func SearchPath(base string, hostPaths, dependencyDirs []string) string {
	parts := make([]string, 0, 1+len(hostPaths)+len(dependencyDirs))
	if base != "" {
		parts = append(parts, base)
	}
	for _, dir := range hostPaths {
		if dir != "" {
			parts = append(parts, dirPatterns(dir))
		}
	}
	for _, dir := range dependencyDirs {
		if dir != "" {
			parts = append(parts, dirPatterns(dir))
		}
	}
	return strings.Join(parts, ";")
}

func dirPatterns(dir string) string {
	return filepath.Join(dir, "?.lua") + ";" + filepath.Join(dir, "?", "init.lua")
}
