package config

import (
	"os"
	"path/filepath"
)

// ResolvePath finds path relative to the working directory, its parent, the
// executable's directory or the directory above it. When nothing exists the
// best guess is returned so optional files can be checked by the caller.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	if abs, err := filepath.Abs(path); err == nil {
		if _, statErr := os.Stat(abs); statErr == nil {
			return abs
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		parent := filepath.Dir(cwd)
		if parent != "" && parent != cwd {
			if candidate := existing(parent, path); candidate != "" {
				return candidate
			}
		}
	}

	execPath, err := os.Executable()
	if err != nil {
		return path
	}
	execDir := filepath.Dir(execPath)
	if candidate := existing(execDir, path); candidate != "" {
		return candidate
	}

	workspaceRoot := filepath.Join(execDir, "..")
	if candidate := existing(workspaceRoot, path); candidate != "" {
		return candidate
	}

	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, path)
	}
	return path
}

// ResolveFilePath resolves a data file, trying dataDir first.
func ResolveFilePath(path, dataDir string) string {
	expanded := filepath.Clean(path)
	if filepath.IsAbs(expanded) {
		return expanded
	}

	if candidate := existing(ResolvePath(dataDir), path); candidate != "" {
		return candidate
	}
	return path
}

func existing(basePath, relPath string) string {
	candidate := filepath.Join(basePath, relPath)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
