package migration

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

const modulePath = "github.com/elskow/memorial-auth"

// migrationsDir returns override when set, otherwise the migrations
// directory at the module root.
func migrationsDir(override string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := findModuleRoot(dir)
	if err != nil {
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	return filepath.Join(root, "migrations"), nil
}

// findModuleRoot walks up from dir to the directory holding this module's
// go.mod.
func findModuleRoot(dir string) (string, error) {
	for {
		content, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil && modfile.ModulePath(content) == modulePath {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod for %s not found", modulePath)
		}
		dir = parent
	}
}
