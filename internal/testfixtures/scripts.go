package testfixtures

import (
	"os"
	"path/filepath"
	"testing"
)

// ScriptDir creates a temporary directory holding the given files (name ->
// content) and returns its path.
func ScriptDir(tb testing.TB, files map[string]string) string {
	tb.Helper()
	dir := tb.TempDir()
	WriteScripts(tb, dir, files)
	return dir
}

// WriteScripts writes files (name -> content) into dir, replacing existing
// files of the same name.
func WriteScripts(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			tb.Fatalf("failed to write script %s: %v", name, err)
		}
	}
}

// RemoveScript deletes a script from dir.
func RemoveScript(tb testing.TB, dir, name string) {
	tb.Helper()
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		tb.Fatalf("failed to remove script %s: %v", name, err)
	}
}
