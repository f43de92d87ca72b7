package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// scriptPattern matches v{version}[_{description}].cql
var scriptPattern = regexp.MustCompile(`(?i)^v(\d+)(?:[_-][a-z0-9_-]+)?\.cql$`)

// Discover reads every migration script in dir and returns them in ascending
// version order. Subdirectories, hidden files and files without the .cql
// extension are ignored. Discover never writes to dir.
//
// Errors are *MigrateError values of kind ErrDiscovery.
func Discover(dir string) ([]Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newMigrateError(ErrDiscovery, &FileSystemError{Path: dir, Operation: "read directory", Err: err})
	}

	var scripts []Script
	byVersion := make(map[int]string) // version -> file name for duplicate detection

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".cql") {
			continue
		}

		script, err := ParseScript(filepath.Join(dir, name))
		if err != nil {
			return nil, newMigrateError(ErrDiscovery, err)
		}

		if existing, ok := byVersion[script.Version]; ok {
			return nil, newMigrateError(ErrDiscovery, &ScriptError{
				Name: name,
				Err:  fmt.Errorf("%w: version %d found in both %s and %s", ErrDuplicateVersion, script.Version, existing, name),
			})
		}
		byVersion[script.Version] = name

		scripts = append(scripts, script)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Version < scripts[j].Version
	})
	return scripts, nil
}

// ParseVersion extracts the version from a script file name.
func ParseVersion(name string) (int, error) {
	matches := scriptPattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, &ScriptError{
			Name: name,
			Err:  fmt.Errorf("%w: file name does not match pattern 'v{version}[_{description}].cql'", ErrInvalidScriptName),
		}
	}
	// The history table stores versions in a 32-bit CQL int column.
	version, err := strconv.ParseInt(matches[1], 10, 32)
	if err != nil {
		return 0, &ScriptError{
			Name: name,
			Err:  fmt.Errorf("%w: version %s is not a number between 0 and %d", ErrInvalidScriptName, matches[1], math.MaxInt32),
		}
	}
	return int(version), nil
}

// ParseScript reads a single script file.
func ParseScript(path string) (Script, error) {
	name := filepath.Base(path)
	version, err := ParseVersion(name)
	if err != nil {
		return Script{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Script{}, &FileSystemError{Path: path, Operation: "read file", Err: err}
	}

	script := Script{
		Version:  version,
		Name:     name,
		Path:     path,
		Content:  string(content),
		Checksum: Checksum(content),
	}
	if len(script.Statements()) == 0 {
		return Script{}, &ScriptError{Name: name, Err: ErrEmptyScript}
	}
	return script, nil
}

// Checksum returns the hex encoded SHA-256 digest of content. Changing the
// algorithm invalidates every recorded history row.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func versions(scripts []Script) []int {
	out := make([]int, len(scripts))
	for i, s := range scripts {
		out[i] = s.Version
	}
	return out
}
