package migration

import (
	"errors"
	"fmt"
)

// Error kinds reported by a migration run. Every *MigrateError matches exactly
// one of them with errors.Is.
var (
	// ErrConnectivity indicates that the cluster could not be reached
	ErrConnectivity = errors.New("cluster connection failed")

	// ErrBootstrap indicates that the history keyspace or table could not be inspected or created
	ErrBootstrap = errors.New("history bootstrap failed")

	// ErrDiscovery indicates that the script directory could not be read or holds an invalid script
	ErrDiscovery = errors.New("script discovery failed")

	// ErrDrift indicates that an applied script is missing or was modified after it was applied
	ErrDrift = errors.New("applied script drift detected")

	// ErrApply indicates that a pending script could not be applied or recorded
	ErrApply = errors.New("script application failed")
)

// Detail errors wrapped as the cause of a *MigrateError.
var (
	// ErrKeyspaceNotFound is returned by Session.Tables for a missing keyspace
	ErrKeyspaceNotFound = errors.New("keyspace does not exist")

	// ErrInvalidScriptName indicates a .cql file that does not follow the naming convention
	ErrInvalidScriptName = errors.New("invalid migration script name")

	// ErrDuplicateVersion indicates that two scripts share a version
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrEmptyScript indicates a script without any CQL statement
	ErrEmptyScript = errors.New("migration script has no statements")

	// ErrHistoryCorrupt indicates a history row that cannot be decoded
	ErrHistoryCorrupt = errors.New("history table row is corrupted")
)

// MigrateError describes how far a run progressed before it failed.
type MigrateError struct {
	Kind         error    // One of ErrConnectivity, ErrBootstrap, ErrDiscovery, ErrDrift, ErrApply
	Cause        error    // Underlying error
	FailedScript *Script  // Script being applied when the run failed; nil before any script was attempted
	Applied      []Script // Scripts applied earlier in the same run, in order
}

// Error implements the error interface
func (e *MigrateError) Error() string {
	if e.FailedScript != nil {
		return fmt.Sprintf("%v: %s (version %d): %v", e.Kind, e.FailedScript.Name, e.FailedScript.Version, e.Cause)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying error for error unwrapping
func (e *MigrateError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the error kind
func (e *MigrateError) Is(target error) bool {
	return e.Kind == target
}

// AppliedVersions returns the versions applied before the failure.
func (e *MigrateError) AppliedVersions() []int {
	return versions(e.Applied)
}

// FailedVersion returns the version of the failing script and whether one
// was being applied.
func (e *MigrateError) FailedVersion() (int, bool) {
	if e.FailedScript == nil {
		return 0, false
	}
	return e.FailedScript.Version, true
}

func newMigrateError(kind, cause error) *MigrateError {
	return &MigrateError{Kind: kind, Cause: cause}
}

// FileSystemError wraps file system related errors during discovery
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// ScriptError reports an invalid script file
type ScriptError struct {
	Name string // Script file name
	Err  error  // Underlying error
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// StatementError reports a failed CQL statement
type StatementError struct {
	Keyspace  string // Keyspace the statement ran against
	Index     int    // 1-based statement position within its script
	Statement string // Statement text
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *StatementError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("statement %d failed in keyspace %s: %v", e.Index, e.Keyspace, e.Err)
	}
	return fmt.Sprintf("statement failed in keyspace %s: %v", e.Keyspace, e.Err)
}

// Unwrap returns the underlying error
func (e *StatementError) Unwrap() error {
	return e.Err
}

// DriftError reports an applied script that no longer matches its history record
type DriftError struct {
	Version  int
	Name     string // Name recorded in history
	Recorded string // Checksum recorded in history
	Current  string // Checksum on disk; empty when the script is missing
}

// Missing reports whether the script is gone from disk
func (e *DriftError) Missing() bool {
	return e.Current == ""
}

// Error implements the error interface
func (e *DriftError) Error() string {
	if e.Missing() {
		return fmt.Sprintf("applied script %s (version %d) is missing", e.Name, e.Version)
	}
	return fmt.Sprintf("applied script %s (version %d) changed: recorded checksum %s, current checksum %s",
		e.Name, e.Version, e.Recorded, e.Current)
}
