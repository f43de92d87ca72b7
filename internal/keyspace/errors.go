package keyspace

import (
	"errors"
	"fmt"
)

// ErrConfig matches every error produced while parsing or validating keyspace
// configuration.
var ErrConfig = errors.New("invalid keyspace configuration")

// ConfigError carries a human readable configuration failure. Its message is
// surfaced verbatim to operators.
type ConfigError struct {
	Msg string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return e.Msg
}

// Is reports whether target is ErrConfig
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
