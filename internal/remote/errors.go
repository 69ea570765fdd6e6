package remote

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates the client is missing required credential
// material or connection settings. It is raised at connect time, before
// any remote side effect is attempted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("remote client configuration error: %s", e.Reason)
}

// CommandError indicates a remote command returned a non-zero exit code.
// It carries the offending command and the captured stderr so callers can
// log full detail server-side without leaking it to API clients.
type CommandError struct {
	Command  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("remote command %q failed with exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("remote command %q failed with exit code %d", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err is (or wraps) a CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
