package action

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports a user-facing configuration mistake: a missing
// attribute, mutually exclusive attributes, an ambiguous lookup, or an
// unresolvable name. Info locates the offending directive when known.
type ConfigurationError struct {
	Msg  string
	Info string
	Err  error
}

// Errorf creates a ConfigurationError with a formatted message.
func Errorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Info != "" {
		msg += "\n  in:\n  " + e.Info
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// WithInfo returns a copy of the error located at info. An existing location
// is kept.
func (e *ConfigurationError) WithInfo(info string) *ConfigurationError {
	cp := *e
	if cp.Info == "" {
		cp.Info = info
	}
	return &cp
}

// ConflictError reports actions that share a discriminator without one
// overriding the other. Conflicts maps each discriminator to the infos of the
// clashing actions.
type ConflictError struct {
	Conflicts map[Discriminator][]string
}

// Error returns the conflict report, sorted for stable output.
func (e *ConflictError) Error() string {
	keys := make([]Discriminator, 0, len(e.Conflicts))
	for d := range e.Conflicts {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	var b strings.Builder
	b.WriteString("conflicting configuration actions")
	for _, d := range keys {
		fmt.Fprintf(&b, "\n  - For: %s", d)
		for _, info := range e.Conflicts[d] {
			if info == "" {
				info = "<unknown>"
			}
			b.WriteString("\n    ")
			b.WriteString(strings.ReplaceAll(info, "\n", "\n    "))
		}
	}
	return b.String()
}

// ExecutionError wraps an error returned by an action callable during commit.
type ExecutionError struct {
	Discriminator Discriminator
	Info          string
	Err           error
}

// Error returns the error message.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%v\n  in:\n  %s", e.Err, e.Info)
	if !e.Discriminator.IsZero() {
		msg += "\n  action:\n  " + e.Discriminator.String()
	}
	return msg
}

// Unwrap returns the callable's error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
