package depid

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedID indicates an identity string that does not follow the grammar.
	ErrMalformedID = errors.New("malformed dependency id")

	// ErrUnknownType indicates a type tag outside registry, git, file, remote and workspace.
	ErrUnknownType = errors.New("unknown dependency id type")

	// ErrIncompleteIdentity indicates a tuple or manifest missing a field the
	// identity is derived from, such as a registry package version.
	ErrIncompleteIdentity = errors.New("incomplete dependency identity")
)

// IdentityError is returned by every codec operation that fails.
type IdentityError struct {
	Input  string
	Reason string
	Err    error
}

func (e *IdentityError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("depid: %v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("depid: %v: %q: %s", e.Err, e.Input, e.Reason)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

func identityErr(sentinel error, input, format string, args ...any) error {
	return &IdentityError{Input: input, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}
