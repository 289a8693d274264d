package resolver

import "errors"

var (
	// ErrNoProvider indicates a resolver constructed without a manifest provider.
	ErrNoProvider = errors.New("resolver has no manifest provider")

	// ErrInvalidDependency wraps a declared dependency whose specifier cannot be parsed.
	ErrInvalidDependency = errors.New("invalid declared dependency")
)
