package errors

import "errors"

// Re-exports of the standard library helpers so callers can use this package
// as a drop-in replacement for "errors".

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error wrapping the given errors, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
