package msi

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidModel is returned when the installer model violates a
	// structural rule: wrong row arity, a value of the wrong type for
	// its column, a component with no key path, a bad manifest.
	ErrInvalidModel = errors.New("invalid installer model")

	// ErrUnresolvedReference is returned when a shortcut or service
	// names a file that is not part of the scanned tree.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrUnsupportedFieldType is returned when a row holds a cell the
	// writer cannot serialize.
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrBackendFailure is matched by every *BackendError.
	ErrBackendFailure = errors.New("database backend failure")
)

// BackendError is a failure reported by the database engine while
// writing a table, or while committing when Table is empty.
type BackendError struct {
	Table string
	Row   int // -1 for table level operations
	Err   error
}

func (e *BackendError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("backend: %v", e.Err)
	}
	if e.Row < 0 {
		return fmt.Sprintf("backend: table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("backend: table %s row %d: %v", e.Table, e.Row, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}

// invalidf wraps ErrInvalidModel with a formatted message.
func invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidModel, format, args...)
}
