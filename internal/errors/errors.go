// Package errors defines the error kinds reported by the dataset scanner.
//
// Errors returned by the scanner wrap one of the kinds below so callers can
// match them with [errors.Is].
package errors

import "errors"

var (
	// ErrInvalid reports a request that references something that does not
	// exist, such as an unknown column or an out of range field index.
	ErrInvalid = errors.New("invalid")

	// ErrType reports a type mismatch between a column and a literal, a
	// default scalar and its field, or a physical and a target column.
	ErrType = errors.New("type error")

	// ErrIO reports a failure reading the bytes backing a fragment.
	ErrIO = errors.New("io error")

	// ErrOutOfMemory reports an allocation failure while materializing a
	// column.
	ErrOutOfMemory = errors.New("out of memory")

	ErrNotImplemented = errors.New("not implemented")
)
