// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the document model. Callers match with
// errors.Is.
var (
	// ErrStyleNotFound indicates a lookup or change referencing a style id
	// that is not in the notebook.
	ErrStyleNotFound = errors.New("style not found")

	// ErrRelationshipNotFound indicates a lookup or change referencing a
	// relationship id that is not in the notebook.
	ErrRelationshipNotFound = errors.New("relationship not found")

	// ErrStyleExists indicates an insertion reusing an id already present.
	ErrStyleExists = errors.New("style already exists")

	// ErrRelationshipExists indicates an insertion reusing an id already
	// present.
	ErrRelationshipExists = errors.New("relationship already exists")

	// ErrNotTopLevel indicates a move or position query on a style that is
	// not a top-level style.
	ErrNotTopLevel = errors.New("style is not top level")

	// ErrCyclicStyleChain indicates a parent chain that does not terminate
	// at a top-level style. A well-formed notebook never contains one; the
	// walk is bounded so a corrupted document fails loudly instead of
	// spinning.
	ErrCyclicStyleChain = errors.New("cyclic style parent chain")

	// ErrVersionMismatch indicates a persisted notebook written by an
	// incompatible format version.
	ErrVersionMismatch = errors.New("incompatible notebook version")

	// ErrInvalidObject indicates a persisted notebook that fails structural
	// validation.
	ErrInvalidObject = errors.New("invalid notebook object")

	// ErrDataTypeMismatch indicates style data whose variant does not match
	// the style's declared type.
	ErrDataTypeMismatch = errors.New("style data does not match style type")

	// ErrUnknownChange indicates a Change or ChangeRequest variant outside
	// the closed set.
	ErrUnknownChange = errors.New("unknown change variant")
)

// UserError marks an error whose message is safe and meaningful to show to
// the end user. Anything else is reported generically over the wire.
type UserError struct {
	msg   string
	cause error
}

// NewUserError returns a user-surfaceable error, optionally wrapping a
// cause.
func NewUserError(cause error, format string, args ...any) *UserError {
	return &UserError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *UserError) Error() string { return e.msg }

func (e *UserError) Unwrap() error { return e.cause }

// UserMessage returns the user-safe message for err, or the empty string if
// err is not user-surfaceable.
func UserMessage(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.msg
	}
	return ""
}
