// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import "errors"

var (
	// ErrIterationBudget indicates the observer dispatch loop failed to
	// reach a fixed point within the configured number of rounds. It
	// almost always means two observers are feeding each other.
	ErrIterationBudget = errors.New("dispatch loop exceeded iteration budget")

	// ErrSessionClosed indicates a request against a closed session.
	ErrSessionClosed = errors.New("notebook session is closed")

	// ErrObserverRegistered indicates a duplicate observer source name.
	ErrObserverRegistered = errors.New("observer source already registered")

	// ErrNoToolObserver indicates a useTool request for a tool style whose
	// source has no registered observer.
	ErrNoToolObserver = errors.New("no observer registered for tool source")

	// ErrNotATool indicates a useTool request for a style that does not
	// carry tool data.
	ErrNotATool = errors.New("style is not a tool")
)
