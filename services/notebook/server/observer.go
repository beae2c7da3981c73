// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server hosts open notebooks: per-document sessions, the observer
// dispatch loop, the declarative rule engine, and the service that owns
// session lifecycle and persistence.
package server

import (
	"context"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

// Observer reacts to document changes by proposing further change
// requests. One observer instance exists per registered source per open
// notebook; all of its per-document state lives on the instance.
//
// Observers run under the session lock. An async pass may await external
// work; any style or relationship pointer held across an await point is
// stale and must be re-fetched by id.
type Observer interface {
	// OnChangesSync reacts to a change batch without blocking. It must
	// not perform I/O.
	OnChangesSync(changes []notebook.Change) []notebook.ChangeRequest

	// OnChangesAsync reacts to a change batch, possibly awaiting external
	// computation. A non-nil error aborts the dispatch loop.
	OnChangesAsync(ctx context.Context, changes []notebook.Change) ([]notebook.ChangeRequest, error)

	// UseTool runs the tool action carried by a TOOL-DATA style the user
	// clicked.
	UseTool(ctx context.Context, tool *notebook.Style) ([]notebook.ChangeRequest, error)

	// Close releases the observer's resources. Results of async work
	// still in flight are discarded by the session.
	Close() error
}

// ObserverFactory constructs an observer for a newly opened notebook.
type ObserverFactory func(s *Session) (Observer, error)
