// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists notebooks. Two implementations are provided:
// BadgerStore, an embedded key-value database, and FolderStore, one JSON
// file per notebook under a root directory.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

// Sentinel errors.
var (
	// ErrNotebookNotFound indicates an operation on a path with no
	// notebook behind it.
	ErrNotebookNotFound = errors.New("notebook not found")

	// ErrNotebookExists indicates a create or rename targeting a path
	// already in use.
	ErrNotebookExists = errors.New("notebook already exists")

	// ErrInvalidPath indicates a notebook path that fails validation.
	ErrInvalidPath = errors.New("invalid notebook path")
)

// Store persists notebooks by path. Paths are slash-separated logical
// names ("folder/notebook"), not filesystem paths; ValidatePath defines
// the accepted shape. Implementations must be safe for concurrent use.
type Store interface {
	// Load reads and reconstructs a notebook. Returns ErrNotebookNotFound
	// if the path is empty.
	Load(ctx context.Context, path string) (*notebook.Notebook, error)

	// Save writes the notebook, replacing any previous content.
	Save(ctx context.Context, path string, nb *notebook.Notebook) error

	// Delete removes a notebook. Returns ErrNotebookNotFound if absent.
	Delete(ctx context.Context, path string) error

	// Rename moves a notebook. Returns ErrNotebookNotFound if the source
	// is absent and ErrNotebookExists if the target is taken.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Exists reports whether a notebook is stored at the path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every stored notebook path, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// Path segments: a word character to start, then word characters, dots,
// hyphens, and spaces. Rejects traversal and hidden files by shape.
var segmentRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_. \-]*$`)

// ValidatePath checks a notebook path: non-empty slash-separated segments,
// each matching the accepted name shape, no trailing dots.
func ValidatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, segment := range strings.Split(path, "/") {
		if !segmentRE.MatchString(segment) || strings.HasSuffix(segment, ".") {
			return ErrInvalidPath
		}
	}
	return nil
}
