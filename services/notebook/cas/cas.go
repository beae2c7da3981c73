// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cas defines the boundary to a computer algebra system and
// provides LocalEngine, the in-process default implementation.
//
// Calls are fire-and-await: no retry, no partial results. Failures are
// recovered at the rule boundary, where they become EVALUATION-ERROR
// styles rather than crashing the dispatch loop.
package cas

import (
	"context"
	"errors"
)

// Format names an expression syntax for conversion.
type Format string

const (
	FormatWolfram Format = "wolfram"
	FormatTeX     Format = "tex"
	FormatMathML  Format = "mathml"
)

// Sentinel errors.
var (
	// ErrEvaluation indicates the engine could not compute the script.
	// Its message is user-surfaceable.
	ErrEvaluation = errors.New("evaluation failed")

	// ErrUnsupportedFormat indicates a conversion the engine cannot do.
	ErrUnsupportedFormat = errors.New("unsupported format conversion")
)

// Client is the computer algebra boundary. Implementations must be safe
// for concurrent use; the notebook engine may issue calls from multiple
// open documents.
type Client interface {
	// Execute evaluates a script and returns its printed result.
	// Scripts are expressions in the notebook input language, optionally
	// wrapped in Simplify[...].
	Execute(ctx context.Context, script string) (string, error)

	// ConvertFormat translates text between expression syntaxes.
	ConvertFormat(ctx context.Context, from, to Format, text string) (string, error)

	// CheckEquivalence reports whether two expressions denote the same
	// function of their free variables.
	CheckEquivalence(ctx context.Context, a, b string) (bool, error)
}
