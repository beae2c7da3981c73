// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observers

import (
	"context"

	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// Recognizer converts pen strokes to a TeX expression.
type Recognizer interface {
	RecognizeLatex(ctx context.Context, strokes notebook.StrokeData) (string, error)
}

// NewStrokeRecognizer returns the ObserverFactory for handwriting
// recognition: STROKE-DATA input cells get a REPRESENTATION child holding
// the recognized TeX. Recognition runs against a remote API, so failures
// surface as error styles on the cell rather than aborting the batch.
func NewStrokeRecognizer(rec Recognizer) server.ObserverFactory {
	return func(s *server.Session) (server.Observer, error) {
		rules := []server.Rule{
			{
				Name: "recognize",
				Test: notebook.StylePattern{
					Role: notebook.RoleInput,
					Type: notebook.TypeStrokeData,
				},
				Role:      notebook.RoleRepresentation,
				Type:      notebook.TypeTexExpression,
				Exclusive: true,
				Compute: func(ctx context.Context, _ *notebook.Notebook, style *notebook.Style) (notebook.StyleData, error) {
					data, ok := style.Data.(notebook.StrokeData)
					if !ok || len(data.Strokes) == 0 {
						return nil, nil
					}
					tex, err := rec.RecognizeLatex(ctx, data)
					if err != nil {
						return nil, err
					}
					if tex == "" {
						return nil, nil
					}
					return notebook.TexData{TeX: tex}, nil
				},
			},
		}
		return server.NewRuleObserver(s, notebook.SourceMyScript, rules), nil
	}
}
