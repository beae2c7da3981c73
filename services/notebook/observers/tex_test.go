// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/cas"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

func newFormatterSession(t *testing.T, client cas.Client) *server.Session {
	t.Helper()
	s := server.NewSession(server.SessionConfig{Path: "test/tex", Doc: notebook.New()})
	t.Cleanup(func() { s.Close("test done") })
	require.NoError(t, s.Register(notebook.SourceTexFormatter, NewTexFormatter(client)))
	return s
}

func decorationOf(s *server.Session, id notebook.StyleID) *notebook.Style {
	return s.Doc().FindStyle(notebook.StylePattern{
		Role:   notebook.RoleDecoration,
		Type:   notebook.TypeTexExpression,
		Source: notebook.SourceTexFormatter,
	}, id)
}

func TestTexFormatter_DecoratesFormula(t *testing.T) {
	s := newFormatterSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "x / 2", notebook.StyleBottom)

	dec := decorationOf(s, cell)
	require.NotNil(t, dec)
	require.Equal(t, notebook.TexData{TeX: `\frac{x}{2}`}, dec.Data)
}

func TestTexFormatter_DecoratesSymbolDefinition(t *testing.T) {
	s := newFormatterSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "1", notebook.StyleBottom)

	changes, _, err := s.RequestChanges(context.Background(), notebook.SourceSymbolClassifier,
		[]notebook.ChangeRequest{notebook.InsertStyleRequest{
			ParentID: cell,
			Props: notebook.StyleProperties{
				Role: notebook.RoleSymbolDefinition,
				Type: notebook.TypeSymbolData,
				Data: notebook.SymbolData{Name: "r", Value: "d / 2"},
			},
		}}, false)
	require.NoError(t, err)
	def := changes[0].(notebook.StyleInserted).Style.ID

	dec := decorationOf(s, def)
	require.NotNil(t, dec)
	require.Equal(t, notebook.TexData{TeX: `r = \frac{d}{2}`}, dec.Data)
}

func TestTexFormatter_ReplacesStaleDecoration(t *testing.T) {
	s := newFormatterSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "x + 1", notebook.StyleBottom)
	require.Equal(t, notebook.TexData{TeX: `x + 1`}, decorationOf(s, cell).Data)

	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.ChangeStyleRequest{
			StyleID: cell,
			Data:    notebook.WolframData{Expr: "x / 3"},
		}}, false)
	require.NoError(t, err)

	decs := s.Doc().FindStyles(notebook.StylePattern{
		Role: notebook.RoleDecoration,
		Type: notebook.TypeTexExpression,
	}, cell)
	require.Len(t, decs, 1)
	require.Equal(t, notebook.TexData{TeX: `\frac{x}{3}`}, decs[0].Data)
}

// failingClient errors on every call.
type failingClient struct{}

func (failingClient) Execute(context.Context, string) (string, error) {
	return "", errors.New("engine down")
}

func (failingClient) ConvertFormat(context.Context, cas.Format, cas.Format, string) (string, error) {
	return "", errors.New("engine down")
}

func (failingClient) CheckEquivalence(context.Context, string, string) (bool, error) {
	return false, errors.New("engine down")
}

func TestTexFormatter_ConversionFailureIsSilent(t *testing.T) {
	s := newFormatterSession(t, failingClient{})
	cell := insertFormula(t, s, "x + 1", notebook.StyleBottom)
	require.Empty(t, s.Doc().ChildStylesOf(cell), "a failed render leaves the cell bare")
}
