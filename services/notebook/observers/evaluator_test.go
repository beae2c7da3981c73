// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/cas"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

func newEvaluatorSession(t *testing.T, client cas.Client) *server.Session {
	t.Helper()
	s := server.NewSession(server.SessionConfig{Path: "test/eval", Doc: notebook.New()})
	t.Cleanup(func() { s.Close("test done") })
	require.NoError(t, s.Register(notebook.SourceCASEvaluator, NewEvaluator(client)))
	return s
}

func TestEvaluator_Evaluation(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "2 + 3 * 4", notebook.StyleBottom)

	eval := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEvaluation,
		Type: notebook.TypeWolframExpression,
	}, cell)
	require.NotNil(t, eval)
	require.Equal(t, notebook.WolframData{Expr: "14"}, eval.Data)
	require.Equal(t, notebook.SourceCASEvaluator, eval.Source)

	// Every formula cell carries the equivalence-check tool.
	tool := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleAttribute,
		Type: notebook.TypeToolData,
	}, cell)
	require.NotNil(t, tool)
	require.Equal(t, cell, tool.Data.(notebook.ToolData).StyleID)
}

func TestEvaluator_EvaluationTracksEdits(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "1 + 1", notebook.StyleBottom)

	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.ChangeStyleRequest{
			StyleID: cell,
			Data:    notebook.WolframData{Expr: "2 + 2"},
		}}, false)
	require.NoError(t, err)

	evals := s.Doc().FindStyles(notebook.StylePattern{
		Role: notebook.RoleEvaluation,
		Type: notebook.TypeWolframExpression,
	}, cell)
	require.Len(t, evals, 1)
	require.Equal(t, notebook.WolframData{Expr: "4"}, evals[0].Data)
}

func TestEvaluator_Simplification(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())

	t.Run("simplifiable input gets a child", func(t *testing.T) {
		cell := insertFormula(t, s, "2 * 3 + x", notebook.StyleBottom)
		simp := s.Doc().FindStyle(notebook.StylePattern{
			Role: notebook.RoleSimplification,
			Type: notebook.TypeWolframExpression,
		}, cell)
		require.NotNil(t, simp)
		require.Equal(t, notebook.WolframData{Expr: "6 + x"}, simp.Data)
	})

	t.Run("already-simple input is left alone", func(t *testing.T) {
		cell := insertFormula(t, s, "x + 1", notebook.StyleBottom)
		require.Nil(t, s.Doc().FindStyle(notebook.StylePattern{
			Role: notebook.RoleSimplification,
		}, cell))
	})
}

func TestEvaluator_EquationHasNoValue(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "x + 1 = 5", notebook.StyleBottom)

	require.Nil(t, s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEvaluation,
	}, cell))
	require.Nil(t, s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEvaluationError,
	}, cell))
}

func TestEvaluator_FailureBecomesErrorStyle(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())
	cell := insertFormula(t, s, "nope + 1", notebook.StyleBottom)

	errStyle := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEvaluationError,
		Type: notebook.TypePlainText,
	}, cell)
	require.NotNil(t, errStyle)
	require.NotEqual(t, notebook.TextData{}, errStyle.Data)

	// The simplify rule suppresses its errors, so the failure shows up
	// exactly once.
	errs := s.Doc().FindStyles(notebook.StylePattern{
		Role: notebook.RoleEvaluationError,
	}, cell)
	require.Len(t, errs, 1)
}

func TestEvaluator_CheckEquivalenceTool(t *testing.T) {
	s := newEvaluatorSession(t, cas.NewLocalEngine())
	target := insertFormula(t, s, "(x + 1) ^ 2", notebook.StyleBottom)
	same := insertFormula(t, s, "x^2 + 2*x + 1", notebook.StyleBottom)
	different := insertFormula(t, s, "x + 7", notebook.StyleBottom)

	tool := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleAttribute,
		Type: notebook.TypeToolData,
	}, target)
	require.NotNil(t, tool)

	_, err := s.UseTool(context.Background(), tool.ID)
	require.NoError(t, err)

	checks := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEquivalentChecks,
		Type: notebook.TypeEquivalenceData,
	}, target)
	require.NotNil(t, checks)
	results := checks.Data.(notebook.EquivalenceData).Results
	require.Equal(t, map[notebook.StyleID]bool{same: true, different: false}, results)
}
