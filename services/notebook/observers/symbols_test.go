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
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

func newClassifierSession(t *testing.T) *server.Session {
	t.Helper()
	s := server.NewSession(server.SessionConfig{Path: "test/symbols", Doc: notebook.New()})
	t.Cleanup(func() { s.Close("test done") })
	require.NoError(t, s.Register(notebook.SourceSymbolClassifier, NewSymbolClassifier))
	return s
}

func insertFormula(t *testing.T, s *server.Session, src string, after notebook.StyleID) notebook.StyleID {
	t.Helper()
	changes, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.InsertStyleRequest{
			AfterID: after,
			Props: notebook.StyleProperties{
				Role: notebook.RoleInput,
				Type: notebook.TypeWolframExpression,
				Data: notebook.WolframData{Expr: src},
			},
		}}, false)
	require.NoError(t, err)
	return changes[0].(notebook.StyleInserted).Style.ID
}

func definitionOf(t *testing.T, s *server.Session, cell notebook.StyleID) *notebook.Style {
	t.Helper()
	def := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleSymbolDefinition,
		Type: notebook.TypeSymbolData,
	}, cell)
	require.NotNil(t, def, "cell %d should carry a symbol definition", cell)
	return def
}

func usesOf(s *server.Session, cell notebook.StyleID) []*notebook.Style {
	return s.Doc().FindStyles(notebook.StylePattern{
		Role: notebook.RoleSymbolUse,
		Type: notebook.TypeSymbolData,
	}, cell)
}

func dependencies(s *server.Session) []*notebook.Relationship {
	return s.Doc().FindRelationships(notebook.RelationshipPattern{
		Role: notebook.RelationshipSymbolDependency,
	})
}

func duplicates(s *server.Session) []*notebook.Relationship {
	return s.Doc().FindRelationships(notebook.RelationshipPattern{
		Role: notebook.RelationshipDuplicateDefinition,
	})
}

func TestSymbolClassifier_Classification(t *testing.T) {
	s := newClassifierSession(t)

	defCell := insertFormula(t, s, "x = 4", notebook.StyleBottom)
	def := definitionOf(t, s, defCell)
	require.Equal(t, notebook.SymbolData{Name: "x", Value: "4"}, def.Data)
	require.Equal(t, notebook.SourceSymbolClassifier, def.Source)
	require.Empty(t, usesOf(s, defCell), "a constant assignment uses nothing")

	useCell := insertFormula(t, s, "y = x + 1", notebook.StyleBottom)
	uses := usesOf(s, useCell)
	require.Len(t, uses, 1)
	require.Equal(t, notebook.SymbolData{Name: "x"}, uses[0].Data)

	deps := dependencies(s)
	require.Len(t, deps, 1)
	require.Equal(t, def.ID, deps[0].FromID)
	require.Equal(t, uses[0].ID, deps[0].ToID)
}

func TestSymbolClassifier_EquationDefinition(t *testing.T) {
	s := newClassifierSession(t)

	cell := insertFormula(t, s, "x + 1 = 5", notebook.StyleBottom)
	eq := s.Doc().FindStyle(notebook.StylePattern{
		Role: notebook.RoleEquationDefinition,
		Type: notebook.TypeEquationData,
	}, cell)
	require.NotNil(t, eq)
	require.Equal(t, notebook.EquationData{LHS: "x + 1", RHS: "5"}, eq.Data)

	// Both sides contribute uses.
	uses := usesOf(s, cell)
	require.Len(t, uses, 1)
	require.Equal(t, notebook.SymbolData{Name: "x"}, uses[0].Data)
}

func TestSymbolClassifier_BackwardOnlyLinking(t *testing.T) {
	s := newClassifierSession(t)

	// The use precedes every definition of its name, so it must stay
	// unlinked even after the definition appears.
	useCell := insertFormula(t, s, "x + 1", notebook.StyleBottom)
	insertFormula(t, s, "x = 2", notebook.StyleBottom)

	require.Len(t, usesOf(s, useCell), 1)
	require.Empty(t, dependencies(s))
}

func TestSymbolClassifier_DuplicateDefinitionChain(t *testing.T) {
	s := newClassifierSession(t)

	c1 := insertFormula(t, s, "x = 1", notebook.StyleBottom)
	c2 := insertFormula(t, s, "x = 2", notebook.StyleBottom)
	c3 := insertFormula(t, s, "x = 3", notebook.StyleBottom)
	d1 := definitionOf(t, s, c1)
	d2 := definitionOf(t, s, c2)
	d3 := definitionOf(t, s, c3)

	dups := duplicates(s)
	require.Len(t, dups, 2)
	next := map[notebook.StyleID]notebook.StyleID{}
	for _, r := range dups {
		next[r.FromID] = r.ToID
	}
	require.Equal(t, d2.ID, next[d1.ID])
	require.Equal(t, d3.ID, next[d2.ID])
}

func TestSymbolClassifier_UseBindsToLatestEarlierDefinition(t *testing.T) {
	s := newClassifierSession(t)

	insertFormula(t, s, "x = 1", notebook.StyleBottom)
	c2 := insertFormula(t, s, "x = 2", notebook.StyleBottom)
	useCell := insertFormula(t, s, "x * 10", notebook.StyleBottom)

	deps := dependencies(s)
	require.Len(t, deps, 1)
	require.Equal(t, definitionOf(t, s, c2).ID, deps[0].FromID)
	require.Equal(t, usesOf(s, useCell)[0].ID, deps[0].ToID)
}

func TestSymbolClassifier_MidChainInsertRebinds(t *testing.T) {
	s := newClassifierSession(t)

	c1 := insertFormula(t, s, "x = 1", notebook.StyleBottom)
	useCell := insertFormula(t, s, "x * 10", notebook.StyleBottom)
	// A new definition between the old one and the use takes over the use.
	c2 := insertFormula(t, s, "x = 2", c1)

	deps := dependencies(s)
	require.Len(t, deps, 1)
	require.Equal(t, definitionOf(t, s, c2).ID, deps[0].FromID)
	require.Equal(t, usesOf(s, useCell)[0].ID, deps[0].ToID)

	dups := duplicates(s)
	require.Len(t, dups, 1)
	require.Equal(t, definitionOf(t, s, c1).ID, dups[0].FromID)
	require.Equal(t, definitionOf(t, s, c2).ID, dups[0].ToID)
}

func TestSymbolClassifier_DeleteRelinks(t *testing.T) {
	s := newClassifierSession(t)

	c1 := insertFormula(t, s, "x = 1", notebook.StyleBottom)
	c2 := insertFormula(t, s, "x = 2", notebook.StyleBottom)
	useCell := insertFormula(t, s, "x * 10", notebook.StyleBottom)

	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.DeleteStyleRequest{StyleID: c2}}, false)
	require.NoError(t, err)

	deps := dependencies(s)
	require.Len(t, deps, 1)
	require.Equal(t, definitionOf(t, s, c1).ID, deps[0].FromID)
	require.Equal(t, usesOf(s, useCell)[0].ID, deps[0].ToID)
	require.Empty(t, duplicates(s), "a one-element chain has no duplicate edges")
}

func TestSymbolClassifier_MoveRecomputes(t *testing.T) {
	s := newClassifierSession(t)

	defCell := insertFormula(t, s, "x = 1", notebook.StyleBottom)
	useCell := insertFormula(t, s, "x * 10", notebook.StyleBottom)
	require.Len(t, dependencies(s), 1)

	// Moving the use above its definition severs the dependency.
	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.MoveStyleRequest{
			StyleID: useCell,
			AfterID: notebook.StyleTop,
		}}, false)
	require.NoError(t, err)
	require.Empty(t, dependencies(s))

	// Moving it back restores it.
	_, _, err = s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.MoveStyleRequest{
			StyleID: useCell,
			AfterID: defCell,
		}}, false)
	require.NoError(t, err)
	require.Len(t, dependencies(s), 1)
}

func TestSymbolClassifier_EditedFormulaReclassifies(t *testing.T) {
	s := newClassifierSession(t)

	cell := insertFormula(t, s, "x = 4", notebook.StyleBottom)
	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.ChangeStyleRequest{
			StyleID: cell,
			Data:    notebook.WolframData{Expr: "y = z + 1"},
		}}, false)
	require.NoError(t, err)

	def := definitionOf(t, s, cell)
	require.Equal(t, notebook.SymbolData{Name: "y", Value: "z + 1"}, def.Data)

	defs := s.Doc().FindStyles(notebook.StylePattern{
		Role: notebook.RoleSymbolDefinition,
		Type: notebook.TypeSymbolData,
	}, cell)
	require.Len(t, defs, 1, "the stale definition must be replaced, not kept")

	uses := usesOf(s, cell)
	require.Len(t, uses, 1)
	require.Equal(t, notebook.SymbolData{Name: "z"}, uses[0].Data)
}

func TestSymbolClassifier_UnparseableFormula(t *testing.T) {
	s := newClassifierSession(t)
	cell := insertFormula(t, s, "x = ", notebook.StyleBottom)
	require.Empty(t, s.Doc().ChildStylesOf(cell))
}

func TestSymbolClassifier_LinearityViolationAborts(t *testing.T) {
	s := newClassifierSession(t)

	c1 := insertFormula(t, s, "x = 1", notebook.StyleBottom)
	c2 := insertFormula(t, s, "x = 2", notebook.StyleBottom)
	c3 := insertFormula(t, s, "x = 3", notebook.StyleBottom)
	d3 := definitionOf(t, s, c3)

	// Forge a second DUPLICATE-DEFINITION edge into the last definition.
	// The chain is now forked and the classifier must refuse to continue.
	_, _, err := s.RequestChanges(context.Background(), notebook.SourceUser,
		[]notebook.ChangeRequest{notebook.InsertRelationshipRequest{
			FromID: definitionOf(t, s, c1).ID,
			ToID:   d3.ID,
			Props:  notebook.RelationshipProperties{Role: notebook.RelationshipDuplicateDefinition},
		}}, false)
	require.Error(t, err)
	require.Equal(t, "Linearity of definitions broken", notebook.UserMessage(err))
	_ = c2
}
