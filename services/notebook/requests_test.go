// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// applyAll applies a request list front to back, as an undo script is
// meant to be applied.
func applyAll(t *testing.T, nb *Notebook, reqs []ChangeRequest) {
	t.Helper()
	for _, req := range reqs {
		_, _, err := nb.ApplyRequest(SourceTest, req)
		require.NoError(t, err)
	}
}

func TestApplyRequest_InsertExpansion(t *testing.T) {
	nb := New()
	anchor := insertCell(t, nb, "anchor")

	changes, _, err := nb.ApplyRequest(SourceTest, InsertStyleRequest{
		AfterID: StyleBottom,
		Props: StyleProperties{
			Role: RoleInput,
			Type: TypeWolframExpression,
			Data: WolframData{Expr: "x = 4"},
			RelationsFrom: map[StyleID]RelationshipProperties{
				anchor: {Role: RelationshipUserDefined},
			},
			Subprops: []StyleProperties{
				{Role: RoleSymbolDefinition, Type: TypeSymbolData, Data: SymbolData{Name: "x", Value: "4"}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, changes, 3)

	inserted := changes[0].(StyleInserted).Style
	rel := changes[1].(RelationshipInserted).Relationship
	child := changes[2].(StyleInserted).Style

	require.Equal(t, anchor, rel.FromID)
	require.Equal(t, inserted.ID, rel.ToID)
	require.Equal(t, inserted.ID, child.ParentID)
	require.Equal(t, SourceTest, child.Source)

	// Ids come from one counter, in conversion order.
	require.Less(t, int(inserted.ID), int(rel.ID))
	require.Less(t, int(rel.ID), int(child.ID))
}

func TestApplyRequest_DeleteCascade(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "x = 4")
	b := insertCell(t, nb, "x + 1")

	changes, _, err := nb.ApplyRequest(SourceTest, InsertStyleRequest{
		ParentID: a,
		Props:    StyleProperties{Role: RoleSymbolDefinition, Type: TypeSymbolData, Data: SymbolData{Name: "x", Value: "4"}},
	})
	require.NoError(t, err)
	def := changes[0].(StyleInserted).Style.ID

	_, _, err = nb.ApplyRequest(SourceTest, InsertRelationshipRequest{
		FromID: def, ToID: b,
		Props: RelationshipProperties{Role: RelationshipSymbolDependency},
	})
	require.NoError(t, err)

	changes, undo, err := nb.ApplyRequest(SourceTest, DeleteStyleRequest{StyleID: a})
	require.NoError(t, err)

	// Relationship first, then children before the parent.
	require.Len(t, changes, 3)
	_, ok := changes[0].(RelationshipDeleted)
	require.True(t, ok, "relationship should be deleted first, got %T", changes[0])
	require.Equal(t, def, changes[1].(StyleDeleted).Style.ID)
	require.Equal(t, a, changes[2].(StyleDeleted).Style.ID)

	require.False(t, nb.HasStyleID(a))
	require.False(t, nb.HasStyleID(def))
	require.Empty(t, nb.AllRelationships())

	// The undo script restores the subtree under its original ids, so the
	// child and relationship steps keep resolving against the styles the
	// earlier steps brought back.
	applyAll(t, nb, undo)
	require.Equal(t, []StyleID{a, b}, nb.TopLevelStyleOrder())
	restored, err := nb.GetStyle(a)
	require.NoError(t, err)
	require.Equal(t, WolframData{Expr: "x = 4"}, restored.Data)
	children := nb.ChildStylesOf(a)
	require.Len(t, children, 1)
	require.Equal(t, def, children[0].ID)
	require.Equal(t, SymbolData{Name: "x", Value: "4"}, children[0].Data)

	rels := nb.FindRelationships(RelationshipPattern{Role: RelationshipSymbolDependency})
	require.Len(t, rels, 1)
	require.Equal(t, def, rels[0].FromID)
	require.Equal(t, b, rels[0].ToID)
}

func TestApplyRequest_UndoPreservesSource(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "2 + 2")
	changes, _, err := nb.ApplyRequest(SourceCASEvaluator, InsertStyleRequest{
		ParentID: a,
		Props:    StyleProperties{Role: RoleEvaluation, Type: TypeWolframExpression, Data: WolframData{Expr: "4"}},
	})
	require.NoError(t, err)
	child := changes[0].(StyleInserted).Style.ID

	_, undo, err := nb.ApplyRequest(SourceUser, DeleteStyleRequest{StyleID: a})
	require.NoError(t, err)
	applyAll(t, nb, undo)

	restored, err := nb.GetStyle(child)
	require.NoError(t, err)
	require.Equal(t, SourceCASEvaluator, restored.Source,
		"a restored style keeps its original author, not the undoing requester")
	cell, err := nb.GetStyle(a)
	require.NoError(t, err)
	require.Equal(t, SourceTest, cell.Source)
}

func TestApplyRequest_DeleteRestoresPosition(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "a")
	b := insertCell(t, nb, "b")
	c := insertCell(t, nb, "c")

	_, undo, err := nb.ApplyRequest(SourceTest, DeleteStyleRequest{StyleID: b})
	require.NoError(t, err)
	applyAll(t, nb, undo)

	order := nb.TopLevelStyleOrder()
	require.Len(t, order, 3)
	require.Equal(t, a, order[0])
	require.Equal(t, c, order[2])
	middle, err := nb.GetStyle(order[1])
	require.NoError(t, err)
	require.Equal(t, WolframData{Expr: "b"}, middle.Data)
}

func TestApplyRequest_ExclusiveChild(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "2 + 2")

	insert := func(expr string) StyleID {
		changes, _, err := nb.ApplyRequest(SourceCASEvaluator, InsertStyleRequest{
			ParentID: a,
			Props: StyleProperties{
				Role:                      RoleEvaluation,
				Type:                      TypeWolframExpression,
				Data:                      WolframData{Expr: expr},
				ExclusiveChildTypeAndRole: true,
			},
		})
		require.NoError(t, err)
		return changes[len(changes)-1].(StyleInserted).Style.ID
	}

	first := insert("4")
	second := insert("4.0")

	require.False(t, nb.HasStyleID(first), "exclusive insert should delete the previous child")
	require.True(t, nb.HasStyleID(second))
	require.Len(t, nb.FindStyles(StylePattern{Role: RoleEvaluation}, a), 1)
}

func TestApplyRequest_ChangeStyle(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "before")

	t.Run("type mismatch rejected", func(t *testing.T) {
		_, _, err := nb.ApplyRequest(SourceTest, ChangeStyleRequest{
			StyleID: a,
			Data:    TextData{Text: "nope"},
		})
		require.ErrorIs(t, err, ErrDataTypeMismatch)
	})

	t.Run("undo restores previous data", func(t *testing.T) {
		_, undo, err := nb.ApplyRequest(SourceTest, ChangeStyleRequest{
			StyleID: a,
			Data:    WolframData{Expr: "after"},
		})
		require.NoError(t, err)
		s, err := nb.GetStyle(a)
		require.NoError(t, err)
		require.Equal(t, WolframData{Expr: "after"}, s.Data)

		applyAll(t, nb, undo)
		s, err = nb.GetStyle(a)
		require.NoError(t, err)
		require.Equal(t, WolframData{Expr: "before"}, s.Data)
	})
}

func TestApplyRequest_ConvertStyle(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "x")

	_, undo, err := nb.ApplyRequest(SourceTest, ConvertStyleRequest{
		StyleID: a,
		Role:    RoleText,
		Type:    TypePlainText,
		Data:    TextData{Text: "x"},
	})
	require.NoError(t, err)
	s, err := nb.GetStyle(a)
	require.NoError(t, err)
	require.Equal(t, RoleText, s.Role)
	require.Equal(t, TypePlainText, s.Type)

	applyAll(t, nb, undo)
	s, err = nb.GetStyle(a)
	require.NoError(t, err)
	require.Equal(t, RoleInput, s.Role)
	require.Equal(t, TypeWolframExpression, s.Type)
	require.Equal(t, WolframData{Expr: "x"}, s.Data)
}

func TestApplyRequest_MoveStyle(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "a")
	b := insertCell(t, nb, "b")
	c := insertCell(t, nb, "c")

	assertOrder := func(want ...StyleID) {
		t.Helper()
		got := nb.TopLevelStyleOrder()
		require.Equal(t, want, got)
	}

	t.Run("move to top", func(t *testing.T) {
		_, undo, err := nb.ApplyRequest(SourceTest, MoveStyleRequest{StyleID: c, AfterID: StyleTop})
		require.NoError(t, err)
		assertOrder(c, a, b)
		applyAll(t, nb, undo)
		assertOrder(a, b, c)
	})

	t.Run("move after earlier sibling", func(t *testing.T) {
		_, undo, err := nb.ApplyRequest(SourceTest, MoveStyleRequest{StyleID: c, AfterID: a})
		require.NoError(t, err)
		assertOrder(a, c, b)
		applyAll(t, nb, undo)
		assertOrder(a, b, c)
	})

	t.Run("move after later sibling", func(t *testing.T) {
		_, undo, err := nb.ApplyRequest(SourceTest, MoveStyleRequest{StyleID: a, AfterID: b})
		require.NoError(t, err)
		assertOrder(b, a, c)
		applyAll(t, nb, undo)
		assertOrder(a, b, c)
	})

	t.Run("move to bottom", func(t *testing.T) {
		_, _, err := nb.ApplyRequest(SourceTest, MoveStyleRequest{StyleID: a, AfterID: StyleBottom})
		require.NoError(t, err)
		assertOrder(b, c, a)
	})

	t.Run("non-top-level rejected", func(t *testing.T) {
		changes, _, err := nb.ApplyRequest(SourceTest, InsertStyleRequest{
			ParentID: b,
			Props:    StyleProperties{Role: RoleSymbolUse, Type: TypeSymbolData, Data: SymbolData{Name: "q"}},
		})
		require.NoError(t, err)
		child := changes[0].(StyleInserted).Style.ID
		_, _, err = nb.ApplyRequest(SourceTest, MoveStyleRequest{StyleID: child, AfterID: StyleTop})
		require.ErrorIs(t, err, ErrNotTopLevel)
	})
}

func TestApplyRequest_RelationshipEndpointChecks(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "a")
	_, _, err := nb.ApplyRequest(SourceTest, InsertRelationshipRequest{
		FromID: a, ToID: 999,
		Props: RelationshipProperties{Role: RelationshipUserDefined},
	})
	if !errors.Is(err, ErrStyleNotFound) {
		t.Errorf("got %v, want ErrStyleNotFound", err)
	}
}
