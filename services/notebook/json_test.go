// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSON_RoundTrip(t *testing.T) {
	nb := New()
	a := insertCell(t, nb, "x = 4")
	b := insertCell(t, nb, "x + 1")

	changes, _, err := nb.ApplyRequest(SourceSymbolClassifier, InsertStyleRequest{
		ParentID: a,
		Props:    StyleProperties{Role: RoleSymbolDefinition, Type: TypeSymbolData, Data: SymbolData{Name: "x", Value: "4"}},
	})
	require.NoError(t, err)
	def := changes[0].(StyleInserted).Style.ID

	_, _, err = nb.ApplyRequest(SourceSymbolClassifier, InsertRelationshipRequest{
		FromID: def, ToID: b,
		Props: RelationshipProperties{Role: RelationshipSymbolDependency},
	})
	require.NoError(t, err)

	data, err := nb.ToJSON()
	require.NoError(t, err)

	loaded, err := FromJSON(data)
	require.NoError(t, err)

	require.Equal(t, nb.TopLevelStyleOrder(), loaded.TopLevelStyleOrder())
	require.Len(t, loaded.AllStyles(), len(nb.AllStyles()))

	s, err := loaded.GetStyle(def)
	require.NoError(t, err)
	require.Equal(t, RoleSymbolDefinition, s.Role)
	require.Equal(t, SymbolData{Name: "x", Value: "4"}, s.Data)
	require.Equal(t, SourceSymbolClassifier, s.Source)

	rels := loaded.FindRelationships(RelationshipPattern{Role: RelationshipSymbolDependency})
	require.Len(t, rels, 1)
	require.Equal(t, def, rels[0].FromID)
	require.Equal(t, b, rels[0].ToID)

	// Id allocation continues where the original left off.
	next := insertCell(t, loaded, "y")
	require.False(t, nb.HasStyleID(next), "restored counter must not reuse ids")
}

func TestFromJSON_VersionMismatch(t *testing.T) {
	nb := New()
	insertCell(t, nb, "x")
	data, err := nb.ToJSON()
	require.NoError(t, err)

	tampered := strings.Replace(string(data), `"version":"`+FormatVersion+`"`, `"version":"0.0.1"`, 1)
	require.NotEqual(t, string(data), tampered, "test must actually change the version")

	_, err = FromJSON([]byte(tampered))
	require.ErrorIs(t, err, ErrVersionMismatch)
	require.NotEmpty(t, UserMessage(err), "version mismatch should be user-surfaceable")
}

func TestFromJSON_StructuralValidation(t *testing.T) {
	base := func(t *testing.T) Object {
		t.Helper()
		nb := New()
		insertCell(t, nb, "x")
		data, err := nb.ToJSON()
		require.NoError(t, err)
		var obj Object
		require.NoError(t, json.Unmarshal(data, &obj))
		return obj
	}

	marshal := func(t *testing.T, obj Object) []byte {
		t.Helper()
		data, err := json.Marshal(obj)
		require.NoError(t, err)
		return data
	}

	t.Run("page order referencing missing style", func(t *testing.T) {
		obj := base(t)
		obj.Pages[0].StyleIDs = append(obj.Pages[0].StyleIDs, 42)
		_, err := FromJSON(marshal(t, obj))
		require.ErrorIs(t, err, ErrInvalidObject)
	})

	t.Run("orphaned parent reference", func(t *testing.T) {
		obj := base(t)
		obj.StyleMap[40] = styleRecord{ID: 40, ParentID: 41, Role: RoleUnknown, Type: TypeNone}
		_, err := FromJSON(marshal(t, obj))
		require.ErrorIs(t, err, ErrInvalidObject)
	})

	t.Run("relationship with missing endpoint", func(t *testing.T) {
		obj := base(t)
		obj.RelationshipMap[50] = &Relationship{ID: 50, Role: RelationshipUserDefined, FromID: 1, ToID: 42}
		_, err := FromJSON(marshal(t, obj))
		require.ErrorIs(t, err, ErrInvalidObject)
	})

	t.Run("mismatched map key", func(t *testing.T) {
		obj := base(t)
		rec := obj.StyleMap[1]
		obj.StyleMap[7] = rec
		_, err := FromJSON(marshal(t, obj))
		require.ErrorIs(t, err, ErrInvalidObject)
	})

	t.Run("symbol data without a name", func(t *testing.T) {
		obj := base(t)
		obj.StyleMap[5] = styleRecord{
			ID: 5, ParentID: 1,
			Role: RoleSymbolUse, Type: TypeSymbolData,
			Data: json.RawMessage(`{"value":"4"}`),
		}
		_, err := FromJSON(marshal(t, obj))
		require.ErrorIs(t, err, ErrInvalidObject)
	})
}
