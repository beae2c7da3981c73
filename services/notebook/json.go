// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"encoding/json"
	"fmt"
)

// FormatVersion is the persisted notebook format version. Loads require an
// exact match; there is no migration path between versions.
const FormatVersion = "0.0.16"

type styleRecord struct {
	ID       StyleID         `json:"id"`
	ParentID StyleID         `json:"parentId"`
	Role     StyleRole       `json:"role"`
	Subrole  StyleSubrole    `json:"subrole,omitempty"`
	Type     StyleType       `json:"type"`
	Source   StyleSource     `json:"source"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Object is the persisted form of a notebook.
type Object struct {
	NextID          StyleID                          `json:"nextId"`
	PageConfig      PageConfig                       `json:"pageConfig"`
	Pages           []Page                           `json:"pages"`
	RelationshipMap map[RelationshipID]*Relationship `json:"relationshipMap"`
	StyleMap        map[StyleID]styleRecord          `json:"styleMap"`
	Version         string                           `json:"version"`
}

// ToJSON serializes the notebook in the persisted Object form.
func (nb *Notebook) ToJSON() ([]byte, error) {
	obj := Object{
		NextID:          nb.nextID,
		PageConfig:      nb.pageConfig,
		Pages:           nb.pages,
		RelationshipMap: nb.relationships,
		StyleMap:        make(map[StyleID]styleRecord, len(nb.styleMap)),
		Version:         FormatVersion,
	}
	for id, s := range nb.styleMap {
		rec := styleRecord{
			ID:       s.ID,
			ParentID: s.ParentID,
			Role:     s.Role,
			Subrole:  s.Subrole,
			Type:     s.Type,
			Source:   s.Source,
		}
		if s.Data != nil {
			raw, err := json.Marshal(s.Data)
			if err != nil {
				return nil, fmt.Errorf("marshal style %d data: %w", id, err)
			}
			rec.Data = raw
		}
		obj.StyleMap[id] = rec
	}
	return json.Marshal(obj)
}

// FromJSON reconstructs a notebook from its persisted form. The version
// must match exactly; style data is decoded and validated per style type,
// and structural invariants (parent existence, page order consistency) are
// checked so a corrupted document fails at load rather than mid-session.
func FromJSON(data []byte) (*Notebook, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	if obj.Version != FormatVersion {
		return nil, NewUserError(ErrVersionMismatch,
			"notebook was written by an incompatible version (%q, expected %q)",
			obj.Version, FormatVersion)
	}

	nb := New()
	if obj.NextID > 0 {
		nb.nextID = obj.NextID
	}
	nb.pageConfig = obj.PageConfig
	if len(obj.Pages) > 0 {
		nb.pages = obj.Pages
	}

	for id, rec := range obj.StyleMap {
		if rec.ID != id {
			return nil, fmt.Errorf("%w: style map key %d holds style %d", ErrInvalidObject, id, rec.ID)
		}
		sd, err := decodeStyleData(rec.Type, rec.Data)
		if err != nil {
			return nil, fmt.Errorf("style %d: %w", id, err)
		}
		nb.styleMap[id] = &Style{
			ID:       rec.ID,
			ParentID: rec.ParentID,
			Role:     rec.Role,
			Subrole:  rec.Subrole,
			Type:     rec.Type,
			Source:   rec.Source,
			Data:     sd,
		}
	}
	for id, r := range obj.RelationshipMap {
		if r.ID != id {
			return nil, fmt.Errorf("%w: relationship map key %d holds relationship %d", ErrInvalidObject, id, r.ID)
		}
		nb.relationships[id] = r
	}

	if err := nb.validateStructure(); err != nil {
		return nil, err
	}
	return nb, nil
}

func (nb *Notebook) validateStructure() error {
	seen := map[StyleID]bool{}
	for _, id := range nb.pages[0].StyleIDs {
		s, ok := nb.styleMap[id]
		if !ok {
			return fmt.Errorf("%w: page order references missing style %d", ErrInvalidObject, id)
		}
		if s.ParentID != 0 {
			return fmt.Errorf("%w: page order references non-top-level style %d", ErrInvalidObject, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: style %d appears twice in page order", ErrInvalidObject, id)
		}
		seen[id] = true
	}
	for id, s := range nb.styleMap {
		if s.ParentID == 0 {
			if !seen[id] {
				return fmt.Errorf("%w: top-level style %d missing from page order", ErrInvalidObject, id)
			}
			continue
		}
		if _, ok := nb.styleMap[s.ParentID]; !ok {
			return fmt.Errorf("%w: style %d parent %d does not exist", ErrInvalidObject, id, s.ParentID)
		}
		if _, err := nb.TopLevelStyleOf(id); err != nil {
			return fmt.Errorf("%w: style %d: %v", ErrInvalidObject, id, err)
		}
	}
	for id, r := range nb.relationships {
		if _, ok := nb.styleMap[r.FromID]; !ok {
			return fmt.Errorf("%w: relationship %d source style %d does not exist", ErrInvalidObject, id, r.FromID)
		}
		if _, ok := nb.styleMap[r.ToID]; !ok {
			return fmt.Errorf("%w: relationship %d target style %d does not exist", ErrInvalidObject, id, r.ToID)
		}
	}
	return nil
}

// EncodeStyleData serializes a style payload. A nil payload encodes as an
// absent field.
func EncodeStyleData(sd StyleData) (json.RawMessage, error) {
	if sd == nil {
		return nil, nil
	}
	raw, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", sd.DataType(), err)
	}
	return raw, nil
}

// DecodeStyleData reconstructs the StyleData variant for a style type.
func DecodeStyleData(t StyleType, raw json.RawMessage) (StyleData, error) {
	return decodeStyleData(t, raw)
}

// decodeStyleData reconstructs the StyleData variant for a style type. The
// switch is exhaustive over the closed StyleType set; an unknown type is a
// load error, never a silently opaque payload.
func decodeStyleData(t StyleType, raw json.RawMessage) (StyleData, error) {
	if len(raw) == 0 {
		if t == TypeNone {
			return NoneData{}, nil
		}
		return nil, nil
	}
	var (
		sd  StyleData
		err error
	)
	switch t {
	case TypeWolframExpression:
		var v WolframData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypeTexExpression:
		var v TexData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypeSymbolData:
		var v SymbolData
		err = json.Unmarshal(raw, &v)
		if err == nil && v.Name == "" {
			err = fmt.Errorf("symbol data missing name")
		}
		sd = v
	case TypeEquationData:
		var v EquationData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypePlainText:
		var v TextData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypeStrokeData:
		var v StrokeData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypeToolData:
		var v ToolData
		err = json.Unmarshal(raw, &v)
		if err == nil && v.Name == "" {
			err = fmt.Errorf("tool data missing name")
		}
		sd = v
	case TypeEquivalenceData:
		var v EquivalenceData
		err = json.Unmarshal(raw, &v)
		sd = v
	case TypeNone:
		sd = NoneData{}
	default:
		return nil, fmt.Errorf("%w: unknown style type %q", ErrInvalidObject, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s data: %v", ErrInvalidObject, t, err)
	}
	return sd, nil
}
