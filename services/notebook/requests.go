// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"fmt"
	"sort"
)

// ApplyRequest converts a change request into concrete changes and applies
// them, allocating ids, expanding nested style properties, and cascading
// deletions to descendant styles and incident relationships. It returns the
// applied changes in application order and the inverse requests in undo
// order (apply them front to back to revert). Undo steps for deletions pin
// the original ids and sources, so later steps of a script keep resolving
// against the entities the earlier steps restored.
//
// Requests within a batch must be applied one at a time: the conversion of
// a request reads document state produced by the requests before it.
func (nb *Notebook) ApplyRequest(source StyleSource, req ChangeRequest) ([]Change, []ChangeRequest, error) {
	var changes []Change
	var undo []ChangeRequest
	var err error
	switch r := req.(type) {
	case InsertStyleRequest:
		_, err = nb.applyInsertStyle(source, r, &changes, &undo)
	case DeleteStyleRequest:
		err = nb.applyDeleteStyle(r.StyleID, &changes, &undo)
	case ChangeStyleRequest:
		err = nb.applyChangeStyle(r, &changes, &undo)
	case ConvertStyleRequest:
		err = nb.applyConvertStyle(r, &changes, &undo)
	case MoveStyleRequest:
		err = nb.applyMoveStyle(r, &changes, &undo)
	case InsertRelationshipRequest:
		_, err = nb.applyInsertRelationship(source, r, &changes, &undo)
	case DeleteRelationshipRequest:
		err = nb.applyDeleteRelationship(r.RelationshipID, &changes, &undo)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownChange, req)
	}
	if err != nil {
		return changes, undo, err
	}
	return changes, undo, nil
}

func (nb *Notebook) applyInsertStyle(source StyleSource, req InsertStyleRequest, changes *[]Change, undo *[]ChangeRequest) (*Style, error) {
	props := req.Props
	if props.ExclusiveChildTypeAndRole && req.ParentID != 0 {
		for _, sib := range nb.ChildStylesOf(req.ParentID) {
			if sib.Role == props.Role && sib.Type == props.Type {
				if err := nb.applyDeleteStyle(sib.ID, changes, undo); err != nil {
					return nil, err
				}
			}
		}
	}

	styleSource := source
	if req.Source != "" {
		styleSource = req.Source
	}
	style := &Style{
		ID:       nb.claimID(req.StyleID),
		ParentID: req.ParentID,
		Role:     props.Role,
		Subrole:  props.Subrole,
		Type:     props.Type,
		Source:   styleSource,
		Data:     props.Data,
	}
	if err := nb.ApplyChange(StyleInserted{Style: style, AfterID: req.AfterID}); err != nil {
		return nil, err
	}
	*changes = append(*changes, StyleInserted{Style: style, AfterID: req.AfterID})
	*undo = prepend(*undo, DeleteStyleRequest{StyleID: style.ID})

	for _, fromID := range sortedIDs(props.RelationsFrom) {
		rel := InsertRelationshipRequest{FromID: fromID, ToID: style.ID, Props: props.RelationsFrom[fromID]}
		if _, err := nb.applyInsertRelationship(source, rel, changes, undo); err != nil {
			return nil, err
		}
	}
	for _, toID := range sortedIDs(props.RelationsTo) {
		rel := InsertRelationshipRequest{FromID: style.ID, ToID: toID, Props: props.RelationsTo[toID]}
		if _, err := nb.applyInsertRelationship(source, rel, changes, undo); err != nil {
			return nil, err
		}
	}
	for _, sub := range props.Subprops {
		if _, err := nb.applyInsertStyle(source, InsertStyleRequest{ParentID: style.ID, Props: sub}, changes, undo); err != nil {
			return nil, err
		}
	}
	return style, nil
}

func (nb *Notebook) applyDeleteStyle(id StyleID, changes *[]Change, undo *[]ChangeRequest) error {
	root, err := nb.GetStyle(id)
	if err != nil {
		return err
	}

	subtree := map[StyleID]bool{}
	nb.collectSubtree(root, subtree)

	// Incident relationships go first so no change ever references a
	// deleted style.
	for _, r := range nb.AllRelationships() {
		for sid := range subtree {
			if r.Touches(sid) {
				if err := nb.applyDeleteRelationship(r.ID, changes, undo); err != nil {
					return err
				}
				break
			}
		}
	}
	return nb.applyDeleteStyleTree(root, changes, undo)
}

func (nb *Notebook) collectSubtree(s *Style, into map[StyleID]bool) {
	into[s.ID] = true
	for _, child := range nb.ChildStylesOf(s.ID) {
		nb.collectSubtree(child, into)
	}
}

// applyDeleteStyleTree deletes children before their parent so the document
// never contains an orphaned style.
func (nb *Notebook) applyDeleteStyleTree(s *Style, changes *[]Change, undo *[]ChangeRequest) error {
	for _, child := range nb.ChildStylesOf(s.ID) {
		if err := nb.applyDeleteStyleTree(child, changes, undo); err != nil {
			return err
		}
	}

	undoAfter := StyleBottom
	if s.ParentID == 0 {
		prev, err := nb.PrecedingStyleID(s.ID)
		if err != nil {
			return err
		}
		if prev == 0 {
			undoAfter = StyleTop
		} else {
			undoAfter = prev
		}
	}

	if err := nb.ApplyChange(StyleDeleted{Style: s}); err != nil {
		return err
	}
	*changes = append(*changes, StyleDeleted{Style: s})
	*undo = prepend(*undo, InsertStyleRequest{
		StyleID:  s.ID,
		ParentID: s.ParentID,
		AfterID:  undoAfter,
		Source:   s.Source,
		Props: StyleProperties{
			Role:    s.Role,
			Subrole: s.Subrole,
			Type:    s.Type,
			Data:    s.Data,
		},
	})
	return nil
}

func (nb *Notebook) applyChangeStyle(req ChangeStyleRequest, changes *[]Change, undo *[]ChangeRequest) error {
	s, err := nb.GetStyle(req.StyleID)
	if err != nil {
		return err
	}
	if req.Data != nil && req.Data.DataType() != s.Type {
		return fmt.Errorf("style %d: %s data on %s style: %w",
			s.ID, req.Data.DataType(), s.Type, ErrDataTypeMismatch)
	}
	prev := s.Data
	next := s.Clone()
	next.Data = req.Data
	if err := nb.ApplyChange(StyleChanged{Style: next, PreviousData: prev}); err != nil {
		return err
	}
	*changes = append(*changes, StyleChanged{Style: next, PreviousData: prev})
	*undo = prepend(*undo, ChangeStyleRequest{StyleID: s.ID, Data: prev})
	return nil
}

func (nb *Notebook) applyConvertStyle(req ConvertStyleRequest, changes *[]Change, undo *[]ChangeRequest) error {
	s, err := nb.GetStyle(req.StyleID)
	if err != nil {
		return err
	}
	inverse := ConvertStyleRequest{
		StyleID: s.ID,
		Role:    s.Role,
		Subrole: s.Subrole,
		Type:    s.Type,
		Data:    s.Data,
	}
	change := StyleConverted{
		StyleID: req.StyleID,
		Role:    req.Role,
		Subrole: req.Subrole,
		Type:    req.Type,
		Data:    req.Data,
	}
	if err := nb.ApplyChange(change); err != nil {
		return err
	}
	*changes = append(*changes, change)
	*undo = prepend(*undo, inverse)
	return nil
}

func (nb *Notebook) applyMoveStyle(req MoveStyleRequest, changes *[]Change, undo *[]ChangeRequest) error {
	s, err := nb.GetStyle(req.StyleID)
	if err != nil {
		return err
	}
	if s.ParentID != 0 {
		return fmt.Errorf("style %d: %w", s.ID, ErrNotTopLevel)
	}
	order := nb.pages[0].StyleIDs
	oldPos := indexOf(order, s.ID)
	if oldPos < 0 {
		return fmt.Errorf("style %d not in page order: %w", s.ID, ErrNotTopLevel)
	}

	// Positions are computed against the order with the style removed,
	// which is how the reinsertion index is interpreted.
	var newPos int
	switch req.AfterID {
	case StyleTop:
		newPos = 0
	case StyleBottom:
		newPos = len(order) - 1
	default:
		idx := indexOf(order, req.AfterID)
		if idx < 0 {
			return fmt.Errorf("afterId %d: %w", req.AfterID, ErrStyleNotFound)
		}
		if idx > oldPos {
			idx--
		}
		newPos = idx + 1
	}

	undoAfter := StyleTop
	if oldPos > 0 {
		undoAfter = order[oldPos-1]
	}

	change := StyleMoved{
		StyleID:     req.StyleID,
		AfterID:     req.AfterID,
		OldPosition: oldPos,
		NewPosition: newPos,
	}
	if err := nb.ApplyChange(change); err != nil {
		return err
	}
	*changes = append(*changes, change)
	*undo = prepend(*undo, MoveStyleRequest{StyleID: req.StyleID, AfterID: undoAfter})
	return nil
}

func (nb *Notebook) applyInsertRelationship(source StyleSource, req InsertRelationshipRequest, changes *[]Change, undo *[]ChangeRequest) (*Relationship, error) {
	if _, err := nb.GetStyle(req.FromID); err != nil {
		return nil, fmt.Errorf("relationship source: %w", err)
	}
	if _, err := nb.GetStyle(req.ToID); err != nil {
		return nil, fmt.Errorf("relationship target: %w", err)
	}
	relSource := source
	if req.Source != "" {
		relSource = req.Source
	}
	props := req.Props
	r := &Relationship{
		ID:        RelationshipID(nb.claimID(StyleID(req.RelationshipID))),
		Role:      props.Role,
		Source:    relSource,
		FromID:    req.FromID,
		ToID:      req.ToID,
		InStyles:  []RelationshipStyle{{Role: EndpointLegacy, ID: req.FromID}},
		OutStyles: []RelationshipStyle{{Role: EndpointLegacy, ID: req.ToID}},
		Status:    props.Status,
		Logic:     props.Logic,
		Data:      props.Data,
	}
	if err := nb.ApplyChange(RelationshipInserted{Relationship: r}); err != nil {
		return nil, err
	}
	*changes = append(*changes, RelationshipInserted{Relationship: r})
	*undo = prepend(*undo, DeleteRelationshipRequest{RelationshipID: r.ID})
	return r, nil
}

func (nb *Notebook) applyDeleteRelationship(id RelationshipID, changes *[]Change, undo *[]ChangeRequest) error {
	r, err := nb.GetRelationship(id)
	if err != nil {
		return err
	}
	if err := nb.ApplyChange(RelationshipDeleted{Relationship: r}); err != nil {
		return err
	}
	*changes = append(*changes, RelationshipDeleted{Relationship: r})
	*undo = prepend(*undo, InsertRelationshipRequest{
		RelationshipID: r.ID,
		FromID:         r.FromID,
		ToID:           r.ToID,
		Source:         r.Source,
		Props: RelationshipProperties{
			Role:   r.Role,
			Status: r.Status,
			Logic:  r.Logic,
			Data:   r.Data,
		},
	})
	return nil
}

func prepend(reqs []ChangeRequest, req ChangeRequest) []ChangeRequest {
	return append([]ChangeRequest{req}, reqs...)
}

func sortedIDs(m map[StyleID]RelationshipProperties) []StyleID {
	ids := make([]StyleID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
