// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

// Change is one applied document mutation, past tense. The set of variants
// is closed: StyleInserted, StyleChanged, StyleConverted, StyleDeleted,
// StyleMoved, RelationshipInserted, RelationshipDeleted. Changes are facts
// about mutations that have happened (or, for the delete-like variants, are
// about to happen when watchers are notified).
type Change interface {
	changeVariant()
}

// StyleInserted reports a new style. AfterID carries the requested position
// for top-level styles (StyleTop, StyleBottom, or a sibling id); it is
// advisory for clients and zero for non-top-level styles.
type StyleInserted struct {
	Style   *Style
	AfterID StyleID
}

// StyleChanged reports replaced style data. Style carries the new data;
// PreviousData is the payload it replaced.
type StyleChanged struct {
	Style        *Style
	PreviousData StyleData
}

// StyleConverted reports in-place retagging of a style. Zero-valued fields
// were left unchanged. Watchers are notified before the mutation.
type StyleConverted struct {
	StyleID StyleID
	Role    StyleRole
	Subrole StyleSubrole
	Type    StyleType
	Data    StyleData
}

// StyleDeleted reports a style removal. Style is the full pre-deletion
// object; watchers are notified before the mutation so the document can
// still be queried around it.
type StyleDeleted struct {
	Style *Style
}

// StyleMoved reports a top-level reordering. Positions are indexes into the
// page's style order: the style is removed from OldPosition and reinserted
// at NewPosition.
type StyleMoved struct {
	StyleID     StyleID
	AfterID     StyleID
	OldPosition int
	NewPosition int
}

// RelationshipInserted reports a new relationship.
type RelationshipInserted struct {
	Relationship *Relationship
}

// RelationshipDeleted reports a relationship removal. Relationship is the
// full pre-deletion object; watchers are notified before the mutation.
type RelationshipDeleted struct {
	Relationship *Relationship
}

func (StyleInserted) changeVariant()        {}
func (StyleChanged) changeVariant()         {}
func (StyleConverted) changeVariant()       {}
func (StyleDeleted) changeVariant()         {}
func (StyleMoved) changeVariant()           {}
func (RelationshipInserted) changeVariant() {}
func (RelationshipDeleted) changeVariant()  {}

// ChangeRequest is one requested document mutation, future tense. Requests
// originate from clients and observers; the notebook converts each request
// into zero or more Changes, allocating ids and cascading deletions.
type ChangeRequest interface {
	requestVariant()
}

// InsertStyleRequest asks for a new style under ParentID (0 for top level).
// AfterID positions top-level styles: StyleTop, StyleBottom, or the id of
// the sibling to insert after.
//
// StyleID and Source are set on undo scripts so a deleted style comes back
// under its original id and author; zero values allocate a fresh id and
// attribute the style to the requester. Ids are never reused, so a
// restored id cannot collide with a live style.
type InsertStyleRequest struct {
	StyleID  StyleID
	ParentID StyleID
	AfterID  StyleID
	Source   StyleSource
	Props    StyleProperties
}

// DeleteStyleRequest asks for removal of a style, its descendant styles,
// and every relationship touching any of them.
type DeleteStyleRequest struct {
	StyleID StyleID
}

// ChangeStyleRequest asks for replacement of a style's data.
type ChangeStyleRequest struct {
	StyleID StyleID
	Data    StyleData
}

// ConvertStyleRequest asks for in-place retagging. Zero-valued fields are
// left unchanged.
type ConvertStyleRequest struct {
	StyleID StyleID
	Role    StyleRole
	Subrole StyleSubrole
	Type    StyleType
	Data    StyleData
}

// MoveStyleRequest asks for a top-level style to be repositioned after
// AfterID (StyleTop, StyleBottom, or a sibling id).
type MoveStyleRequest struct {
	StyleID StyleID
	AfterID StyleID
}

// InsertRelationshipRequest asks for a new relationship from FromID to
// ToID. RelationshipID and Source follow the same undo-script convention
// as InsertStyleRequest.
type InsertRelationshipRequest struct {
	RelationshipID RelationshipID
	FromID         StyleID
	ToID           StyleID
	Source         StyleSource
	Props          RelationshipProperties
}

// DeleteRelationshipRequest asks for removal of a relationship.
type DeleteRelationshipRequest struct {
	RelationshipID RelationshipID
}

func (InsertStyleRequest) requestVariant()        {}
func (DeleteStyleRequest) requestVariant()        {}
func (ChangeStyleRequest) requestVariant()        {}
func (ConvertStyleRequest) requestVariant()       {}
func (MoveStyleRequest) requestVariant()          {}
func (InsertRelationshipRequest) requestVariant() {}
func (DeleteRelationshipRequest) requestVariant() {}
