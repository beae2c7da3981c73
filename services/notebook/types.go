// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notebook implements the math-tablet document model: styles,
// relationships, the ordered top-level cell sequence, and the change
// protocol that is the only way the document is mutated.
//
// # Ownership Model
//
// A Notebook exclusively owns every Style and Relationship reachable from
// it. Observers and views hold ids, not authoritative copies; any pointer
// obtained from a lookup must be re-resolved after an await point.
//
// # Thread Safety
//
// Notebook is NOT safe for concurrent use. The server session serializes
// all access per open document; see services/notebook/server.
package notebook

// StyleID identifies a style. Ids are allocated from a single monotonically
// increasing counter shared with relationships, starting at 1. Id 0 is
// reserved: a style with ParentID 0 is a top-level style (a cell, called a
// "thought" in early versions of this project).
type StyleID int

// RelationshipID identifies a relationship. Drawn from the same counter as
// style ids.
type RelationshipID int

// Sentinel AfterID values for positioning top-level styles.
const (
	// StyleTop inserts or moves the style to the front of the notebook.
	StyleTop StyleID = 0
	// StyleBottom inserts or moves the style to the end of the notebook.
	StyleBottom StyleID = -1
)

// StyleRole is the semantic tag of a style.
type StyleRole string

const (
	RoleAttribute          StyleRole = "ATTRIBUTE"
	RoleDecoration         StyleRole = "DECORATION"
	RoleEquationDefinition StyleRole = "EQUATION-DEFINITION"
	RoleEquivalentChecks   StyleRole = "EQUIVALENT-CHECKS"
	RoleEvaluation         StyleRole = "EVALUATION"
	RoleEvaluationError    StyleRole = "EVALUATION-ERROR"
	RoleFormula            StyleRole = "FORMULA"
	RoleInput              StyleRole = "INPUT"
	RoleInputAlt           StyleRole = "INPUT-ALT"
	RoleRepresentation     StyleRole = "REPRESENTATION"
	RoleSimplification     StyleRole = "SIMPLIFICATION"
	RoleSymbolDefinition   StyleRole = "SYMBOL-DEFINITION"
	RoleSymbolUse          StyleRole = "SYMBOL-USE"
	RoleText               StyleRole = "TEXT"
	RoleUnknown            StyleRole = "UNKNOWN"
)

// StyleSubrole optionally refines a role.
type StyleSubrole string

const (
	SubroleAssume     StyleSubrole = "ASSUME"
	SubroleDefinition StyleSubrole = "DEFINITION"
	SubroleNormal     StyleSubrole = "NORMAL"
	SubroleOther      StyleSubrole = "OTHER"
	SubroleProve      StyleSubrole = "PROVE"
	SubroleUnknown    StyleSubrole = "UNKNOWN"
)

// StyleType is the payload shape tag of a style. Each type corresponds to
// exactly one StyleData variant; the correspondence is enforced in the JSON
// codec and checked on insertion.
type StyleType string

const (
	TypeEquationData      StyleType = "EQUATION-DATA"
	TypeEquivalenceData   StyleType = "EQUIVALENCE-DATA"
	TypeNone              StyleType = "NONE"
	TypePlainText         StyleType = "PLAIN-TEXT"
	TypeStrokeData        StyleType = "STROKE-DATA"
	TypeSymbolData        StyleType = "SYMBOL-DATA"
	TypeTexExpression     StyleType = "TEX-EXPRESSION"
	TypeToolData          StyleType = "TOOL-DATA"
	TypeWolframExpression StyleType = "WOLFRAM-EXPRESSION"
)

// StyleSource is the provenance tag of a style or relationship: USER for
// direct input, otherwise the name of the observer that derived it.
type StyleSource string

const (
	SourceCASEvaluator     StyleSource = "CAS-EVALUATOR"
	SourceMyScript         StyleSource = "MYSCRIPT"
	SourceSymbolClassifier StyleSource = "SYMBOL-CLASSIFIER"
	SourceSystem           StyleSource = "SYSTEM"
	SourceTest             StyleSource = "TEST"
	SourceTexFormatter     StyleSource = "TEX-FORMATTER"
	SourceUser             StyleSource = "USER"
)

// RelationshipRole is the semantic tag of a relationship.
type RelationshipRole string

const (
	RelationshipSymbolDependency    RelationshipRole = "SYMBOL-DEPENDENCY"
	RelationshipDuplicateDefinition RelationshipRole = "DUPLICATE-DEFINITION"
	RelationshipEquivalence         RelationshipRole = "EQUIVALENCE"
	RelationshipTransformation      RelationshipRole = "TRANSFORMATION"
	RelationshipUserDefined         RelationshipRole = "USER-DEFINED"
)

// RelationshipStyleRole tags an endpoint in a multi-style relationship.
type RelationshipStyleRole string

const (
	EndpointLegacy        RelationshipStyleRole = "LEGACY"
	EndpointInputFormula  RelationshipStyleRole = "INPUT-FORMULA"
	EndpointOutputFormula RelationshipStyleRole = "OUTPUT-FORMULA"
)

// RelationshipStyle is a role-tagged endpoint of a relationship.
type RelationshipStyle struct {
	Role RelationshipStyleRole `json:"role"`
	ID   StyleID               `json:"id"`
}

// HintStatus records the outcome of an equivalence check.
type HintStatus int

const (
	HintStatusUnknown HintStatus = iota
	HintStatusCorrect
	HintStatusIncorrect
)

// HintRelationship records the logical relation asserted by a hint.
type HintRelationship int

const (
	HintUnknown HintRelationship = iota
	HintEquivalent
	HintNotEquivalent
	HintImplies
	HintImpliedBy
)

// StyleData is the tagged union of style payloads. Exactly one variant
// exists per StyleType; DataType reports the corresponding tag.
type StyleData interface {
	DataType() StyleType
}

// WolframData is the payload of a WOLFRAM-EXPRESSION style: an expression
// in the input language (Wolfram-flavored infix).
type WolframData struct {
	Expr string `json:"expr"`
}

func (WolframData) DataType() StyleType { return TypeWolframExpression }

// TexData is the payload of a TEX-EXPRESSION style.
type TexData struct {
	TeX string `json:"tex"`
}

func (TexData) DataType() StyleType { return TypeTexExpression }

// SymbolData is the payload of a SYMBOL-DATA style. Value is set only on
// SYMBOL-DEFINITION styles; a SYMBOL-USE carries just the name.
type SymbolData struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

func (SymbolData) DataType() StyleType { return TypeSymbolData }

// EquationData is the payload of an EQUATION-DATA style: an equality that
// is a relation, not an assignment.
type EquationData struct {
	LHS string `json:"lhs"`
	RHS string `json:"rhs"`
}

func (EquationData) DataType() StyleType { return TypeEquationData }

// TextData is the payload of a PLAIN-TEXT style.
type TextData struct {
	Text string `json:"text"`
}

func (TextData) DataType() StyleType { return TypePlainText }

// NoneData is the payload of a NONE style.
type NoneData struct{}

func (NoneData) DataType() StyleType { return TypeNone }

// Stroke is a single pen stroke as parallel coordinate arrays.
type Stroke struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// StrokeData is the payload of a STROKE-DATA style: the user's raw
// handwriting, prior to recognition.
type StrokeData struct {
	Strokes []Stroke `json:"strokes"`
}

func (StrokeData) DataType() StyleType { return TypeStrokeData }

// ToolData is the payload of a TOOL-DATA style: a tool button the client
// renders next to the parent style. StyleID names the style the tool
// operates on.
type ToolData struct {
	Name    string  `json:"name"`
	HTML    string  `json:"html"`
	StyleID StyleID `json:"styleId"`
}

func (ToolData) DataType() StyleType { return TypeToolData }

// EquivalenceData is the payload of an EQUIVALENCE-DATA style: for each
// checked style id, whether it is equivalent to the parent expression.
type EquivalenceData struct {
	Results map[StyleID]bool `json:"results"`
}

func (EquivalenceData) DataType() StyleType { return TypeEquivalenceData }

// Style is the fundamental annotation unit. A style is attached to another
// style through ParentID, or is a top-level cell when ParentID is 0. Every
// ancestor chain terminates at a top-level style.
type Style struct {
	ID       StyleID      `json:"id"`
	ParentID StyleID      `json:"parentId"`
	Role     StyleRole    `json:"role"`
	Subrole  StyleSubrole `json:"subrole,omitempty"`
	Type     StyleType    `json:"type"`
	Source   StyleSource  `json:"source"`
	Data     StyleData    `json:"-"`
}

// Clone returns a shallow copy. StyleData variants are value types, so a
// shallow copy is sufficient for snapshotting.
func (s *Style) Clone() *Style {
	c := *s
	return &c
}

// Relationship is a directed edge between two styles. FromID/ToID are the
// legacy two-endpoint form; InStyles/OutStyles carry the role-tagged
// endpoint sets. Relationships are never mutated in place: they are
// deleted and reinserted.
type Relationship struct {
	ID        RelationshipID      `json:"id"`
	Role      RelationshipRole    `json:"role"`
	Source    StyleSource         `json:"source"`
	FromID    StyleID             `json:"fromId"`
	ToID      StyleID             `json:"toId"`
	InStyles  []RelationshipStyle `json:"inStyles"`
	OutStyles []RelationshipStyle `json:"outStyles"`
	Status    HintStatus          `json:"status,omitempty"`
	Logic     HintRelationship    `json:"logic,omitempty"`
	Data      string              `json:"data,omitempty"`
}

// Touches reports whether id appears at either endpoint of the
// relationship, in either the legacy or the tagged endpoint form.
func (r *Relationship) Touches(id StyleID) bool {
	if r.FromID == id || r.ToID == id {
		return true
	}
	for _, rs := range r.InStyles {
		if rs.ID == id {
			return true
		}
	}
	for _, rs := range r.OutStyles {
		if rs.ID == id {
			return true
		}
	}
	return false
}

// RelationshipProperties are the caller-specified parts of a relationship
// insert request; the notebook supplies the id and endpoints.
type RelationshipProperties struct {
	Role   RelationshipRole `json:"role"`
	Status HintStatus       `json:"status,omitempty"`
	Logic  HintRelationship `json:"logic,omitempty"`
	Data   string           `json:"data,omitempty"`
}

// StyleProperties are the caller-specified parts of a style insert request.
// Subprops are inserted as children of the new style, depth-first.
// RelationsFrom maps another style id to a relationship pointing at the new
// style; RelationsTo maps to a relationship pointing away from it.
type StyleProperties struct {
	Role    StyleRole    `json:"role"`
	Subrole StyleSubrole `json:"subrole,omitempty"`
	Type    StyleType    `json:"type"`
	Data    StyleData    `json:"-"`

	// ExclusiveChildTypeAndRole requests that all existing siblings with
	// the same role and type be deleted before this style is inserted, so
	// that at most one such child survives.
	ExclusiveChildTypeAndRole bool `json:"exclusiveChildTypeAndRole,omitempty"`

	RelationsFrom map[StyleID]RelationshipProperties `json:"relationsFrom,omitempty"`
	RelationsTo   map[StyleID]RelationshipProperties `json:"relationsTo,omitempty"`
	Subprops      []StyleProperties                  `json:"subprops,omitempty"`
}

// StylePattern is a conjunctive match over style attributes. Zero-valued
// fields match anything. Recursive extends FindStyles into the subtrees of
// the styles it visits, matched or not, depth-first pre-order.
type StylePattern struct {
	Role      StyleRole
	Subrole   StyleSubrole
	Type      StyleType
	Source    StyleSource
	NotSource StyleSource
	Recursive bool
}

// Matches reports whether the style satisfies every constraint of the
// pattern. The Recursive flag is a traversal directive, not a constraint.
func (s *Style) Matches(p StylePattern) bool {
	if p.Role != "" && s.Role != p.Role {
		return false
	}
	if p.Subrole != "" && s.Subrole != p.Subrole {
		return false
	}
	if p.Type != "" && s.Type != p.Type {
		return false
	}
	if p.Source != "" && s.Source != p.Source {
		return false
	}
	if p.NotSource != "" && s.Source == p.NotSource {
		return false
	}
	return true
}

// RelationshipPattern is a conjunctive match over relationship attributes.
// FromID and ToID match against both the legacy endpoints and the tagged
// endpoint sets.
type RelationshipPattern struct {
	FromID StyleID
	ToID   StyleID
	Role   RelationshipRole
	Source StyleSource
}

// Matches reports whether the relationship satisfies the pattern.
func (r *Relationship) Matches(p RelationshipPattern) bool {
	if p.FromID != 0 && !r.hasInStyle(p.FromID) {
		return false
	}
	if p.ToID != 0 && !r.hasOutStyle(p.ToID) {
		return false
	}
	if p.Role != "" && r.Role != p.Role {
		return false
	}
	if p.Source != "" && r.Source != p.Source {
		return false
	}
	return true
}

func (r *Relationship) hasInStyle(id StyleID) bool {
	if r.FromID == id {
		return true
	}
	for _, rs := range r.InStyles {
		if rs.ID == id {
			return true
		}
	}
	return false
}

func (r *Relationship) hasOutStyle(id StyleID) bool {
	if r.ToID == id {
		return true
	}
	for _, rs := range r.OutStyles {
		if rs.ID == id {
			return true
		}
	}
	return false
}

// CssLength is a CSS length literal such as "8.5in" or "72pt".
type CssLength string

// CssSize is a width/height pair of CSS lengths.
type CssSize struct {
	Width  CssLength `json:"width"`
	Height CssLength `json:"height"`
}

// PageMargins are the four page margins.
type PageMargins struct {
	Top    CssLength `json:"top"`
	Right  CssLength `json:"right"`
	Bottom CssLength `json:"bottom"`
	Left   CssLength `json:"left"`
}

// PageConfig is the page geometry of a notebook.
type PageConfig struct {
	Size    CssSize     `json:"size"`
	Margins PageMargins `json:"margins"`
}

// Page holds the ordered ids of the top-level styles on one page.
type Page struct {
	StyleIDs []StyleID `json:"styleIds"`
}

// DefaultPageConfig returns US-letter geometry with one-inch margins.
func DefaultPageConfig() PageConfig {
	return PageConfig{
		Size: CssSize{Width: "8.5in", Height: "11in"},
		Margins: PageMargins{
			Top:    "72pt",
			Right:  "72pt",
			Bottom: "72pt",
			Left:   "72pt",
		},
	}
}
