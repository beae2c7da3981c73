// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observers implements the built-in notebook observers: the
// symbol classifier, the TeX formatter, and the CAS evaluator.
package observers

import (
	"context"
	"sort"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/expr"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// SymbolClassifier maintains the symbol layer of a notebook: SYMBOL-USE
// and SYMBOL-DEFINITION children of formula styles, SYMBOL-DEPENDENCY
// edges from each use to the latest earlier definition of its name, and
// DUPLICATE-DEFINITION edges chaining redefinitions in document order.
//
// Linking is backward-only: a use never depends on a definition that
// appears later in the notebook. At most one DUPLICATE-DEFINITION edge may
// target a definition; more than one is a broken document and aborts the
// batch.
type SymbolClassifier struct {
	session *server.Session
	logger  *logging.Logger
}

// NewSymbolClassifier is the ObserverFactory for the classifier.
func NewSymbolClassifier(s *server.Session) (server.Observer, error) {
	return &SymbolClassifier{
		session: s,
		logger:  s.Logger().With("observer", string(notebook.SourceSymbolClassifier)),
	}, nil
}

// OnChangesSync does nothing; the work happens in the async pass so
// linearity violations can abort the batch.
func (o *SymbolClassifier) OnChangesSync([]notebook.Change) []notebook.ChangeRequest {
	return nil
}

// OnChangesAsync classifies formulas and reconciles symbol relationships.
// Inserted and changed entities are handled incrementally; deletions and
// moves trigger a full recompute of every affected symbol name.
func (o *SymbolClassifier) OnChangesAsync(_ context.Context, changes []notebook.Change) ([]notebook.ChangeRequest, error) {
	doc := o.session.Doc()
	if err := o.validateLinearity(doc); err != nil {
		return nil, err
	}

	var out []notebook.ChangeRequest
	recompute := map[string]bool{}

	for _, change := range changes {
		switch c := change.(type) {
		case notebook.StyleInserted:
			reqs, err := o.onStyle(doc, c.Style.ID)
			if err != nil {
				return out, err
			}
			out = append(out, reqs...)
		case notebook.StyleChanged:
			reqs, err := o.onStyle(doc, c.Style.ID)
			if err != nil {
				return out, err
			}
			out = append(out, reqs...)
		case notebook.StyleDeleted:
			if name, ok := symbolName(c.Style); ok {
				recompute[name] = true
			}
		case notebook.StyleMoved:
			moved, err := doc.GetStyle(c.StyleID)
			if err != nil {
				continue
			}
			for _, name := range o.namesUnder(doc, moved) {
				recompute[name] = true
			}
		}
	}

	names := make([]string, 0, len(recompute))
	for name := range recompute {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		reqs, err := o.recomputeName(doc, name)
		if err != nil {
			return out, err
		}
		out = append(out, reqs...)
	}
	return out, nil
}

// UseTool is a no-op; the classifier exposes no tools.
func (o *SymbolClassifier) UseTool(context.Context, *notebook.Style) ([]notebook.ChangeRequest, error) {
	return nil, nil
}

// Close releases nothing.
func (o *SymbolClassifier) Close() error { return nil }

func (o *SymbolClassifier) onStyle(doc *notebook.Notebook, id notebook.StyleID) ([]notebook.ChangeRequest, error) {
	style, err := doc.GetStyle(id)
	if err != nil {
		// Deleted later in the same batch; the recompute set covers it.
		return nil, nil
	}
	if isFormula(style) {
		return o.classifyFormula(doc, style), nil
	}
	if name, ok := symbolName(style); ok {
		return o.linkSymbol(doc, style, name)
	}
	return nil, nil
}

func isFormula(s *notebook.Style) bool {
	return s.Type == notebook.TypeWolframExpression &&
		(s.Role == notebook.RoleInput || s.Role == notebook.RoleInputAlt)
}

func symbolName(s *notebook.Style) (string, bool) {
	if s.Type != notebook.TypeSymbolData {
		return "", false
	}
	if s.Role != notebook.RoleSymbolUse && s.Role != notebook.RoleSymbolDefinition {
		return "", false
	}
	data, ok := s.Data.(notebook.SymbolData)
	if !ok {
		return "", false
	}
	return data.Name, true
}

// classifyFormula derives the symbol children of a formula style: a
// SYMBOL-USE per symbol referenced, plus a SYMBOL-DEFINITION for an
// assignment or an EQUATION-DEFINITION for an equation. Existing uses are
// dropped and rebuilt; the definition child is exclusive.
func (o *SymbolClassifier) classifyFormula(doc *notebook.Notebook, style *notebook.Style) []notebook.ChangeRequest {
	data, ok := style.Data.(notebook.WolframData)
	if !ok {
		return nil
	}

	var out []notebook.ChangeRequest
	for _, child := range doc.ChildStylesOf(style.ID) {
		if child.Type == notebook.TypeSymbolData &&
			child.Role == notebook.RoleSymbolUse &&
			child.Source == notebook.SourceSymbolClassifier {
			out = append(out, notebook.DeleteStyleRequest{StyleID: child.ID})
		}
	}

	node, err := expr.Parse(data.Expr)
	if err != nil {
		// Unparseable input defines and uses nothing.
		o.logger.Debug("formula does not parse",
			"style", int(style.ID), "error", err.Error())
		return out
	}

	var uses []string
	var defProps *notebook.StyleProperties
	switch n := node.(type) {
	case expr.Assign:
		uses = expr.Symbols(n.Value)
		defProps = &notebook.StyleProperties{
			Role: notebook.RoleSymbolDefinition,
			Type: notebook.TypeSymbolData,
			Data: notebook.SymbolData{Name: n.Name, Value: n.Value.String()},

			ExclusiveChildTypeAndRole: true,
		}
	case expr.Equation:
		uses = expr.Symbols(node)
		defProps = &notebook.StyleProperties{
			Role: notebook.RoleEquationDefinition,
			Type: notebook.TypeEquationData,
			Data: notebook.EquationData{LHS: n.L.String(), RHS: n.R.String()},

			ExclusiveChildTypeAndRole: true,
		}
	default:
		uses = expr.Symbols(node)
	}

	for _, name := range uses {
		out = append(out, notebook.InsertStyleRequest{
			ParentID: style.ID,
			Props: notebook.StyleProperties{
				Role: notebook.RoleSymbolUse,
				Type: notebook.TypeSymbolData,
				Data: notebook.SymbolData{Name: name},
			},
		})
	}
	if defProps != nil {
		// Skip the rewrite when the definition is already current, so a
		// no-op change settles without churning the definition chain.
		if existing := doc.FindStyle(notebook.StylePattern{
			Role: defProps.Role,
			Type: defProps.Type,
		}, style.ID); existing == nil || existing.Data != defProps.Data {
			out = append(out, notebook.InsertStyleRequest{
				ParentID: style.ID,
				Props:    *defProps,
			})
		}
	}
	return out
}

// linkSymbol incrementally reconciles relationships around one inserted
// symbol style.
func (o *SymbolClassifier) linkSymbol(doc *notebook.Notebook, style *notebook.Style, name string) ([]notebook.ChangeRequest, error) {
	pos, err := doc.TopLevelStylePosition(style.ID)
	if err != nil {
		return nil, err
	}

	var out []notebook.ChangeRequest
	switch style.Role {
	case notebook.RoleSymbolUse:
		if len(doc.FindRelationships(notebook.RelationshipPattern{
			ToID: style.ID,
			Role: notebook.RelationshipSymbolDependency,
		})) > 0 {
			return nil, nil
		}
		def := o.latestDefBefore(doc, name, pos, style.ID)
		if def != nil {
			out = append(out, notebook.InsertRelationshipRequest{
				FromID: def.ID,
				ToID:   style.ID,
				Props:  notebook.RelationshipProperties{Role: notebook.RelationshipSymbolDependency},
			})
		}

	case notebook.RoleSymbolDefinition:
		prior := o.latestDefBefore(doc, name, pos, style.ID)
		if prior != nil {
			if len(doc.FindRelationships(notebook.RelationshipPattern{
				ToID: style.ID,
				Role: notebook.RelationshipDuplicateDefinition,
			})) == 0 {
				out = append(out, notebook.InsertRelationshipRequest{
					FromID: prior.ID,
					ToID:   style.ID,
					Props:  notebook.RelationshipProperties{Role: notebook.RelationshipDuplicateDefinition},
				})
			}
			// Dependents of the prior definition that sit after the new
			// one now belong to it.
			for _, r := range doc.FindRelationships(notebook.RelationshipPattern{
				FromID: prior.ID,
				Role:   notebook.RelationshipSymbolDependency,
			}) {
				usePos, err := doc.TopLevelStylePosition(r.ToID)
				if err != nil {
					continue
				}
				if usePos > pos {
					out = append(out,
						notebook.DeleteRelationshipRequest{RelationshipID: r.ID},
						notebook.InsertRelationshipRequest{
							FromID: style.ID,
							ToID:   r.ToID,
							Props:  notebook.RelationshipProperties{Role: notebook.RelationshipSymbolDependency},
						},
					)
				}
			}
		}
		// Later uses of the name that had no definition to depend on.
		for _, use := range o.symbolStyles(doc, name, notebook.RoleSymbolUse) {
			usePos, err := doc.TopLevelStylePosition(use.ID)
			if err != nil || usePos <= pos {
				continue
			}
			if len(doc.FindRelationships(notebook.RelationshipPattern{
				ToID: use.ID,
				Role: notebook.RelationshipSymbolDependency,
			})) == 0 {
				out = append(out, notebook.InsertRelationshipRequest{
					FromID: style.ID,
					ToID:   use.ID,
					Props:  notebook.RelationshipProperties{Role: notebook.RelationshipSymbolDependency},
				})
			}
		}
	}
	return out, nil
}

type symbolEdge struct {
	from notebook.StyleID
	to   notebook.StyleID
	role notebook.RelationshipRole
}

// recomputeName rebuilds the relationship layer for one symbol name from
// current document state and emits the diff against what exists. Used
// after deletions and moves, where incremental relinking would need the
// pre-mutation positions.
func (o *SymbolClassifier) recomputeName(doc *notebook.Notebook, name string) ([]notebook.ChangeRequest, error) {
	defs := o.symbolStyles(doc, name, notebook.RoleSymbolDefinition)
	uses := o.symbolStyles(doc, name, notebook.RoleSymbolUse)

	type positioned struct {
		style *notebook.Style
		pos   int
	}
	position := func(styles []*notebook.Style) []positioned {
		out := make([]positioned, 0, len(styles))
		for _, s := range styles {
			pos, err := doc.TopLevelStylePosition(s.ID)
			if err != nil {
				continue
			}
			out = append(out, positioned{style: s, pos: pos})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].pos < out[j].pos })
		return out
	}
	pdefs := position(defs)
	puses := position(uses)

	desired := map[symbolEdge]bool{}
	for i := 1; i < len(pdefs); i++ {
		desired[symbolEdge{
			from: pdefs[i-1].style.ID,
			to:   pdefs[i].style.ID,
			role: notebook.RelationshipDuplicateDefinition,
		}] = true
	}
	for _, u := range puses {
		var def *notebook.Style
		for _, d := range pdefs {
			if d.pos < u.pos {
				def = d.style
			}
		}
		if def != nil {
			desired[symbolEdge{
				from: def.ID,
				to:   u.style.ID,
				role: notebook.RelationshipSymbolDependency,
			}] = true
		}
	}

	styleIDs := map[notebook.StyleID]bool{}
	for _, s := range defs {
		styleIDs[s.ID] = true
	}
	for _, s := range uses {
		styleIDs[s.ID] = true
	}

	var out []notebook.ChangeRequest
	current := map[symbolEdge]bool{}
	for _, r := range doc.AllRelationships() {
		if r.Role != notebook.RelationshipSymbolDependency &&
			r.Role != notebook.RelationshipDuplicateDefinition {
			continue
		}
		if !styleIDs[r.FromID] && !styleIDs[r.ToID] {
			continue
		}
		edge := symbolEdge{from: r.FromID, to: r.ToID, role: r.Role}
		if !desired[edge] || current[edge] {
			out = append(out, notebook.DeleteRelationshipRequest{RelationshipID: r.ID})
			continue
		}
		current[edge] = true
	}
	edges := make([]symbolEdge, 0, len(desired))
	for edge := range desired {
		if !current[edge] {
			edges = append(edges, edge)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})
	for _, edge := range edges {
		out = append(out, notebook.InsertRelationshipRequest{
			FromID: edge.from,
			ToID:   edge.to,
			Props:  notebook.RelationshipProperties{Role: edge.role},
		})
	}
	return out, nil
}

// latestDefBefore finds the definition of name in the cell closest before
// pos, or nil.
func (o *SymbolClassifier) latestDefBefore(doc *notebook.Notebook, name string, pos int, excludeID notebook.StyleID) *notebook.Style {
	var best *notebook.Style
	bestPos := -1
	for _, def := range o.symbolStyles(doc, name, notebook.RoleSymbolDefinition) {
		if def.ID == excludeID {
			continue
		}
		defPos, err := doc.TopLevelStylePosition(def.ID)
		if err != nil {
			continue
		}
		if defPos < pos && defPos > bestPos {
			best = def
			bestPos = defPos
		}
	}
	return best
}

func (o *SymbolClassifier) symbolStyles(doc *notebook.Notebook, name string, role notebook.StyleRole) []*notebook.Style {
	all := doc.FindStyles(notebook.StylePattern{
		Type:      notebook.TypeSymbolData,
		Role:      role,
		Recursive: true,
	}, 0)
	var out []*notebook.Style
	for _, s := range all {
		if data, ok := s.Data.(notebook.SymbolData); ok && data.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (o *SymbolClassifier) namesUnder(doc *notebook.Notebook, root *notebook.Style) []string {
	seen := map[string]bool{}
	var names []string
	var walk func(s *notebook.Style)
	walk = func(s *notebook.Style) {
		if name, ok := symbolName(s); ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		for _, child := range doc.ChildStylesOf(s.ID) {
			walk(child)
		}
	}
	walk(root)
	return names
}

// validateLinearity checks that no definition is targeted by more than one
// DUPLICATE-DEFINITION edge. A violation means the chain forked, which the
// classifier never produces; it indicates a corrupted document.
func (o *SymbolClassifier) validateLinearity(doc *notebook.Notebook) error {
	incoming := map[notebook.StyleID]int{}
	for _, r := range doc.AllRelationships() {
		if r.Role == notebook.RelationshipDuplicateDefinition {
			incoming[r.ToID]++
		}
	}
	for id, n := range incoming {
		if n > 1 {
			o.logger.Error("definition chain forked",
				"style", int(id), "incoming", n)
			return notebook.NewUserError(nil, "Linearity of definitions broken")
		}
	}
	return nil
}
