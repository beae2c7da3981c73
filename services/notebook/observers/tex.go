// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observers

import (
	"context"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/cas"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// TexFormatter decorates formula, symbol-definition, and
// equation-definition styles with a rendered TeX child. Decorations are
// recomputed when the underlying style changes and when a relationship is
// attached to or removed from it.
//
// Decoration is best effort: a conversion failure is logged and the style
// simply stays undecorated.
type TexFormatter struct {
	session *server.Session
	client  cas.Client
	logger  *logging.Logger
}

// NewTexFormatter returns the ObserverFactory for the formatter.
func NewTexFormatter(client cas.Client) server.ObserverFactory {
	return func(s *server.Session) (server.Observer, error) {
		return &TexFormatter{
			session: s,
			client:  client,
			logger:  s.Logger().With("observer", string(notebook.SourceTexFormatter)),
		}, nil
	}
}

// OnChangesSync does nothing; conversion goes through the CAS boundary.
func (o *TexFormatter) OnChangesSync([]notebook.Change) []notebook.ChangeRequest {
	return nil
}

// OnChangesAsync renders decorations for inserted and changed styles, and
// re-renders the endpoints of inserted and deleted relationships.
func (o *TexFormatter) OnChangesAsync(ctx context.Context, changes []notebook.Change) ([]notebook.ChangeRequest, error) {
	doc := o.session.Doc()
	var out []notebook.ChangeRequest
	seen := map[notebook.StyleID]bool{}

	handle := func(id notebook.StyleID) {
		if seen[id] {
			return
		}
		seen[id] = true
		style, err := doc.GetStyle(id)
		if err != nil {
			return
		}
		out = append(out, o.formatStyle(ctx, doc, style)...)
	}

	for _, change := range changes {
		switch c := change.(type) {
		case notebook.StyleInserted:
			handle(c.Style.ID)
		case notebook.StyleChanged:
			handle(c.Style.ID)
		case notebook.RelationshipInserted:
			handle(c.Relationship.FromID)
			handle(c.Relationship.ToID)
		case notebook.RelationshipDeleted:
			handle(c.Relationship.FromID)
			handle(c.Relationship.ToID)
		}
	}
	return out, nil
}

// UseTool is a no-op; the formatter exposes no tools.
func (o *TexFormatter) UseTool(context.Context, *notebook.Style) ([]notebook.ChangeRequest, error) {
	return nil, nil
}

// Close releases nothing.
func (o *TexFormatter) Close() error { return nil }

// formatStyle renders the TeX decoration for one style. An up-to-date
// decoration is left alone; a stale one is replaced.
func (o *TexFormatter) formatStyle(ctx context.Context, doc *notebook.Notebook, style *notebook.Style) []notebook.ChangeRequest {
	tex, ok := o.render(ctx, style)
	if !ok {
		return nil
	}

	existing := doc.FindStyle(notebook.StylePattern{
		Role:   notebook.RoleDecoration,
		Type:   notebook.TypeTexExpression,
		Source: notebook.SourceTexFormatter,
	}, style.ID)
	if existing != nil && existing.Data == (notebook.TexData{TeX: tex}) {
		return nil
	}

	var out []notebook.ChangeRequest
	if existing != nil {
		out = append(out, notebook.DeleteStyleRequest{StyleID: existing.ID})
	}
	out = append(out, notebook.InsertStyleRequest{
		ParentID: style.ID,
		Props: notebook.StyleProperties{
			Role: notebook.RoleDecoration,
			Type: notebook.TypeTexExpression,
			Data: notebook.TexData{TeX: tex},
		},
	})
	return out
}

func (o *TexFormatter) render(ctx context.Context, style *notebook.Style) (string, bool) {
	switch {
	case isFormula(style):
		data, ok := style.Data.(notebook.WolframData)
		if !ok {
			return "", false
		}
		return o.convert(ctx, style, data.Expr)

	case style.Role == notebook.RoleSymbolDefinition && style.Type == notebook.TypeSymbolData:
		data, ok := style.Data.(notebook.SymbolData)
		if !ok || data.Value == "" {
			return "", false
		}
		value, converted := o.convert(ctx, style, data.Value)
		if !converted {
			return "", false
		}
		return data.Name + " = " + value, true

	case style.Role == notebook.RoleEquationDefinition && style.Type == notebook.TypeEquationData:
		data, ok := style.Data.(notebook.EquationData)
		if !ok {
			return "", false
		}
		lhs, okL := o.convert(ctx, style, data.LHS)
		rhs, okR := o.convert(ctx, style, data.RHS)
		if !okL || !okR {
			return "", false
		}
		return lhs + " = " + rhs, true
	}
	return "", false
}

func (o *TexFormatter) convert(ctx context.Context, style *notebook.Style, text string) (string, bool) {
	tex, err := o.client.ConvertFormat(ctx, cas.FormatWolfram, cas.FormatTeX, text)
	if err != nil {
		o.logger.Debug("tex conversion failed",
			"style", int(style.ID), "error", err.Error())
		return "", false
	}
	return tex, true
}
