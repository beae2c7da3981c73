// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
)

// Rule declares one derivation: when a style matching Test appears, attach
// a child of the given role and type whose data Compute produces.
type Rule struct {
	// Name identifies the rule in logs.
	Name string

	// Test selects the styles the rule fires on.
	Test notebook.StylePattern

	// Role and Type of the produced child style.
	Role notebook.StyleRole
	Type notebook.StyleType

	// Exclusive recomputes on every matching change, deleting existing
	// children of the same role and type first. Without it the rule fires
	// at most once per style: an existing child of the produced role,
	// type, and source suppresses the rule.
	Exclusive bool

	// SuppressErrors logs Compute failures instead of attaching an
	// EVALUATION-ERROR child.
	SuppressErrors bool

	// Compute derives the child data. Returning nil data and nil error
	// declines without attaching anything.
	Compute func(ctx context.Context, doc *notebook.Notebook, style *notebook.Style) (notebook.StyleData, error)
}

// RuleObserver runs a rule table against inserted and changed styles. It
// is the base of the derivation observers; embedders override UseTool to
// add tool actions.
type RuleObserver struct {
	session *Session
	source  notebook.StyleSource
	rules   []Rule
	logger  *logging.Logger
}

// NewRuleObserver builds an observer that attributes its derived styles to
// the given source.
func NewRuleObserver(s *Session, source notebook.StyleSource, rules []Rule) *RuleObserver {
	return &RuleObserver{
		session: s,
		source:  source,
		rules:   rules,
		logger:  s.Logger().With("observer", string(source)),
	}
}

// Session returns the owning session.
func (o *RuleObserver) Session() *Session { return o.session }

// Source returns the observer's source tag.
func (o *RuleObserver) Source() notebook.StyleSource { return o.source }

// OnChangesSync does nothing; rule computation may call out to a CAS, so
// it all happens in the async pass.
func (o *RuleObserver) OnChangesSync([]notebook.Change) []notebook.ChangeRequest {
	return nil
}

// OnChangesAsync applies the rule table to every inserted or changed
// style in the batch.
func (o *RuleObserver) OnChangesAsync(ctx context.Context, changes []notebook.Change) ([]notebook.ChangeRequest, error) {
	var out []notebook.ChangeRequest
	for _, change := range changes {
		var style *notebook.Style
		switch c := change.(type) {
		case notebook.StyleInserted:
			style = c.Style
		case notebook.StyleChanged:
			style = c.Style
		default:
			continue
		}
		// Re-fetch: the pointer in the change may predate an await.
		current, err := o.session.Doc().GetStyle(style.ID)
		if err != nil {
			continue
		}
		for i := range o.rules {
			reqs, err := o.applyRule(ctx, &o.rules[i], current)
			if err != nil {
				return out, err
			}
			out = append(out, reqs...)
		}
	}
	return out, nil
}

func (o *RuleObserver) applyRule(ctx context.Context, rule *Rule, style *notebook.Style) ([]notebook.ChangeRequest, error) {
	if !style.Matches(rule.Test) {
		return nil, nil
	}
	doc := o.session.Doc()
	if !rule.Exclusive {
		guard := notebook.StylePattern{Role: rule.Role, Type: rule.Type, Source: o.source}
		if doc.HasStyle(guard, style.ID) {
			return nil, nil
		}
	}

	data, err := rule.Compute(ctx, doc, style)
	if err != nil {
		if rule.SuppressErrors {
			o.logger.Debug("rule compute failed",
				"rule", rule.Name,
				"style", int(style.ID),
				"error", err.Error(),
			)
			return nil, nil
		}
		return o.errorStyleRequests(doc, style, err), nil
	}
	if data == nil {
		return nil, nil
	}

	var out []notebook.ChangeRequest
	if rule.Exclusive {
		for _, child := range doc.ChildStylesOf(style.ID) {
			if child.Role == rule.Role && child.Type == rule.Type {
				out = append(out, notebook.DeleteStyleRequest{StyleID: child.ID})
			}
		}
	}
	out = append(out, notebook.InsertStyleRequest{
		ParentID: style.ID,
		Props: notebook.StyleProperties{
			Role: rule.Role,
			Type: rule.Type,
			Data: data,
		},
	})
	return out, nil
}

// errorStyleRequests surfaces a compute failure as an EVALUATION-ERROR
// child. The message shown is the user-safe one when available. An
// existing error child is replaced so the user sees the latest failure.
func (o *RuleObserver) errorStyleRequests(doc *notebook.Notebook, style *notebook.Style, err error) []notebook.ChangeRequest {
	msg := notebook.UserMessage(err)
	if msg == "" {
		msg = "computation failed"
		o.logger.Error("rule compute failed",
			"style", int(style.ID),
			"error", err.Error(),
		)
	}
	var out []notebook.ChangeRequest
	for _, child := range doc.ChildStylesOf(style.ID) {
		if child.Role == notebook.RoleEvaluationError && child.Source == o.source {
			out = append(out, notebook.DeleteStyleRequest{StyleID: child.ID})
		}
	}
	out = append(out, notebook.InsertStyleRequest{
		ParentID: style.ID,
		Props: notebook.StyleProperties{
			Role: notebook.RoleEvaluationError,
			Type: notebook.TypePlainText,
			Data: notebook.TextData{Text: msg},
		},
	})
	return out
}

// UseTool is a no-op; embedders with tools override it.
func (o *RuleObserver) UseTool(context.Context, *notebook.Style) ([]notebook.ChangeRequest, error) {
	return nil, nil
}

// Close releases nothing; rule observers hold no external resources.
func (o *RuleObserver) Close() error { return nil }
