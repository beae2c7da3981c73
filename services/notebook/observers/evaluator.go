// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observers

import (
	"context"
	"fmt"

	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/cas"
	"github.com/davidjeschke/math-tablet/services/notebook/expr"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// toolCheckEquivalence is the tool offered on every formula cell.
const toolCheckEquivalence = "checkeqv"

// Evaluator runs formulas through the CAS: an EVALUATION child with the
// computed value, a SIMPLIFICATION child when the CAS finds a shorter
// form, and a tool-menu entry for equivalence checking. Evaluation
// failures surface as EVALUATION-ERROR children.
type Evaluator struct {
	*server.RuleObserver
	client cas.Client
}

// NewEvaluator returns the ObserverFactory for the evaluator.
func NewEvaluator(client cas.Client) server.ObserverFactory {
	return func(s *server.Session) (server.Observer, error) {
		e := &Evaluator{client: client}
		e.RuleObserver = server.NewRuleObserver(s, notebook.SourceCASEvaluator, e.rules())
		return e, nil
	}
}

func (e *Evaluator) rules() []server.Rule {
	formulaRules := func(role notebook.StyleRole) []server.Rule {
		test := notebook.StylePattern{
			Role: role,
			Type: notebook.TypeWolframExpression,
		}
		return []server.Rule{
			{
				Name:      "evaluate",
				Test:      test,
				Role:      notebook.RoleEvaluation,
				Type:      notebook.TypeWolframExpression,
				Exclusive: true,
				Compute:   e.evaluate,
			},
			{
				Name:           "simplify",
				Test:           test,
				Role:           notebook.RoleSimplification,
				Type:           notebook.TypeWolframExpression,
				Exclusive:      true,
				SuppressErrors: true,
				Compute:        e.simplify,
			},
			{
				Name:           "tool-menu",
				Test:           test,
				Role:           notebook.RoleAttribute,
				Type:           notebook.TypeToolData,
				SuppressErrors: true,
				Compute:        toolMenu,
			},
		}
	}
	rules := formulaRules(notebook.RoleInput)
	return append(rules, formulaRules(notebook.RoleInputAlt)...)
}

// evaluate computes the formula's value. Equations have no value and are
// declined; anything else that fails to evaluate becomes a user-visible
// error on the cell.
func (e *Evaluator) evaluate(ctx context.Context, _ *notebook.Notebook, style *notebook.Style) (notebook.StyleData, error) {
	data, ok := style.Data.(notebook.WolframData)
	if !ok || data.Expr == "" {
		return nil, nil
	}
	if node, err := expr.Parse(data.Expr); err == nil {
		if _, isEquation := node.(expr.Equation); isEquation {
			return nil, nil
		}
	}
	result, err := e.client.Execute(ctx, data.Expr)
	if err != nil {
		return nil, notebook.NewUserError(err, "%s", err.Error())
	}
	return notebook.WolframData{Expr: result}, nil
}

// simplify asks the CAS for a simpler form and declines when the result
// is not actually different from the input.
func (e *Evaluator) simplify(ctx context.Context, _ *notebook.Notebook, style *notebook.Style) (notebook.StyleData, error) {
	data, ok := style.Data.(notebook.WolframData)
	if !ok || data.Expr == "" {
		return nil, nil
	}
	simplified, err := e.client.Execute(ctx, fmt.Sprintf("Simplify[%s]", data.Expr))
	if err != nil {
		return nil, err
	}
	if simplified == data.Expr {
		return nil, nil
	}
	return notebook.WolframData{Expr: simplified}, nil
}

// toolMenu attaches the equivalence-check tool button to the cell.
func toolMenu(_ context.Context, _ *notebook.Notebook, style *notebook.Style) (notebook.StyleData, error) {
	return notebook.ToolData{
		Name:    toolCheckEquivalence,
		HTML:    "<i>Check Equivalences</i>",
		StyleID: style.ID,
	}, nil
}

// UseTool handles the equivalence check: the target formula is compared
// with every other formula cell and the verdict map is attached as an
// EQUIVALENT-CHECKS child of the target.
func (e *Evaluator) UseTool(ctx context.Context, tool *notebook.Style) ([]notebook.ChangeRequest, error) {
	data, ok := tool.Data.(notebook.ToolData)
	if !ok || data.Name != toolCheckEquivalence {
		return nil, nil
	}
	doc := e.Session().Doc()
	target, err := doc.GetStyle(data.StyleID)
	if err != nil {
		return nil, err
	}
	targetData, ok := target.Data.(notebook.WolframData)
	if !ok {
		return nil, nil
	}

	results := map[notebook.StyleID]bool{}
	for _, role := range []notebook.StyleRole{notebook.RoleInput, notebook.RoleInputAlt} {
		for _, other := range doc.FindStyles(notebook.StylePattern{
			Role: role,
			Type: notebook.TypeWolframExpression,
		}, 0) {
			if other.ID == target.ID {
				continue
			}
			otherData, ok := other.Data.(notebook.WolframData)
			if !ok {
				continue
			}
			equivalent, err := e.client.CheckEquivalence(ctx, targetData.Expr, otherData.Expr)
			if err != nil {
				// Incomparable pairs are skipped, not fatal.
				continue
			}
			results[other.ID] = equivalent
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	var out []notebook.ChangeRequest
	if existing := doc.FindStyle(notebook.StylePattern{
		Role:   notebook.RoleEquivalentChecks,
		Type:   notebook.TypeEquivalenceData,
		Source: notebook.SourceCASEvaluator,
	}, target.ID); existing != nil {
		out = append(out, notebook.DeleteStyleRequest{StyleID: existing.ID})
	}
	out = append(out, notebook.InsertStyleRequest{
		ParentID: target.ID,
		Props: notebook.StyleProperties{
			Role: notebook.RoleEquivalentChecks,
			Type: notebook.TypeEquivalenceData,
			Data: notebook.EquivalenceData{Results: results},
		},
	})
	return out, nil
}
