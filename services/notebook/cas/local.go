// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cas

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/davidjeschke/math-tablet/services/notebook/expr"
)

const (
	equivalenceSamples   = 8
	equivalenceTolerance = 1e-9
)

// LocalEngine is an in-process Client backed by the expression engine.
// Assignments executed through it accumulate in a session-scoped variable
// environment, so later scripts can reference earlier bindings.
type LocalEngine struct {
	mu  sync.Mutex
	env map[string]float64
}

// NewLocalEngine returns an engine with an empty variable environment.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{env: make(map[string]float64)}
}

// Execute evaluates a script. A script of the form Simplify[expr] returns
// the expression with every constant subexpression folded; anything else
// is evaluated numerically against the session environment.
func (e *LocalEngine) Execute(ctx context.Context, script string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	script = strings.TrimSpace(script)
	if inner, ok := unwrapSimplify(script); ok {
		node, err := expr.Parse(inner)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		return fold(node).String(), nil
	}

	node, err := expr.Parse(script)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := node.Eval(e.env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	return expr.FormatNumber(v), nil
}

// ConvertFormat translates between syntaxes. The engine can render its
// input language as TeX; nothing else.
func (e *LocalEngine) ConvertFormat(ctx context.Context, from, to Format, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if from == to {
		return text, nil
	}
	if from != FormatWolfram || to != FormatTeX {
		return "", fmt.Errorf("%w: %s to %s", ErrUnsupportedFormat, from, to)
	}
	node, err := expr.Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	return node.TeX(), nil
}

// CheckEquivalence samples the free variables of both expressions at
// deterministic pseudo-random points and compares values. Sample points
// where either side fails to evaluate are skipped; if every point fails
// the expressions are not comparable and an error is returned.
func (e *LocalEngine) CheckEquivalence(ctx context.Context, a, b string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	na, err := expr.Parse(a)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	nb, err := expr.Parse(b)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	na, nb = rhsOf(na), rhsOf(nb)

	vars := map[string]bool{}
	for _, s := range expr.Symbols(na) {
		vars[s] = true
	}
	for _, s := range expr.Symbols(nb) {
		vars[s] = true
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}

	rng := rand.New(rand.NewSource(1))
	compared := 0
	for i := 0; i < equivalenceSamples; i++ {
		env := make(map[string]float64, len(names))
		for _, name := range names {
			env[name] = rng.Float64()*20 - 10
		}
		va, errA := na.Eval(env)
		vb, errB := nb.Eval(env)
		if errA != nil || errB != nil {
			continue
		}
		compared++
		if math.Abs(va-vb) > equivalenceTolerance*(1+math.Abs(va)) {
			return false, nil
		}
	}
	if compared == 0 {
		return false, fmt.Errorf("%w: expressions could not be evaluated at any sample point", ErrEvaluation)
	}
	return true, nil
}

// rhsOf strips an assignment or equation down to the expression being
// defined, so "y = x + 1" compares as "x + 1".
func rhsOf(n expr.Node) expr.Node {
	switch v := n.(type) {
	case expr.Assign:
		return v.Value
	case expr.Equation:
		return v.R
	}
	return n
}

func unwrapSimplify(script string) (string, bool) {
	if strings.HasPrefix(script, "Simplify[") && strings.HasSuffix(script, "]") {
		return script[len("Simplify[") : len(script)-1], true
	}
	return "", false
}

// fold replaces every symbol-free subexpression with its numeric value.
func fold(n expr.Node) expr.Node {
	switch v := n.(type) {
	case expr.Unary:
		return tryFold(expr.Unary{X: fold(v.X)})
	case expr.Binary:
		return tryFold(expr.Binary{Op: v.Op, L: fold(v.L), R: fold(v.R)})
	case expr.Call:
		args := make([]expr.Node, len(v.Args))
		for i, a := range v.Args {
			args[i] = fold(a)
		}
		return tryFold(expr.Call{Name: v.Name, Args: args})
	case expr.Assign:
		return expr.Assign{Name: v.Name, Value: fold(v.Value)}
	case expr.Equation:
		return expr.Equation{L: fold(v.L), R: fold(v.R)}
	}
	return n
}

func tryFold(n expr.Node) expr.Node {
	if len(expr.Symbols(n)) > 0 {
		return n
	}
	v, err := n.Eval(map[string]float64{})
	if err != nil {
		return n
	}
	return expr.Number{Value: v}
}
