// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package expr parses and evaluates the notebook's input expression
// language: numbers, symbols, + - * / ^, unary minus, function calls,
// parentheses, and a single top-level = which is an assignment when the
// left side is a bare symbol and an equation otherwise.
package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Sentinel errors. ErrSyntax covers tokenizer and parser failures;
// ErrEvaluation covers failures during numeric evaluation.
var (
	ErrSyntax     = errors.New("syntax error")
	ErrEvaluation = errors.New("evaluation error")
)

// Node is a parsed expression. String renders canonical infix with minimal
// parentheses; TeX renders LaTeX.
type Node interface {
	String() string
	TeX() string
	// Eval computes the numeric value under env. Assignments bind their
	// symbol in env as a side effect; equations cannot be evaluated.
	Eval(env map[string]float64) (float64, error)
	symbolsInto(seen map[string]bool, out *[]string)
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Symbol is a variable reference.
type Symbol struct {
	Name string
}

// Unary is a prefix operation; the only operator is '-'.
type Unary struct {
	X Node
}

// Binary is an infix operation: one of + - * / ^.
type Binary struct {
	Op byte
	L  Node
	R  Node
}

// Call is a function application, e.g. sqrt(x).
type Call struct {
	Name string
	Args []Node
}

// Assign is a top-level binding: name = value.
type Assign struct {
	Name  string
	Value Node
}

// Equation is a top-level equality whose left side is not a bare symbol.
type Equation struct {
	L Node
	R Node
}

// Symbols returns the distinct symbol names in n, in first-appearance
// order. The bound name of an assignment is not included; its value's
// symbols are.
func Symbols(n Node) []string {
	var out []string
	n.symbolsInto(map[string]bool{}, &out)
	return out
}

func (n Number) symbolsInto(map[string]bool, *[]string) {}

func (n Symbol) symbolsInto(seen map[string]bool, out *[]string) {
	if !seen[n.Name] {
		seen[n.Name] = true
		*out = append(*out, n.Name)
	}
}

func (n Unary) symbolsInto(seen map[string]bool, out *[]string) {
	n.X.symbolsInto(seen, out)
}

func (n Binary) symbolsInto(seen map[string]bool, out *[]string) {
	n.L.symbolsInto(seen, out)
	n.R.symbolsInto(seen, out)
}

func (n Call) symbolsInto(seen map[string]bool, out *[]string) {
	for _, a := range n.Args {
		a.symbolsInto(seen, out)
	}
}

func (n Assign) symbolsInto(seen map[string]bool, out *[]string) {
	n.Value.symbolsInto(seen, out)
}

func (n Equation) symbolsInto(seen map[string]bool, out *[]string) {
	n.L.symbolsInto(seen, out)
	n.R.symbolsInto(seen, out)
}

var functions = map[string]func(float64) float64{
	"abs":  math.Abs,
	"cos":  math.Cos,
	"exp":  math.Exp,
	"log":  math.Log,
	"sin":  math.Sin,
	"sqrt": math.Sqrt,
	"tan":  math.Tan,
}

// FunctionNames returns the supported function names, sorted.
func FunctionNames() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n Number) Eval(map[string]float64) (float64, error) { return n.Value, nil }

func (n Symbol) Eval(env map[string]float64) (float64, error) {
	v, ok := env[n.Name]
	if !ok {
		return 0, fmt.Errorf("%w: undefined symbol %q", ErrEvaluation, n.Name)
	}
	return v, nil
}

func (n Unary) Eval(env map[string]float64) (float64, error) {
	v, err := n.X.Eval(env)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

func (n Binary) Eval(env map[string]float64) (float64, error) {
	l, err := n.L.Eval(env)
	if err != nil {
		return 0, err
	}
	r, err := n.R.Eval(env)
	if err != nil {
		return 0, err
	}
	switch n.Op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, string(n.Op))
}

func (n Call) Eval(env map[string]float64) (float64, error) {
	fn, ok := functions[n.Name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown function %q", ErrEvaluation, n.Name)
	}
	if len(n.Args) != 1 {
		return 0, fmt.Errorf("%w: %s expects 1 argument, got %d", ErrEvaluation, n.Name, len(n.Args))
	}
	v, err := n.Args[0].Eval(env)
	if err != nil {
		return 0, err
	}
	return fn(v), nil
}

func (n Assign) Eval(env map[string]float64) (float64, error) {
	v, err := n.Value.Eval(env)
	if err != nil {
		return 0, err
	}
	env[n.Name] = v
	return v, nil
}

func (n Equation) Eval(map[string]float64) (float64, error) {
	return 0, fmt.Errorf("%w: an equation has no value", ErrEvaluation)
}

// FormatNumber renders a float the way the notebook displays values.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Operator precedence for printing and parsing. Higher binds tighter.
func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	case '^':
		return 3
	}
	return 0
}

func (n Number) String() string { return FormatNumber(n.Value) }
func (n Symbol) String() string { return n.Name }

func (n Unary) String() string {
	return "-" + parenthesize(n.X, 4, false)
}

func (n Binary) String() string {
	p := precedence(n.Op)
	// ^ is right-associative, - and / are left-associative.
	l := parenthesize(n.L, p, n.Op == '^')
	r := parenthesize(n.R, p, n.Op == '-' || n.Op == '/')
	return l + " " + string(n.Op) + " " + r
}

func (n Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

func (n Assign) String() string   { return n.Name + " = " + n.Value.String() }
func (n Equation) String() string { return n.L.String() + " = " + n.R.String() }

// parenthesize renders a subexpression, adding parentheses when its
// precedence is too low (or equal, for the non-associative side) to stand
// bare inside a parent of the given precedence.
func parenthesize(n Node, parent int, strict bool) string {
	var p int
	switch sub := n.(type) {
	case Binary:
		p = precedence(sub.Op)
	case Unary:
		p = 1
	default:
		return n.String()
	}
	if p < parent || (strict && p == parent) {
		return "(" + n.String() + ")"
	}
	return n.String()
}

func (n Number) TeX() string { return FormatNumber(n.Value) }

var texSymbols = map[string]string{
	"alpha": `\alpha`, "beta": `\beta`, "gamma": `\gamma`, "delta": `\delta`,
	"epsilon": `\epsilon`, "theta": `\theta`, "lambda": `\lambda`,
	"mu": `\mu`, "pi": `\pi`, "sigma": `\sigma`, "phi": `\phi`,
	"omega": `\omega`,
}

func (n Symbol) TeX() string {
	if tex, ok := texSymbols[n.Name]; ok {
		return tex
	}
	return n.Name
}

func (n Unary) TeX() string {
	return "-" + parenthesizeTeX(n.X, 4, false)
}

func (n Binary) TeX() string {
	switch n.Op {
	case '/':
		return `\frac{` + n.L.TeX() + `}{` + n.R.TeX() + `}`
	case '^':
		return parenthesizeTeX(n.L, 3, true) + `^{` + n.R.TeX() + `}`
	case '*':
		return parenthesizeTeX(n.L, 2, false) + ` \cdot ` + parenthesizeTeX(n.R, 2, false)
	default:
		return parenthesizeTeX(n.L, 1, false) + " " + string(n.Op) + " " + parenthesizeTeX(n.R, 1, n.Op == '-')
	}
}

func (n Call) TeX() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.TeX()
	}
	joined := strings.Join(args, ", ")
	switch n.Name {
	case "sqrt":
		return `\sqrt{` + joined + `}`
	case "abs":
		return `\left|` + joined + `\right|`
	default:
		return `\` + n.Name + `\left(` + joined + `\right)`
	}
}

func (n Assign) TeX() string   { return Symbol{Name: n.Name}.TeX() + " = " + n.Value.TeX() }
func (n Equation) TeX() string { return n.L.TeX() + " = " + n.R.TeX() }

func parenthesizeTeX(n Node, parent int, strict bool) string {
	var p int
	switch sub := n.(type) {
	case Binary:
		if sub.Op == '/' {
			// \frac needs no parentheses at any level.
			return n.TeX()
		}
		p = precedence(sub.Op)
	case Unary:
		p = 1
	default:
		return n.TeX()
	}
	if p < parent || (strict && p == parent) {
		return `\left(` + n.TeX() + `\right)`
	}
	return n.TeX()
}
