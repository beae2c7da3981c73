// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp    // + - * / ^ =
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src []rune
	pos int
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && unicode.IsSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}, nil
	}
	start := lx.pos
	c := lx.src[lx.pos]
	switch {
	case c == '(':
		lx.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		lx.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		lx.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case c == '+' || c == '-' || c == '*' || c == '/' || c == '^' || c == '=':
		lx.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case unicode.IsDigit(c) || c == '.':
		for lx.pos < len(lx.src) && (unicode.IsDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
			lx.pos++
		}
		// Exponent suffix, e.g. 1.5e-3.
		if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
			mark := lx.pos
			lx.pos++
			if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
				lx.pos++
			}
			if lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
				for lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
					lx.pos++
				}
			} else {
				lx.pos = mark
			}
		}
		return token{kind: tokNumber, text: string(lx.src[start:lx.pos]), pos: start}, nil
	case unicode.IsLetter(c) || c == '_':
		for lx.pos < len(lx.src) && (unicode.IsLetter(lx.src[lx.pos]) || unicode.IsDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '_') {
			lx.pos++
		}
		return token{kind: tokIdent, text: string(lx.src[start:lx.pos]), pos: start}, nil
	}
	return token{}, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, string(c), start)
}

type parser struct {
	lx  lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// Parse parses one expression, optionally with a single top-level =. When
// the left side of the = is a bare symbol the result is an Assign;
// otherwise it is an Equation.
func Parse(src string) (Node, error) {
	p := &parser{lx: lexer{src: []rune(src)}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	left, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text == "=" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokEOF {
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
		}
		if sym, ok := left.(Symbol); ok {
			return Assign{Name: sym.Name, Value: right}, nil
		}
		return Equation{L: left, R: right}, nil
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
	}
	return left, nil
}

// parseExpr is a Pratt loop: consume prefix, then fold infix operators
// whose precedence exceeds min.
func (p *parser) parseExpr(min int) (Node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text != "=" {
		op := p.tok.text[0]
		prec := precedence(op)
		if prec <= min {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		// Right associativity for ^ is expressed by recursing at prec-1.
		sub := prec
		if op == '^' {
			sub = prec - 1
		}
		right, err := p.parseExpr(sub)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parsePrefix() (Node, error) {
	switch p.tok.kind {
	case tokOp:
		if p.tok.text == "-" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			x, err := p.parsePrefix()
			if err != nil {
				return nil, err
			}
			if num, ok := x.(Number); ok {
				return Number{Value: -num.Value}, nil
			}
			return Unary{X: x}, nil
		}
		if p.tok.text == "+" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return p.parsePrefix()
		}
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
	case tokNumber:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Number{Value: v}, nil
	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen {
			return p.parseCall(name)
		}
		return Symbol{Name: name}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
}

func (p *parser) parseCall(name string) (Node, error) {
	// Caller saw the opening parenthesis.
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []Node
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return Call{Name: name, Args: args}, nil
}
