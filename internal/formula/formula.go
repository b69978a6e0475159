// Package formula evaluates operator-authored arithmetic expressions over
// named attribute values. Formulas are data, not code: this is a dedicated
// interpreter with no access to anything beyond the variables passed in.
//
// Grammar:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | primary
//	primary = number | identifier | "(" expr ")"
package formula

import (
	"fmt"
	"strconv"
)

// Error describes a parse or evaluation failure.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("formula: %s (at offset %d)", e.Msg, e.Pos)
}

// Evaluate parses src and computes its value against vars.
func Evaluate(src string, vars map[string]float64) (float64, error) {
	p := &parser{src: src, vars: vars}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, &Error{Pos: p.pos, Msg: fmt.Sprintf("unexpected %q", p.src[p.pos])}
	}
	return v, nil
}

// Validate checks src for syntax errors without needing variable values.
// Used when a template formula is saved.
func Validate(src string) error {
	_, err := Vars(src)
	return err
}

// Vars parses src and returns the distinct identifiers it references, in
// first-use order. Used to check a saved formula against the template's
// attribute schema.
func Vars(src string) ([]string, error) {
	p := &parser{src: src, validate: true}
	if _, err := p.parseExpr(); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, &Error{Pos: p.pos, Msg: fmt.Sprintf("unexpected %q", p.src[p.pos])}
	}
	return p.idents, nil
}

type parser struct {
	src      string
	pos      int
	vars     map[string]float64
	validate bool
	idents   []string
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return left, nil
		}
		opPos := p.pos
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			left *= right
		} else {
			if right == 0 && !p.validate {
				return 0, &Error{Pos: opPos, Msg: "division by zero"}
			}
			if !p.validate {
				left /= right
			}
		}
	}
}

func (p *parser) parseUnary() (float64, error) {
	c, ok := p.peek()
	if ok && c == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (float64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, &Error{Pos: p.pos, Msg: "unexpected end of formula"}
	}
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, &Error{Pos: p.pos, Msg: "missing closing parenthesis"}
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseIdent()
	default:
		return 0, &Error{Pos: p.pos, Msg: fmt.Sprintf("unexpected %q", c)}
	}
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '.' {
			if seenDot {
				return 0, &Error{Pos: p.pos, Msg: "malformed number"}
			}
			seenDot = true
			p.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		p.pos++
	}
	lit := p.src[start:p.pos]
	if lit == "." {
		return 0, &Error{Pos: start, Msg: "malformed number"}
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, &Error{Pos: start, Msg: fmt.Sprintf("malformed number %q", lit)}
	}
	return v, nil
}

func (p *parser) parseIdent() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	name := p.src[start:p.pos]
	if p.validate {
		seen := false
		for _, id := range p.idents {
			if id == name {
				seen = true
				break
			}
		}
		if !seen {
			p.idents = append(p.idents, name)
		}
		return 0, nil
	}
	v, ok := p.vars[name]
	if !ok {
		return 0, &Error{Pos: start, Msg: fmt.Sprintf("unknown variable %q", name)}
	}
	return v, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
