package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/registry"
)

type expr interface {
	eval(s *registry.GameServer) (bool, error)
}

type logicExpr struct {
	or          bool
	left, right expr
}

func (e *logicExpr) eval(s *registry.GameServer) (bool, error) {
	l, err := e.left.eval(s)
	if err != nil {
		return false, err
	}
	// Short-circuit both ways.
	if e.or && l {
		return true, nil
	}
	if !e.or && !l {
		return false, nil
	}
	return e.right.eval(s)
}

type notExpr struct {
	inner expr
}

func (e *notExpr) eval(s *registry.GameServer) (bool, error) {
	v, err := e.inner.eval(s)
	return !v, err
}

type operandKind int

const (
	operandString operandKind = iota
	operandNumber
	operandBool
	operandIdent
)

type operand struct {
	kind operandKind
	text string
	num  int64
}

type compareExpr struct {
	ident   string
	op      string
	negate  bool
	operand operand
}

func (e *compareExpr) eval(s *registry.GameServer) (bool, error) {
	field, err := resolveField(e.ident)
	if err != nil {
		return false, err
	}

	var res bool
	switch field.Kind {
	case registry.KindString:
		rhs, err := e.operandString(s)
		if err != nil {
			return false, err
		}
		res, err = compareStrings(field.Str(s), e.op, rhs)
		if err != nil {
			return false, err
		}
	default:
		lhs := numericValue(field, s)
		var rhs int64
		// like globs against the rendered value, so its pattern is not
		// coerced to a number.
		if e.op != "like" {
			rhs, err = e.operandNumeric(field.Kind, s)
			if err != nil {
				return false, err
			}
		}
		res, err = compareNumbers(lhs, e.op, rhs, field, s, e.operand.text)
		if err != nil {
			return false, err
		}
	}

	if e.negate {
		res = !res
	}
	return res, nil
}

func resolveField(name string) (*registry.Field, error) {
	field, ok := registry.LookupField(name)
	if !ok {
		return nil, fmt.Errorf("unknown property %q", name)
	}
	if !field.Filterable {
		return nil, fmt.Errorf("property %q is not filterable", name)
	}
	return field, nil
}

// operandString resolves the right-hand side as a string.
func (e *compareExpr) operandString(s *registry.GameServer) (string, error) {
	if e.operand.kind == operandIdent {
		f, err := resolveField(e.operand.text)
		if err != nil {
			return "", err
		}
		return f.Render(s), nil
	}
	return e.operand.text, nil
}

// operandNumeric resolves the right-hand side as a number, coercing string
// literals the way the game client expects: "1"/"0"/true/false against
// booleans, decimal text against integers.
func (e *compareExpr) operandNumeric(kind registry.FieldKind, s *registry.GameServer) (int64, error) {
	switch e.operand.kind {
	case operandNumber, operandBool:
		return e.operand.num, nil
	case operandIdent:
		f, err := resolveField(e.operand.text)
		if err != nil {
			return 0, err
		}
		return numericValue(f, s), nil
	}

	text := strings.TrimSpace(e.operand.text)
	if kind == registry.KindBool {
		switch strings.ToLower(text) {
		case "1", "true":
			return 1, nil
		case "0", "false":
			return 0, nil
		}
		return 0, fmt.Errorf("cannot compare boolean against %q", text)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot compare number against %q", text)
	}
	return n, nil
}

// numericValue reads an integer or boolean attribute as an int64; booleans
// coerce to 1/0 so ordered comparisons stay defined.
func numericValue(f *registry.Field, s *registry.GameServer) int64 {
	if f.Kind == registry.KindBool {
		if f.Bool(s) {
			return 1
		}
		return 0
	}
	return f.Int(s)
}

func compareStrings(lhs, op, rhs string) (bool, error) {
	l, r := strings.ToLower(lhs), strings.ToLower(rhs)
	switch op {
	case "=":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case ">":
		return l > r, nil
	case "<=":
		return l <= r, nil
	case ">=":
		return l >= r, nil
	case "like":
		return globMatch(r, l), nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func compareNumbers(lhs int64, op string, rhs int64, f *registry.Field, s *registry.GameServer, rawOperand string) (bool, error) {
	switch op {
	case "=":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "<":
		return lhs < rhs, nil
	case ">":
		return lhs > rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "like":
		// Glob against the rendered decimal form.
		return globMatch(strings.ToLower(rawOperand), f.Render(s)), nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// Match evaluates the predicate against one server. A nil or empty
// predicate matches everything.
func (p *Predicate) Match(s *registry.GameServer) (bool, error) {
	if p == nil || p.root == nil {
		return true, nil
	}
	return p.root.eval(s)
}

// Select applies the predicate to a snapshot. On the first evaluation error
// the query keeps working: the error is logged once with the offending
// filter and every server matches. A nil predicate (the caller's fallback
// for a filter that did not parse) matches every server without logging.
func Select(pred *Predicate, servers []registry.GameServer, rawFilter string) []registry.GameServer {
	if pred == nil || pred.root == nil {
		return servers
	}

	matched := make([]registry.GameServer, 0, len(servers))
	for i := range servers {
		ok, err := pred.Match(&servers[i])
		if err != nil {
			log.Error().
				Err(err).
				Str("component", "filter").
				Str("filter", rawFilter).
				Msg("filter evaluation failed, returning unfiltered list")
			return servers
		}
		if ok {
			matched = append(matched, servers[i])
		}
	}
	return matched
}

// globMatch reports whether s matches pattern, where '%' matches any run,
// '_' matches exactly one character, and '[...]' matches a character class
// ('[!...]' negates, 'a-z' ranges, '[[]' is a literal bracket). Matching is
// done on pre-lowercased inputs.
func globMatch(pattern, s string) bool {
	return globMatchAt(pattern, s)
}

func globMatchAt(p, s string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			// Collapse runs of '%' and try every split point.
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if p == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchAt(p, s[i:]) {
					return true
				}
			}
			return false
		case '_':
			if s == "" {
				return false
			}
			p, s = p[1:], s[1:]
		case '[':
			if s == "" {
				return false
			}
			ok, rest := classMatch(p, s[0])
			if !ok {
				return false
			}
			p, s = rest, s[1:]
		default:
			if s == "" || p[0] != s[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return s == ""
}

// classMatch matches s against the character class opening at p[0] == '['.
// Returns whether the class matched and the pattern after the class. An
// unterminated class is taken as a literal '['.
func classMatch(p string, c byte) (bool, string) {
	end := strings.IndexByte(p[1:], ']')
	if end < 0 {
		return c == '[', p[1:]
	}
	body := p[1 : 1+end]
	rest := p[2+end:]

	negate := false
	if strings.HasPrefix(body, "!") {
		negate = true
		body = body[1:]
	}

	matched := false
	for i := 0; i < len(body); i++ {
		if i+2 < len(body) && body[i+1] == '-' {
			if c >= body[i] && c <= body[i+2] {
				matched = true
			}
			i += 2
			continue
		}
		if body[i] == c {
			matched = true
		}
	}
	return matched != negate, rest
}
