// Package expr evaluates the small arithmetic expressions that appear as values
// in oracle responses ("2*0.5", "max(1, 0.8)", "math.log2(1+3)").
//
// The grammar is closed: numbers, unary +/-, binary + - * /, ^ and ** for
// powers, parentheses, the constants pi and e, and a fixed function table.
// There are no variables, no assignment and no access to anything outside the
// expression string.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	maxInputLen = 512
	maxDepth    = 32
)

// ErrSyntax is returned for any input outside the grammar.
var ErrSyntax = errors.New("expr: syntax error")

// #region function-table
type function struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	call             func(args []float64) (float64, error)
}

var functions = map[string]function{
	"max": {1, -1, func(a []float64) (float64, error) {
		m := a[0]
		for _, x := range a[1:] {
			m = math.Max(m, x)
		}
		return m, nil
	}},
	"min": {1, -1, func(a []float64) (float64, error) {
		m := a[0]
		for _, x := range a[1:] {
			m = math.Min(m, x)
		}
		return m, nil
	}},
	"abs":  {1, 1, func(a []float64) (float64, error) { return math.Abs(a[0]), nil }},
	"sqrt": {1, 1, func(a []float64) (float64, error) { return domain(math.Sqrt(a[0]), a[0] >= 0) }},
	"exp":  {1, 1, func(a []float64) (float64, error) { return math.Exp(a[0]), nil }},
	"log": {1, 2, func(a []float64) (float64, error) {
		if len(a) == 2 {
			return domain(math.Log(a[0])/math.Log(a[1]), a[0] > 0 && a[1] > 0 && a[1] != 1)
		}
		return domain(math.Log(a[0]), a[0] > 0)
	}},
	"log2":  {1, 1, func(a []float64) (float64, error) { return domain(math.Log2(a[0]), a[0] > 0) }},
	"log10": {1, 1, func(a []float64) (float64, error) { return domain(math.Log10(a[0]), a[0] > 0) }},
	"pow":   {2, 2, func(a []float64) (float64, error) { return math.Pow(a[0], a[1]), nil }},
	"round": {1, 2, func(a []float64) (float64, error) {
		if len(a) == 1 {
			return math.RoundToEven(a[0]), nil
		}
		p := math.Pow(10, math.Trunc(a[1]))
		return math.RoundToEven(a[0]*p) / p, nil
	}},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

func domain(v float64, ok bool) (float64, error) {
	if !ok {
		return 0, fmt.Errorf("expr: argument out of domain")
	}
	return v, nil
}

// canonical strips the "math." namespace so "math.log2" and "log2" resolve alike.
func canonical(name string) string {
	return strings.TrimPrefix(name, "math.")
}

// #endregion function-table

// #region eval
// Eval evaluates s and returns its finite numeric value.
func Eval(s string) (float64, error) {
	if len(s) > maxInputLen {
		return 0, fmt.Errorf("%w: input longer than %d bytes", ErrSyntax, maxInputLen)
	}
	toks, err := lex(s)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.expr(0)
	if err != nil {
		return 0, err
	}
	if p.peek().kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.peek().text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expr: non-finite result for %q", s)
	}
	return v, nil
}

// #endregion eval

// #region lexer
type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(s) && isDigit(s[i+1])):
			j := i
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
				k := j + 1
				if k < len(s) && (s[k] == '+' || s[k] == '-') {
					k++
				}
				if k < len(s) && isDigit(s[k]) {
					for k < len(s) && isDigit(s[k]) {
						k++
					}
					j = k
				}
			}
			n, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, s[i:j])
			}
			toks = append(toks, token{kind: tokNum, text: s[i:j], num: n})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && (isIdentStart(s[j]) || isDigit(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j]})
			i = j
		case c == '*' && i+1 < len(s) && s[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "**"})
			i += 2
		case strings.IndexByte("+-*/^", c) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ","})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, c)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// #endregion lexer

// #region parser
// parser is a recursive-descent evaluator:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ ("^" | "**") unary ]
//	primary = number | const | func "(" expr { "," expr } ")" | "(" expr ")"
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expr(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxDepth)
	}
	left, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if t.text == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *parser) term(depth int) (float64, error) {
	left, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		if t.text == "*" {
			left *= right
			continue
		}
		if right == 0 {
			return 0, errors.New("expr: division by zero")
		}
		left /= right
	}
}

func (p *parser) unary(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxDepth)
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "+" || t.text == "-") {
		p.next()
		v, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		if t.text == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power(depth)
}

func (p *parser) power(depth int) (float64, error) {
	base, err := p.primary(depth)
	if err != nil {
		return 0, err
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "^" || t.text == "**") {
		p.next()
		exp, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *parser) primary(depth int) (float64, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return t.num, nil
	case tokLParen:
		v, err := p.expr(depth + 1)
		if err != nil {
			return 0, err
		}
		if p.next().kind != tokRParen {
			return 0, fmt.Errorf("%w: missing )", ErrSyntax)
		}
		return v, nil
	case tokIdent:
		name := canonical(t.text)
		if p.peek().kind != tokLParen {
			c, ok := constants[name]
			if !ok {
				return 0, fmt.Errorf("%w: unknown name %q", ErrSyntax, t.text)
			}
			return c, nil
		}
		fn, ok := functions[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown function %q", ErrSyntax, t.text)
		}
		p.next()
		args, err := p.args(depth + 1)
		if err != nil {
			return 0, err
		}
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return 0, fmt.Errorf("%w: %s takes %d..%d arguments, got %d", ErrSyntax, name, fn.minArgs, fn.maxArgs, len(args))
		}
		return fn.call(args)
	default:
		return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
	}
}

func (p *parser) args(depth int) ([]float64, error) {
	var out []float64
	if p.peek().kind == tokRParen {
		p.next()
		return out, nil
	}
	for {
		v, err := p.expr(depth)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		switch p.next().kind {
		case tokComma:
			continue
		case tokRParen:
			return out, nil
		default:
			return nil, fmt.Errorf("%w: expected , or )", ErrSyntax)
		}
	}
}

// #endregion parser
