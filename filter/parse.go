package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Predicate grammar, lowest precedence first:
//
//	expr    := and { "or" and }
//	and     := unary { "and" unary }
//	unary   := "not" unary | primary
//	primary := "(" expr ")"
//	         | ident (== | != | < | <= | > | >=) literal
//	         | ident ["not"] "in" "(" literal { "," literal } ")"
//	literal := 'string' | "string" | number | true | false
//
// Keywords (and, or, not, in, true, false) are case-insensitive.

type node interface {
	eval(row Row) (bool, error)
}

type boolNode struct {
	isOr        bool
	left, right node
}

func (n *boolNode) eval(row Row) (bool, error) {
	l, err := n.left.eval(row)
	if err != nil {
		return false, err
	}
	if n.isOr && l {
		return true, nil
	}
	if !n.isOr && !l {
		return false, nil
	}
	return n.right.eval(row)
}

type notNode struct {
	inner node
}

func (n *notNode) eval(row Row) (bool, error) {
	v, err := n.inner.eval(row)
	return !v, err
}

type cmpNode struct {
	column string
	op     string
	lit    literal
}

func (n *cmpNode) eval(row Row) (bool, error) {
	val, ok := row[n.column]
	if !ok {
		return false, fmt.Errorf("%w: row has no value for column %q", ErrEval, n.column)
	}
	switch n.op {
	case "==", "!=":
		eq, err := literalEqual(n.lit, val, n.column)
		if err != nil {
			return false, err
		}
		if n.op == "!=" {
			eq = !eq
		}
		return eq, nil
	default:
		return literalOrder(n.lit, val, n.op, n.column)
	}
}

type inNode struct {
	column  string
	negated bool
	lits    []literal
}

func (n *inNode) eval(row Row) (bool, error) {
	val, ok := row[n.column]
	if !ok {
		return false, fmt.Errorf("%w: row has no value for column %q", ErrEval, n.column)
	}
	for _, lit := range n.lits {
		eq, err := literalEqual(lit, val, n.column)
		if err != nil {
			return false, err
		}
		if eq {
			return !n.negated, nil
		}
	}
	return n.negated, nil
}

type litKind int

const (
	litString litKind = iota
	litNumber
	litBool
)

type literal struct {
	kind litKind
	s    string
	f    float64
	b    bool
}

func literalEqual(lit literal, val any, column string) (bool, error) {
	switch v := val.(type) {
	case string:
		if lit.kind != litString {
			return false, typeMismatch(column, "string", lit)
		}
		return v == lit.s, nil
	case bool:
		if lit.kind != litBool {
			return false, typeMismatch(column, "bool", lit)
		}
		return v == lit.b, nil
	case float64:
		if lit.kind != litNumber {
			return false, typeMismatch(column, "number", lit)
		}
		return v == lit.f, nil
	case int64:
		if lit.kind != litNumber {
			return false, typeMismatch(column, "number", lit)
		}
		return float64(v) == lit.f, nil
	case int:
		if lit.kind != litNumber {
			return false, typeMismatch(column, "number", lit)
		}
		return float64(v) == lit.f, nil
	default:
		return false, fmt.Errorf("%w: unsupported value type %T for column %q", ErrEval, val, column)
	}
}

func literalOrder(lit literal, val any, op, column string) (bool, error) {
	var cmp int // sign of val - lit
	switch v := val.(type) {
	case float64, int64, int:
		if lit.kind != litNumber {
			return false, typeMismatch(column, "number", lit)
		}
		f := toFloat(v)
		switch {
		case f < lit.f:
			cmp = -1
		case f > lit.f:
			cmp = 1
		}
	case string:
		if lit.kind != litString {
			return false, typeMismatch(column, "string", lit)
		}
		cmp = strings.Compare(v, lit.s)
	default:
		return false, fmt.Errorf("%w: column %q of type %T is not ordered", ErrEval, column, val)
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrEval, op)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	}
	return 0
}

func typeMismatch(column, got string, lit literal) error {
	return fmt.Errorf("%w: column %q holds %s values but predicate compares %s",
		ErrEval, column, got, litKindName(lit.kind))
}

func litKindName(k litKind) string {
	switch k {
	case litString:
		return "a string"
	case litNumber:
		return "a number"
	default:
		return "a bool"
	}
}

// lexer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // == != < <= > >=
	tokLParen // (
	tokRParen // )
	tokComma  // ,
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	src    string
	pos    int
	tokens []token
	cur    int
}

func newParser(src string) *parser {
	return &parser{src: src}
}

func (p *parser) parse() (node, error) {
	if err := p.lex(); err != nil {
		return nil, err
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, tok.text, tok.pos)
	}
	return n, nil
}

func (p *parser) lex() error {
	src := p.src
	for p.pos < len(src) {
		c := src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '(':
			p.emit(tokLParen, "(")
		case c == ')':
			p.emit(tokRParen, ")")
		case c == ',':
			p.emit(tokComma, ",")
		case c == '=' || c == '!' || c == '<' || c == '>':
			start := p.pos
			op := string(c)
			if p.pos+1 < len(src) && src[p.pos+1] == '=' {
				op += "="
				p.pos++
			}
			if op == "=" || op == "!" {
				return fmt.Errorf("%w: incomplete operator %q at offset %d", ErrSyntax, op, start)
			}
			p.tokens = append(p.tokens, token{tokOp, op, start})
			p.pos++
		case c == '\'' || c == '"':
			if err := p.lexString(c); err != nil {
				return err
			}
		case c >= '0' && c <= '9' || c == '-' || c == '.':
			if err := p.lexNumber(); err != nil {
				return err
			}
		case isIdentStart(rune(c)):
			start := p.pos
			for p.pos < len(src) && isIdentPart(rune(src[p.pos])) {
				p.pos++
			}
			p.tokens = append(p.tokens, token{tokIdent, src[start:p.pos], start})
		default:
			return fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, c, p.pos)
		}
	}
	p.tokens = append(p.tokens, token{tokEOF, "", len(src)})
	return nil
}

func (p *parser) emit(kind tokenKind, text string) {
	p.tokens = append(p.tokens, token{kind, text, p.pos})
	p.pos++
}

func (p *parser) lexString(quote byte) error {
	start := p.pos
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			p.tokens = append(p.tokens, token{tokString, sb.String(), start})
			return nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
}

func (p *parser) lexNumber() error {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' ||
			(c == '-' && p.pos > start && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E')) {
			p.pos++
			continue
		}
		break
	}
	text := p.src[start:p.pos]
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, text, start)
	}
	p.tokens = append(p.tokens, token{tokNumber, text, start})
	return nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *parser) peek() token { return p.tokens[p.cur] }

func (p *parser) next() token {
	t := p.tokens[p.cur]
	if t.kind != tokEOF {
		p.cur++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{isOr: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &boolNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isKeyword("not") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.peek()
	if tok.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' at offset %d", ErrSyntax, closing.pos)
		}
		return inner, nil
	}
	if tok.kind != tokIdent {
		return nil, fmt.Errorf("%w: expected column name at offset %d", ErrSyntax, tok.pos)
	}
	column := p.next().text

	negated := false
	if p.isKeyword("not") {
		p.next()
		negated = true
		if !p.isKeyword("in") {
			return nil, fmt.Errorf("%w: expected 'in' after 'not' at offset %d", ErrSyntax, p.peek().pos)
		}
	}
	if p.isKeyword("in") {
		p.next()
		lits, err := p.parseLiteralList()
		if err != nil {
			return nil, err
		}
		return &inNode{column: column, negated: negated, lits: lits}, nil
	}

	op := p.next()
	if op.kind != tokOp {
		return nil, fmt.Errorf("%w: expected comparison operator after %q at offset %d", ErrSyntax, column, op.pos)
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &cmpNode{column: column, op: op.text, lit: lit}, nil
}

func (p *parser) parseLiteralList() ([]literal, error) {
	if open := p.next(); open.kind != tokLParen {
		return nil, fmt.Errorf("%w: expected '(' after 'in' at offset %d", ErrSyntax, open.pos)
	}
	var lits []literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		lits = append(lits, lit)
		sep := p.next()
		if sep.kind == tokRParen {
			return lits, nil
		}
		if sep.kind != tokComma {
			return nil, fmt.Errorf("%w: expected ',' or ')' at offset %d", ErrSyntax, sep.pos)
		}
	}
}

func (p *parser) parseLiteral() (literal, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return literal{kind: litString, s: tok.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return literal{}, fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, tok.text, tok.pos)
		}
		return literal{kind: litNumber, f: f}, nil
	case tokIdent:
		if strings.EqualFold(tok.text, "true") {
			return literal{kind: litBool, b: true}, nil
		}
		if strings.EqualFold(tok.text, "false") {
			return literal{kind: litBool, b: false}, nil
		}
	}
	return literal{}, fmt.Errorf("%w: expected literal at offset %d", ErrSyntax, tok.pos)
}
