package expr

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/arrow-dataset/internal/datatype"
	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// Parse parses a filter such as `year == 2019 and (sales > 100 or not model == "S")`.
//
// Literals compared against a column are parsed with the type of that column
// in schema, so `month == 01` against an int32 column yields an int32
// literal. Other numeric literals default to int64 or float64. Parse does
// not validate the result; use [Validate] for that.
func Parse(input string, schema *arrow.Schema) (Expression, error) {
	p := &parser{schema: schema}
	p.s.Init(strings.NewReader(input))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanRawStrings
	p.s.Error = func(_ *scanner.Scanner, msg string) {
		// Leading zeros are fine: integers are re-parsed in base 10.
		if strings.Contains(msg, "octal literal") {
			return
		}
		p.errs = append(p.errs, msg)
	}
	p.next()

	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("unexpected %q", p.text)
	}
	if len(p.errs) > 0 {
		return nil, p.errorf("%s", strings.Join(p.errs, "; "))
	}
	return e, nil
}

type parser struct {
	s      scanner.Scanner
	schema *arrow.Schema
	errs   []string

	tok  rune
	text string
}

// tokOp marks a comparison operator or '!' token.
const tokOp rune = -100

func (p *parser) next() {
	p.tok = p.s.Scan()
	p.text = p.s.TokenText()

	switch p.tok {
	case '=', '!', '<', '>':
		op := string(p.tok)
		if p.s.Peek() == '=' {
			p.s.Next()
			op += "="
		}
		p.tok, p.text = tokOp, op
	case '-':
		if r := p.s.Peek(); r >= '0' && r <= '9' {
			p.tok = p.s.Scan()
			p.text = "-" + p.s.TokenText()
		}
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("parsing filter at %s: %s: %w", p.s.Position, fmt.Sprintf(format, args...), dserrors.ErrInvalid)
}

func (p *parser) keyword(kw string) bool {
	return p.tok == scanner.Ident && strings.EqualFold(p.text, kw)
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Expression{left}
	for p.keyword("or") || (p.tok == '|' && p.s.Peek() == '|') {
		if p.tok == '|' {
			p.s.Next()
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	return OrOf(children...), nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Expression{left}
	for p.keyword("and") || (p.tok == '&' && p.s.Peek() == '&') {
		if p.tok == '&' {
			p.s.Next()
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	return AndOf(children...), nil
}

func (p *parser) parseUnary() (Expression, error) {
	if p.keyword("not") || (p.tok == tokOp && p.text == "!") {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotOf(child), nil
	}
	return p.parsePrimary()
}

var opsByText = map[string]CompareOp{
	"==": OpEq,
	"=":  OpEq,
	"!=": OpNotEq,
	"<":  OpLt,
	"<=": OpLtEq,
	">":  OpGt,
	">=": OpGtEq,
}

func (p *parser) parsePrimary() (Expression, error) {
	if p.tok == '(' {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, p.errorf("expected ')', got %q", p.text)
		}
		p.next()
		return e, nil
	}

	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	if p.tok != tokOp {
		return left.resolve(nil)
	}

	op, ok := opsByText[p.text]
	if !ok {
		return nil, p.errorf("unknown operator %q", p.text)
	}
	p.next()

	right, err := p.operand()
	if err != nil {
		return nil, err
	}

	l, err := left.resolve(right.columnType(p.schema))
	if err != nil {
		return nil, err
	}
	r, err := right.resolve(left.columnType(p.schema))
	if err != nil {
		return nil, err
	}
	return &Comparison{Op: op, Left: l, Right: r}, nil
}

// rawOperand is an operand whose literal type depends on the other side of
// the comparison.
type rawOperand struct {
	kind rune
	text string
}

func (p *parser) operand() (rawOperand, error) {
	switch p.tok {
	case scanner.Ident, scanner.Int, scanner.Float, scanner.String, scanner.RawString:
		op := rawOperand{kind: p.tok, text: p.text}
		p.next()
		return op, nil
	}
	return rawOperand{}, p.errorf("unexpected %q", p.text)
}

func (o rawOperand) isColumn() bool {
	if o.kind != scanner.Ident {
		return false
	}
	switch strings.ToLower(o.text) {
	case "true", "false", "null":
		return false
	}
	return true
}

func (o rawOperand) columnType(schema *arrow.Schema) arrow.DataType {
	if !o.isColumn() || schema == nil {
		return nil
	}
	if idx := schema.FieldIndices(o.text); len(idx) > 0 {
		return schema.Field(idx[0]).Type
	}
	return nil
}

// resolve turns o into an expression. Literals are parsed as hint when it
// is non-nil.
func (o rawOperand) resolve(hint arrow.DataType) (Expression, error) {
	if o.isColumn() {
		return Col(o.text), nil
	}

	text := o.text
	if o.kind == scanner.String || o.kind == scanner.RawString {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return nil, fmt.Errorf("invalid string literal %s: %w", text, dserrors.ErrInvalid)
		}
		text = unquoted
	}
	if strings.EqualFold(text, "null") && o.kind == scanner.Ident {
		return Null(), nil
	}

	if hint != nil {
		s, err := datatype.ParseScalar(hint, text)
		if err != nil {
			return nil, err
		}
		return Scalar(s), nil
	}

	switch o.kind {
	case scanner.Int:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer literal %s: %w", text, dserrors.ErrInvalid)
		}
		return Lit(v), nil
	case scanner.Float:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float literal %s: %w", text, dserrors.ErrInvalid)
		}
		return Lit(v), nil
	case scanner.Ident:
		return Lit(strings.EqualFold(text, "true")), nil
	}
	return Lit(text), nil
}
