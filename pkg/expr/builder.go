package expr

import (
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/grafana/arrow-dataset/internal/datatype"
)

// Lit returns a literal holding v. v may be a Go value (see
// [datatype.FromGo]) or a [scalar.Scalar].
func Lit(v any) *Literal {
	return &Literal{Value: datatype.FromGo(v)}
}

// Scalar returns a literal holding s.
func Scalar(s scalar.Scalar) *Literal {
	return &Literal{Value: s}
}

// Null returns an untyped null literal.
func Null() *Literal { return Lit(nil) }

// True returns the literal true.
func True() *Literal { return Lit(true) }

// False returns the literal false.
func False() *Literal { return Lit(false) }

// Col returns a reference to the column name.
func Col(name string) *ColumnRef {
	return &ColumnRef{Name: name}
}

func operand(v any) Expression {
	if e, ok := v.(Expression); ok {
		return e
	}
	return Lit(v)
}

// Compare returns the comparison "left op right". Operands that are not
// expressions are wrapped as literals.
func Compare(op CompareOp, left, right any) *Comparison {
	return &Comparison{Op: op, Left: operand(left), Right: operand(right)}
}

// Eq returns "c == v".
func (c *ColumnRef) Eq(v any) *Comparison { return Compare(OpEq, c, v) }

// NotEq returns "c != v".
func (c *ColumnRef) NotEq(v any) *Comparison { return Compare(OpNotEq, c, v) }

// Lt returns "c < v".
func (c *ColumnRef) Lt(v any) *Comparison { return Compare(OpLt, c, v) }

// LtEq returns "c <= v".
func (c *ColumnRef) LtEq(v any) *Comparison { return Compare(OpLtEq, c, v) }

// Gt returns "c > v".
func (c *ColumnRef) Gt(v any) *Comparison { return Compare(OpGt, c, v) }

// GtEq returns "c >= v".
func (c *ColumnRef) GtEq(v any) *Comparison { return Compare(OpGtEq, c, v) }

// AndOf returns the conjunction of children. It returns true for no
// children and the child itself for a single child.
func AndOf(children ...Expression) Expression {
	switch len(children) {
	case 0:
		return True()
	case 1:
		return children[0]
	}
	return &And{Children: children}
}

// OrOf returns the disjunction of children. It returns false for no
// children and the child itself for a single child.
func OrOf(children ...Expression) Expression {
	switch len(children) {
	case 0:
		return False()
	case 1:
		return children[0]
	}
	return &Or{Children: children}
}

// NotOf returns the negation of e.
func NotOf(e Expression) Expression {
	return &Not{Child: e}
}

// IsTrue returns true if e is the literal true.
func IsTrue(e Expression) bool {
	v, ok := boolLiteral(e)
	return ok && v
}

// IsFalse returns true if e is the literal false.
func IsFalse(e Expression) bool {
	v, ok := boolLiteral(e)
	return ok && !v
}

// IsNullLiteral returns true if e is a null literal.
func IsNullLiteral(e Expression) bool {
	lit, ok := e.(*Literal)
	return ok && lit.IsNull()
}

func boolLiteral(e Expression) (value, ok bool) {
	lit, isLit := e.(*Literal)
	if !isLit || lit.IsNull() {
		return false, false
	}
	b, isBool := lit.Value.(*scalar.Boolean)
	if !isBool {
		return false, false
	}
	return b.Value, true
}
