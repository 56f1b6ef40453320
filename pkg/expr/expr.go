// Package expr implements the predicate trees used to filter datasets and to
// describe the partition a fragment belongs to.
//
// Expressions form a closed set: [Literal], [ColumnRef], [Comparison],
// [And], [Or] and [Not]. Expressions are immutable once constructed and may
// be shared freely between scans.
package expr

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/grafana/arrow-dataset/internal/datatype"
)

// ExpressionType represents the kind of an [Expression].
type ExpressionType uint32

const (
	_ ExpressionType = iota // zero-value is an invalid type

	ExprTypeLiteral
	ExprTypeColumn
	ExprTypeComparison
	ExprTypeAnd
	ExprTypeOr
	ExprTypeNot
)

// String returns the string representation of the [ExpressionType].
func (t ExpressionType) String() string {
	switch t {
	case ExprTypeLiteral:
		return "Literal"
	case ExprTypeColumn:
		return "ColumnRef"
	case ExprTypeComparison:
		return "Comparison"
	case ExprTypeAnd:
		return "And"
	case ExprTypeOr:
		return "Or"
	case ExprTypeNot:
		return "Not"
	default:
		return fmt.Sprintf("ExpressionType(%d)", t)
	}
}

// Expression is the common interface of all expression nodes.
type Expression interface {
	fmt.Stringer
	Type() ExpressionType
	isExpr()
}

// CompareOp is the operator of a [Comparison].
type CompareOp int

// Recognized values of [CompareOp].
const (
	OpInvalid CompareOp = iota

	OpEq    // Equality comparison (==).
	OpNotEq // Inequality comparison (!=).
	OpLt    // Less than comparison (<).
	OpLtEq  // Less than or equal comparison (<=).
	OpGt    // Greater than comparison (>).
	OpGtEq  // Greater than or equal comparison (>=).
)

var compareOpStrings = map[CompareOp]string{
	OpInvalid: "invalid",

	OpEq:    "==",
	OpNotEq: "!=",
	OpLt:    "<",
	OpLtEq:  "<=",
	OpGt:    ">",
	OpGtEq:  ">=",
}

// String returns the symbol of the operator.
func (op CompareOp) String() string {
	if s, ok := compareOpStrings[op]; ok {
		return s
	}
	return fmt.Sprintf("CompareOp(%d)", op)
}

// Flip returns the operator obtained by swapping both operands, so that
// "a op b" is equivalent to "b op.Flip() a".
func (op CompareOp) Flip() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLtEq:
		return OpGtEq
	case OpGt:
		return OpLt
	case OpGtEq:
		return OpLtEq
	default:
		return op
	}
}

// Literal is a constant value.
type Literal struct {
	Value scalar.Scalar
}

func (*Literal) isExpr() {}

// Type implements [Expression].
func (*Literal) Type() ExpressionType { return ExprTypeLiteral }

// DataType returns the arrow type of the literal value.
func (l *Literal) DataType() arrow.DataType { return l.Value.DataType() }

// IsNull returns true if the literal holds a null value.
func (l *Literal) IsNull() bool { return datatype.IsNull(l.Value) }

func (l *Literal) String() string {
	if l.IsNull() {
		return "null"
	}
	switch l.Value.DataType().ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY:
		v, _ := datatype.GoValue(l.Value)
		return fmt.Sprintf("%q", v)
	}
	return l.Value.String()
}

// ColumnRef references a column of the dataset schema by name.
type ColumnRef struct {
	Name string
}

func (*ColumnRef) isExpr() {}

// Type implements [Expression].
func (*ColumnRef) Type() ExpressionType { return ExprTypeColumn }

func (c *ColumnRef) String() string { return c.Name }

// Comparison compares two operands.
type Comparison struct {
	Op          CompareOp
	Left, Right Expression
}

func (*Comparison) isExpr() {}

// Type implements [Expression].
func (*Comparison) Type() ExpressionType { return ExprTypeComparison }

func (c *Comparison) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

// And is the conjunction of its children. An And without children is true.
type And struct {
	Children []Expression
}

func (*And) isExpr() {}

// Type implements [Expression].
func (*And) Type() ExpressionType { return ExprTypeAnd }

func (a *And) String() string { return joinChildren(a.Children, " and ") }

// Or is the disjunction of its children. An Or without children is false.
type Or struct {
	Children []Expression
}

func (*Or) isExpr() {}

// Type implements [Expression].
func (*Or) Type() ExpressionType { return ExprTypeOr }

func (o *Or) String() string { return joinChildren(o.Children, " or ") }

// Not negates its child.
type Not struct {
	Child Expression
}

func (*Not) isExpr() {}

// Type implements [Expression].
func (*Not) Type() ExpressionType { return ExprTypeNot }

func (n *Not) String() string { return fmt.Sprintf("not(%s)", n.Child) }

func joinChildren(children []Expression, sep string) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Expression) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}

	switch a := a.(type) {
	case *Literal:
		b := b.(*Literal)
		if a.IsNull() || b.IsNull() {
			return a.IsNull() == b.IsNull() && arrow.TypeEqual(a.DataType(), b.DataType())
		}
		return scalar.Equals(a.Value, b.Value)
	case *ColumnRef:
		return a.Name == b.(*ColumnRef).Name
	case *Comparison:
		b := b.(*Comparison)
		return a.Op == b.Op && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case *And:
		return equalChildren(a.Children, b.(*And).Children)
	case *Or:
		return equalChildren(a.Children, b.(*Or).Children)
	case *Not:
		return Equal(a.Child, b.(*Not).Child)
	}
	return false
}

func equalChildren(a, b []Expression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Columns returns the names of the columns referenced by e, in order of
// first appearance and without duplicates.
func Columns(e Expression) []string {
	var (
		names []string
		seen  = map[string]struct{}{}
	)

	Walk(e, func(e Expression) bool {
		if ref, ok := e.(*ColumnRef); ok {
			if _, dup := seen[ref.Name]; !dup {
				seen[ref.Name] = struct{}{}
				names = append(names, ref.Name)
			}
		}
		return true
	})
	return names
}

// Walk visits e and its descendants depth-first, left to right. Children of
// a node are skipped when fn returns false for it.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}

	switch e := e.(type) {
	case *Comparison:
		Walk(e.Left, fn)
		Walk(e.Right, fn)
	case *And:
		for _, child := range e.Children {
			Walk(child, fn)
		}
	case *Or:
		for _, child := range e.Children {
			Walk(child, fn)
		}
	case *Not:
		Walk(e.Child, fn)
	}
}
