package expr

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/grafana/arrow-dataset/internal/datatype"
)

// Bindings extracts the "column == literal" constraints of a conjunctive
// expression such as the ones produced by partition schemes. Constraints
// nested below Or or Not are ignored, as are null literals. When a column is
// constrained more than once, the first constraint wins.
func Bindings(e Expression) map[string]scalar.Scalar {
	bindings := make(map[string]scalar.Scalar)
	collectBindings(e, bindings)
	return bindings
}

func collectBindings(e Expression, bindings map[string]scalar.Scalar) {
	switch e := e.(type) {
	case *And:
		for _, child := range e.Children {
			collectBindings(child, bindings)
		}
	case *Comparison:
		if e.Op != OpEq {
			return
		}
		ref, lit := columnAndLiteral(e.Left, e.Right)
		if ref == nil || lit == nil || lit.IsNull() {
			return
		}
		if _, exists := bindings[ref.Name]; !exists {
			bindings[ref.Name] = lit.Value
		}
	}
}

func columnAndLiteral(a, b Expression) (*ColumnRef, *Literal) {
	if ref, ok := a.(*ColumnRef); ok {
		lit, _ := b.(*Literal)
		return ref, lit
	}
	if ref, ok := b.(*ColumnRef); ok {
		lit, _ := a.(*Literal)
		return ref, lit
	}
	return nil, nil
}

// Assume simplifies e under the assumption that every column in bindings
// holds the bound constant. Comparisons whose operands all become constants
// are folded, and connectives are simplified with three-valued logic.
// Anything that depends on an unbound column is left in place.
func Assume(e Expression, bindings map[string]scalar.Scalar) Expression {
	switch e := e.(type) {
	case *ColumnRef:
		if v, ok := bindings[e.Name]; ok {
			return Scalar(v)
		}
		return e

	case *Comparison:
		left, right := Assume(e.Left, bindings), Assume(e.Right, bindings)
		if folded, ok := foldComparison(e.Op, left, right); ok {
			return folded
		}
		if left == e.Left && right == e.Right {
			return e
		}
		return &Comparison{Op: e.Op, Left: left, Right: right}

	case *And:
		return simplifyAnd(e.Children, bindings)
	case *Or:
		return simplifyOr(e.Children, bindings)

	case *Not:
		child := Assume(e.Child, bindings)
		switch {
		case IsNullLiteral(child):
			return nullBool()
		case IsTrue(child):
			return False()
		case IsFalse(child):
			return True()
		}
		if child == e.Child {
			return e
		}
		return &Not{Child: child}
	}
	return e
}

func simplifyAnd(children []Expression, bindings map[string]scalar.Scalar) Expression {
	var (
		rest    = make([]Expression, 0, len(children))
		sawNull bool
	)
	for _, child := range children {
		child = Assume(child, bindings)
		switch {
		case IsFalse(child):
			return False()
		case IsTrue(child):
			continue
		case IsNullLiteral(child):
			sawNull = true
		}
		rest = append(rest, child)
	}
	if len(rest) == 0 {
		return True()
	}
	if sawNull && allNull(rest) {
		return nullBool()
	}
	return AndOf(rest...)
}

func simplifyOr(children []Expression, bindings map[string]scalar.Scalar) Expression {
	var (
		rest    = make([]Expression, 0, len(children))
		sawNull bool
	)
	for _, child := range children {
		child = Assume(child, bindings)
		switch {
		case IsTrue(child):
			return True()
		case IsFalse(child):
			continue
		case IsNullLiteral(child):
			sawNull = true
		}
		rest = append(rest, child)
	}
	if len(rest) == 0 {
		return False()
	}
	if sawNull && allNull(rest) {
		return nullBool()
	}
	return OrOf(rest...)
}

func allNull(exprs []Expression) bool {
	for _, e := range exprs {
		if !IsNullLiteral(e) {
			return false
		}
	}
	return true
}

func nullBool() *Literal {
	return Scalar(scalar.MakeNullScalar(arrow.FixedWidthTypes.Boolean))
}

func foldComparison(op CompareOp, left, right Expression) (Expression, bool) {
	l, lok := left.(*Literal)
	r, rok := right.(*Literal)
	if !lok || !rok {
		return nil, false
	}
	if l.IsNull() || r.IsNull() {
		return nullBool(), true
	}
	// NaN compares unequal to everything, itself included; left to the
	// evaluator.
	if datatype.IsNaN(l.Value) || datatype.IsNaN(r.Value) {
		return nil, false
	}

	c, err := datatype.Compare(l.Value, r.Value)
	if err != nil {
		return nil, false
	}

	var res bool
	switch op {
	case OpEq:
		res = c == 0
	case OpNotEq:
		res = c != 0
	case OpLt:
		res = c < 0
	case OpLtEq:
		res = c <= 0
	case OpGt:
		res = c > 0
	case OpGtEq:
		res = c >= 0
	default:
		return nil, false
	}
	return Lit(res), true
}

// IsSatisfiable reports whether filter may select rows of a fragment whose
// partition is described by partition. It only returns false when filter is
// statically false (or null) once the partition constants are substituted,
// so a false result guarantees that scanning the fragment yields no rows.
func IsSatisfiable(filter, partition Expression) bool {
	if filter == nil || IsTrue(filter) {
		return true
	}
	simplified := Assume(filter, Bindings(partition))
	return !IsFalse(simplified) && !IsNullLiteral(simplified)
}
