package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// Validate checks that every column referenced by e exists in schema and
// that comparisons between operands of statically known types agree.
//
// Validation is depth-first, left to right: the first invalid node
// determines the returned error. Unknown columns wrap [dserrors.ErrInvalid];
// type mismatches wrap [dserrors.ErrType].
func Validate(e Expression, schema *arrow.Schema) error {
	dt, err := validate(e, schema)
	if err != nil {
		return err
	}
	if dt != nil && dt.ID() != arrow.BOOL && dt.ID() != arrow.NULL {
		return fmt.Errorf("expression %s evaluates to %s, not bool: %w", e, dt, dserrors.ErrType)
	}
	return nil
}

// validate returns the static type of e, or nil when the type is not known
// until evaluation.
func validate(e Expression, schema *arrow.Schema) (arrow.DataType, error) {
	switch e := e.(type) {
	case *Literal:
		if e.Value == nil {
			return nil, fmt.Errorf("literal without value: %w", dserrors.ErrInvalid)
		}
		return e.DataType(), nil

	case *ColumnRef:
		indices := schema.FieldIndices(e.Name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("unknown column %q: %w", e.Name, dserrors.ErrInvalid)
		}
		return schema.Field(indices[0]).Type, nil

	case *Comparison:
		if e.Op == OpInvalid {
			return nil, fmt.Errorf("comparison %s has no operator: %w", e, dserrors.ErrInvalid)
		}
		left, err := validate(e.Left, schema)
		if err != nil {
			return nil, err
		}
		right, err := validate(e.Right, schema)
		if err != nil {
			return nil, err
		}
		if !comparable(left, right) {
			return nil, fmt.Errorf("cannot compare %s with %s in %s: %w", left, right, e, dserrors.ErrType)
		}
		return arrow.FixedWidthTypes.Boolean, nil

	case *And:
		return arrow.FixedWidthTypes.Boolean, validateConnective(e, e.Children, schema)
	case *Or:
		return arrow.FixedWidthTypes.Boolean, validateConnective(e, e.Children, schema)
	case *Not:
		return arrow.FixedWidthTypes.Boolean, validateConnective(e, []Expression{e.Child}, schema)

	case nil:
		return nil, fmt.Errorf("nil expression: %w", dserrors.ErrInvalid)
	}
	return nil, fmt.Errorf("unknown expression %T: %w", e, dserrors.ErrInvalid)
}

func validateConnective(parent Expression, children []Expression, schema *arrow.Schema) error {
	for _, child := range children {
		dt, err := validate(child, schema)
		if err != nil {
			return err
		}
		if dt != nil && dt.ID() != arrow.BOOL && dt.ID() != arrow.NULL {
			return fmt.Errorf("operand %s of %s is %s, not bool: %w", child, parent.Type(), dt, dserrors.ErrType)
		}
	}
	return nil
}

// comparable reports whether values of the two static types may be compared.
// Unknown (nil) and null types are compatible with everything.
func comparable(a, b arrow.DataType) bool {
	if a == nil || b == nil || a.ID() == arrow.NULL || b.ID() == arrow.NULL {
		return true
	}
	return arrow.TypeEqual(a, b)
}
