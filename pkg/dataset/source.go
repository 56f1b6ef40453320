package dataset

import (
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/partition"
)

// SourceKind identifies the variant of a [Source].
type SourceKind int

const (
	SourceKindSimple SourceKind = iota
	SourceKindTree
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindSimple:
		return "simple"
	case SourceKindTree:
		return "tree"
	}
	return "unknown"
}

// Source is a collection of fragments.
type Source interface {
	// Fragments returns the fragments of the source in enumeration order.
	Fragments() []Fragment

	// PartitionExpression returns the constraint that holds for every
	// fragment of the source.
	PartitionExpression() expr.Expression

	// Kind returns the variant of the source.
	Kind() SourceKind
}

// SimpleSource is a flat list of fragments.
type SimpleSource struct {
	fragments []Fragment
	partition expr.Expression
}

var _ Source = (*SimpleSource)(nil)

// NewSimpleSource returns a source enumerating fragments in order.
func NewSimpleSource(fragments ...Fragment) *SimpleSource {
	return &SimpleSource{fragments: fragments, partition: expr.True()}
}

// WithPartitionExpression sets the partition expression of the source and
// returns it.
func (s *SimpleSource) WithPartitionExpression(e expr.Expression) *SimpleSource {
	s.partition = e
	return s
}

// Fragments implements [Source].
func (s *SimpleSource) Fragments() []Fragment { return s.fragments }

// PartitionExpression implements [Source].
func (s *SimpleSource) PartitionExpression() expr.Expression { return s.partition }

// Kind implements [Source].
func (*SimpleSource) Kind() SourceKind { return SourceKindSimple }

// TreeSource is an ordered composition of child sources.
type TreeSource struct {
	children  []Source
	partition expr.Expression
}

var _ Source = (*TreeSource)(nil)

// NewTreeSource returns a source over children.
func NewTreeSource(children ...Source) *TreeSource {
	return &TreeSource{children: children, partition: expr.True()}
}

// WithPartitionExpression sets the partition expression of the source and
// returns it.
func (s *TreeSource) WithPartitionExpression(e expr.Expression) *TreeSource {
	s.partition = e
	return s
}

// Children returns the child sources.
func (s *TreeSource) Children() []Source { return s.children }

// Fragments implements [Source]. Fragments are enumerated depth-first,
// left to right.
func (s *TreeSource) Fragments() []Fragment {
	var out []Fragment
	for _, child := range s.children {
		out = append(out, child.Fragments()...)
	}
	return out
}

// PartitionExpression implements [Source].
func (s *TreeSource) PartitionExpression() expr.Expression { return s.partition }

// Kind implements [Source].
func (*TreeSource) Kind() SourceKind { return SourceKindTree }

// WalkFragments calls fn for every fragment of src in enumeration order,
// together with the conjunction of the partition expressions of the
// fragment and all sources above it. Walking stops at the first error.
func WalkFragments(src Source, fn func(Fragment, expr.Expression) error) error {
	return walkFragments(src, expr.True(), fn)
}

func walkFragments(src Source, ancestors expr.Expression, fn func(Fragment, expr.Expression) error) error {
	scope := partition.Join(ancestors, src.PartitionExpression())

	if tree, ok := src.(*TreeSource); ok {
		for _, child := range tree.children {
			if err := walkFragments(child, scope, fn); err != nil {
				return err
			}
		}
		return nil
	}

	for _, fragment := range src.Fragments() {
		if err := fn(fragment, partition.Join(scope, fragment.PartitionExpression())); err != nil {
			return err
		}
	}
	return nil
}
