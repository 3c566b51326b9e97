// Package filter provides declarative value filters over the labeled axes of
// an axis-indexed dataset.
//
// A dataset has two axes: the observation axis ("obs", rows) and the variable
// axis ("var", columns). Each axis carries a small dataframe-like schema of
// named columns, and an AxisFilter restricts one axis by a predicate
// expression over those columns, e.g.
//
//	f, err := filter.Parse(filter.AxisObs, `tissue == 'lung' and n_counts > 500`)
//
// Filters are immutable once parsed. They carry the predicate as both source
// text and a parsed tree, so a backing store can either evaluate them row by
// row (see Eval) or translate them into its own query language.
package filter

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema reports a predicate that references a column the target
	// axis schema does not define.
	ErrSchema = errors.New("filter: column not in schema")

	// ErrSyntax reports a malformed predicate expression.
	ErrSyntax = errors.New("filter: invalid predicate")

	// ErrEval reports a type mismatch discovered while evaluating a
	// predicate against a row.
	ErrEval = errors.New("filter: evaluation failed")
)

// Axis identifies which labeled axis of the dataset a filter or schema
// belongs to.
type Axis int

const (
	// AxisObs is the observation (row) axis.
	AxisObs Axis = iota
	// AxisVar is the variable (column/feature) axis.
	AxisVar
)

func (a Axis) String() string {
	switch a {
	case AxisObs:
		return "obs"
	case AxisVar:
		return "var"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ColumnKind is the value type of an axis column.
type ColumnKind int

const (
	// KindLabel is a string-valued column.
	KindLabel ColumnKind = iota
	// KindNumeric is a float64-valued column.
	KindNumeric
	// KindInt is an int64-valued column.
	KindInt
	// KindBool is a boolean column.
	KindBool
)

func (k ColumnKind) String() string {
	switch k {
	case KindLabel:
		return "label"
	case KindNumeric:
		return "numeric"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column describes one named column of an axis dataframe.
type Column struct {
	Name string
	Kind ColumnKind
}

// Schema describes the columns available on one axis.
type Schema struct {
	Axis    Axis
	Columns []Column
}

// Column returns the definition of the named column, if present.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Row is one axis record presented as column name to value. Values are
// expected to be string, float64, int64 or bool depending on the column kind.
type Row map[string]any

// AxisFilter is an immutable predicate over one axis of the dataset.
//
// The zero value is not usable; construct filters with Parse.
type AxisFilter struct {
	axis Axis
	expr string
	root node
	cols []string
}

// Parse builds a filter for the given axis from a predicate expression.
// It returns ErrSyntax (wrapped) when the expression is malformed.
func Parse(axis Axis, expr string) (*AxisFilter, error) {
	p := newParser(expr)
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &AxisFilter{
		axis: axis,
		expr: expr,
		root: root,
		cols: collectColumns(root),
	}, nil
}

// Axis returns the axis the filter applies to.
func (f *AxisFilter) Axis() Axis { return f.axis }

// Expr returns the original predicate text.
func (f *AxisFilter) Expr() string { return f.expr }

// Columns returns the distinct column names referenced by the predicate,
// in first-reference order.
func (f *AxisFilter) Columns() []string {
	out := make([]string, len(f.cols))
	copy(out, f.cols)
	return out
}

// Validate checks every column reference in the predicate against the given
// schema. It returns ErrSchema (wrapped) naming the first missing column.
// The schema must describe the same axis as the filter.
func (f *AxisFilter) Validate(s Schema) error {
	if s.Axis != f.axis {
		return fmt.Errorf("%w: filter is over %s but schema describes %s", ErrSchema, f.axis, s.Axis)
	}
	for _, name := range f.cols {
		if _, ok := s.Column(name); !ok {
			return fmt.Errorf("%w: %q is not a column of the %s axis", ErrSchema, name, f.axis)
		}
	}
	return nil
}

// Eval reports whether the given row satisfies the predicate. A missing
// column value or a comparison between incompatible types returns ErrEval.
func (f *AxisFilter) Eval(row Row) (bool, error) {
	return f.root.eval(row)
}

func (f *AxisFilter) String() string {
	return fmt.Sprintf("%s[%s]", f.axis, f.expr)
}

func collectColumns(n node) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(node)
	walk = func(n node) {
		switch t := n.(type) {
		case *cmpNode:
			if !seen[t.column] {
				seen[t.column] = true
				out = append(out, t.column)
			}
		case *inNode:
			if !seen[t.column] {
				seen[t.column] = true
				out = append(out, t.column)
			}
		case *boolNode:
			walk(t.left)
			walk(t.right)
		case *notNode:
			walk(t.inner)
		}
	}
	walk(n)
	return out
}
