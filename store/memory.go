// Package store provides backing-store implementations for the pipe package:
// an in-memory columnar store and a pebble-backed persistent store.
//
// Both stores hold a dense float32 feature matrix indexed by the obs (row)
// and var (feature) axes plus per-axis metadata columns, and serve the three
// read operations the pipe.Store contract requires. Stores are read-only
// once constructed (or opened) and safe for concurrent use by multiple batch
// sources.
package store

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/RemyLau/axispipe/filter"
	"github.com/RemyLau/axispipe/pipe"
)

// ErrInvalid reports an inconsistent dataset definition.
var ErrInvalid = errors.New("store: invalid dataset")

// VarNameColumn is the var-axis column every store exposes; var filters
// select features by it, e.g. `name in ('gene_a', 'gene_b')`.
const VarNameColumn = "name"

// ObsColumn defines one obs-axis metadata column. Exactly one of Labels,
// Values or Ints must be set, and its length must equal the row count.
type ObsColumn struct {
	Name   string
	Labels []string
	Values []float64
	Ints   []int64
}

func (c ObsColumn) kind() (filter.ColumnKind, int, error) {
	set := 0
	var kind filter.ColumnKind
	var n int
	if c.Labels != nil {
		set++
		kind, n = filter.KindLabel, len(c.Labels)
	}
	if c.Values != nil {
		set++
		kind, n = filter.KindNumeric, len(c.Values)
	}
	if c.Ints != nil {
		set++
		kind, n = filter.KindInt, len(c.Ints)
	}
	if set != 1 {
		return 0, 0, fmt.Errorf("%w: obs column %q must set exactly one of Labels, Values or Ints", ErrInvalid, c.Name)
	}
	return kind, n, nil
}

// MemoryStore is an in-memory columnar store implementing pipe.Store.
type MemoryStore struct {
	rows     int64
	varNames []string
	features []float32 // rows x len(varNames), row-major

	obsSchema filter.Schema
	varSchema filter.Schema
	labels    map[string][]string
	numeric   map[string][]float64
	ints      map[string][]int64

	// filter results are cached per predicate text; stores are read-only
	// so cached results never go stale
	obsCache *xsync.MapOf[string, []int64]
	varCache *xsync.MapOf[string, []int]
}

var _ pipe.Store = (*MemoryStore)(nil)

// NewMemoryStore builds a store from obs metadata columns, var (feature)
// names and a row-major dense feature matrix of len(obs rows) x
// len(varNames).
func NewMemoryStore(obs []ObsColumn, varNames []string, features []float32) (*MemoryStore, error) {
	if len(varNames) == 0 {
		return nil, fmt.Errorf("%w: no feature columns", ErrInvalid)
	}
	if len(features)%len(varNames) != 0 {
		return nil, fmt.Errorf("%w: feature buffer of %d values is not a multiple of %d features",
			ErrInvalid, len(features), len(varNames))
	}
	rows := int64(len(features) / len(varNames))

	ms := &MemoryStore{
		rows:     rows,
		varNames: varNames,
		features: features,
		labels:   make(map[string][]string),
		numeric:  make(map[string][]float64),
		ints:     make(map[string][]int64),
		obsCache: xsync.NewMapOf[string, []int64](),
		varCache: xsync.NewMapOf[string, []int](),
	}
	ms.obsSchema = filter.Schema{Axis: filter.AxisObs}
	for _, col := range obs {
		kind, n, err := col.kind()
		if err != nil {
			return nil, err
		}
		if int64(n) != rows {
			return nil, fmt.Errorf("%w: obs column %q has %d values, want %d", ErrInvalid, col.Name, n, rows)
		}
		if _, ok := ms.obsSchema.Column(col.Name); ok {
			return nil, fmt.Errorf("%w: duplicate obs column %q", ErrInvalid, col.Name)
		}
		ms.obsSchema.Columns = append(ms.obsSchema.Columns, filter.Column{Name: col.Name, Kind: kind})
		switch kind {
		case filter.KindLabel:
			ms.labels[col.Name] = col.Labels
		case filter.KindNumeric:
			ms.numeric[col.Name] = col.Values
		case filter.KindInt:
			ms.ints[col.Name] = col.Ints
		}
	}
	ms.varSchema = filter.Schema{
		Axis:    filter.AxisVar,
		Columns: []filter.Column{{Name: VarNameColumn, Kind: filter.KindLabel}},
	}
	return ms, nil
}

// Rows returns the total row count.
func (ms *MemoryStore) Rows() int64 { return ms.rows }

// VarNames returns the feature names in column order.
func (ms *MemoryStore) VarNames() []string { return ms.varNames }

// Schema implements pipe.Store.
func (ms *MemoryStore) Schema(axis filter.Axis) (filter.Schema, error) {
	switch axis {
	case filter.AxisObs:
		return ms.obsSchema, nil
	case filter.AxisVar:
		return ms.varSchema, nil
	default:
		return filter.Schema{}, fmt.Errorf("%w: unknown axis %v", ErrInvalid, axis)
	}
}

// RowCount implements pipe.Store.
func (ms *MemoryStore) RowCount(axis filter.Axis, f *filter.AxisFilter) (int64, error) {
	switch axis {
	case filter.AxisObs:
		if f == nil {
			return ms.rows, nil
		}
		rows, err := ms.matchObs(f)
		if err != nil {
			return 0, err
		}
		return int64(len(rows)), nil
	case filter.AxisVar:
		if f == nil {
			return int64(len(ms.varNames)), nil
		}
		cols, err := ms.matchVar(f)
		if err != nil {
			return 0, err
		}
		return int64(len(cols)), nil
	default:
		return 0, fmt.Errorf("%w: unknown axis %v", ErrInvalid, axis)
	}
}

// Read implements pipe.Store.
func (ms *MemoryStore) Read(req pipe.ReadRequest) (*pipe.ReadResult, error) {
	extent, err := ms.obsExtent(req.Obs)
	if err != nil {
		return nil, err
	}

	res := &pipe.ReadResult{Labels: make(map[string][]string, len(req.LabelColumns))}

	var varCols []int
	if !req.SkipFeatures {
		varCols, err = ms.varExtent(req.Var)
		if err != nil {
			return nil, err
		}
		res.FeatureDim = len(ms.varNames)
		if varCols != nil {
			res.FeatureDim = len(varCols)
		}
		res.Features = make([]float32, 0, len(req.Rows)*res.FeatureDim)
	}

	labelSrc := make(map[string][]string, len(req.LabelColumns))
	for _, col := range req.LabelColumns {
		values, ok := ms.labels[col]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a label column", ErrInvalid, col)
		}
		labelSrc[col] = values
		res.Labels[col] = make([]string, 0, len(req.Rows))
	}

	dim := len(ms.varNames)
	for _, pos := range req.Rows {
		if pos < 0 || pos >= int64(ms.extentLen(extent)) {
			return nil, fmt.Errorf("%w: row position %d out of extent [0, %d)", ErrInvalid, pos, ms.extentLen(extent))
		}
		rowNum := pos
		if extent != nil {
			rowNum = extent[pos]
		}
		if !req.SkipFeatures {
			row := ms.features[rowNum*int64(dim) : (rowNum+1)*int64(dim)]
			if varCols == nil {
				res.Features = append(res.Features, row...)
			} else {
				for _, j := range varCols {
					res.Features = append(res.Features, row[j])
				}
			}
		}
		for _, col := range req.LabelColumns {
			res.Labels[col] = append(res.Labels[col], labelSrc[col][rowNum])
		}
	}
	return res, nil
}

// obsExtent returns the matching row numbers, or nil meaning all rows.
func (ms *MemoryStore) obsExtent(f *filter.AxisFilter) ([]int64, error) {
	if f == nil {
		return nil, nil
	}
	return ms.matchObs(f)
}

func (ms *MemoryStore) extentLen(extent []int64) int64 {
	if extent == nil {
		return ms.rows
	}
	return int64(len(extent))
}

// varExtent returns the selected feature column indices, or nil meaning all.
func (ms *MemoryStore) varExtent(f *filter.AxisFilter) ([]int, error) {
	if f == nil {
		return nil, nil
	}
	return ms.matchVar(f)
}

func (ms *MemoryStore) matchObs(f *filter.AxisFilter) ([]int64, error) {
	if cached, ok := ms.obsCache.Load(f.Expr()); ok {
		return cached, nil
	}
	if err := f.Validate(ms.obsSchema); err != nil {
		return nil, err
	}
	cols := f.Columns()
	matching := make([]int64, 0, ms.rows)
	row := make(filter.Row, len(cols))
	for i := int64(0); i < ms.rows; i++ {
		for _, col := range cols {
			row[col] = ms.obsValue(col, i)
		}
		ok, err := f.Eval(row)
		if err != nil {
			return nil, err
		}
		if ok {
			matching = append(matching, i)
		}
	}
	ms.obsCache.Store(f.Expr(), matching)
	return matching, nil
}

func (ms *MemoryStore) obsValue(col string, row int64) any {
	if v, ok := ms.labels[col]; ok {
		return v[row]
	}
	if v, ok := ms.numeric[col]; ok {
		return v[row]
	}
	if v, ok := ms.ints[col]; ok {
		return v[row]
	}
	return nil
}

func (ms *MemoryStore) matchVar(f *filter.AxisFilter) ([]int, error) {
	if cached, ok := ms.varCache.Load(f.Expr()); ok {
		return cached, nil
	}
	if err := f.Validate(ms.varSchema); err != nil {
		return nil, err
	}
	matching := make([]int, 0, len(ms.varNames))
	for j, name := range ms.varNames {
		ok, err := f.Eval(filter.Row{VarNameColumn: name})
		if err != nil {
			return nil, err
		}
		if ok {
			matching = append(matching, j)
		}
	}
	ms.varCache.Store(f.Expr(), matching)
	return matching, nil
}
