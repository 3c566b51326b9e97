package pipe

import "github.com/RemyLau/axispipe/filter"

// Store is the read-only backing-store contract a batch source consumes.
//
// A store holds a dense feature matrix indexed by the obs (row) and var
// (feature) axes plus a dataframe of metadata columns per axis. The batch
// source only ever calls the three operations below; schema and row-count
// lookups must not read feature payload, so a source can be planned without
// touching the data.
//
// Row positions in ReadRequest.Rows are relative to the obs-filtered extent:
// if the obs filter matches k rows, valid positions are 0..k-1 in the
// store's row order. Implementations must be safe for concurrent use by
// multiple independently constructed sources.
type Store interface {
	// Schema returns the column definitions of the given axis.
	Schema(axis filter.Axis) (filter.Schema, error)

	// RowCount returns the number of axis entries matching the filter.
	// A nil filter counts the whole axis. For AxisObs this is the row
	// extent; for AxisVar it is the feature dimension.
	RowCount(axis filter.Axis, f *filter.AxisFilter) (int64, error)

	// Read resolves one window of rows into columnar results.
	Read(req ReadRequest) (*ReadResult, error)
}

// ReadRequest scopes a single windowed read.
type ReadRequest struct {
	// Obs restricts the row extent; nil selects all rows.
	Obs *filter.AxisFilter

	// Var restricts the feature columns; nil selects all features.
	Var *filter.AxisFilter

	// Rows are positions within the obs-filtered extent, in the order the
	// results must be returned.
	Rows []int64

	// LabelColumns names obs columns whose raw label values are returned
	// alongside the features.
	LabelColumns []string

	// SkipFeatures omits the feature payload, returning labels only.
	// Used for encoder fitting scans.
	SkipFeatures bool
}

// ReadResult is the columnar result of one windowed read. Row i of every
// field corresponds to ReadRequest.Rows[i].
type ReadResult struct {
	// Features is the row-major dense block, len(Rows)*FeatureDim values.
	// Nil when the request skipped features.
	Features []float32

	// FeatureDim is the number of feature columns after var filtering.
	FeatureDim int

	// Labels holds the raw values of each requested label column.
	Labels map[string][]string
}
