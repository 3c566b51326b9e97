package pipe

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is one paired (features, labels) unit produced by a batch source.
//
// Features are stored row-major in a flat contiguous buffer with shape
// metadata, so converting to gomlx tensors (or any other tensor type) is a
// small, well-defined step. Label columns are already encoded to dense
// integer codes by the source's encoders.
type Batch struct {
	// Features holds Rows*FeatureDim float32 values, row-major.
	Features []float32

	// Rows is the number of rows in the batch.
	Rows int

	// FeatureDim is the number of feature values per row.
	FeatureDim int

	// LabelColumns names the label columns, in the order they were
	// requested on the source.
	LabelColumns []string

	// Labels holds the encoded codes per label column, parallel to
	// LabelColumns; each slice has Rows entries.
	Labels [][]int64
}

// FeatureRow returns the i-th row of the feature block as a subslice of the
// flat buffer.
func (b *Batch) FeatureRow(i int) []float32 {
	return b.Features[i*b.FeatureDim : (i+1)*b.FeatureDim]
}

// LabelColumn returns the encoded codes of the named label column.
func (b *Batch) LabelColumn(name string) ([]int64, bool) {
	for i, c := range b.LabelColumns {
		if c == name {
			return b.Labels[i], true
		}
	}
	return nil, false
}

// Tensors converts the batch into gomlx tensors: one feature tensor and one
// label tensor per label column.
//
// A single-row batch converts to a rank-1 feature tensor and scalar label
// tensors; larger batches convert to a row-major stacked [rows, dim] feature
// tensor and rank-1 label tensors.
func (b *Batch) Tensors() (features *tensors.Tensor, labels []*tensors.Tensor, err error) {
	if len(b.Features) != b.Rows*b.FeatureDim {
		return nil, nil, fmt.Errorf("batch feature buffer has %d values, want %d (%d rows x %d)",
			len(b.Features), b.Rows*b.FeatureDim, b.Rows, b.FeatureDim)
	}
	for i, codes := range b.Labels {
		if len(codes) != b.Rows {
			return nil, nil, fmt.Errorf("label column %q has %d codes, want %d",
				b.LabelColumns[i], len(codes), b.Rows)
		}
	}

	if b.Rows == 1 {
		features = tensors.FromAnyValue(b.FeatureRow(0))
		labels = make([]*tensors.Tensor, len(b.Labels))
		for i, codes := range b.Labels {
			labels[i] = tensors.FromAnyValue(codes[0])
		}
		return features, labels, nil
	}

	rows := make([][]float32, b.Rows)
	for i := range rows {
		rows[i] = b.FeatureRow(i)
	}
	features = tensors.FromAnyValue(rows)
	labels = make([]*tensors.Tensor, len(b.Labels))
	for i, codes := range b.Labels {
		labels[i] = tensors.FromAnyValue(codes)
	}
	return features, labels, nil
}
