package pipe

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Dataset adapts a Source to gomlx's train.Dataset contract, so a source can
// be handed straight to a gomlx training loop. The contract is minimal: a
// finite lazy sequence of paired feature/label tensor units, restartable via
// Reset, with io.EOF marking the end of an epoch.
type Dataset struct {
	name string
	src  *Source
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset wraps a source for gomlx training loops.
func NewDataset(name string, src *Source) *Dataset {
	return &Dataset{name: name, src: src}
}

// Name implements train.Dataset.
func (d *Dataset) Name() string { return d.name }

// Source returns the wrapped batch source.
func (d *Dataset) Source() *Source { return d.src }

// Yield implements train.Dataset. It returns io.EOF when the underlying
// source is exhausted.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := d.src.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	features, labelTensors, err := batch.Tensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{features}, labelTensors, nil
}

// Reset implements train.Dataset by rewinding the source for another epoch.
func (d *Dataset) Reset() {
	d.src.Reset()
}
