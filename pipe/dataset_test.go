package pipe_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RemyLau/axispipe/pipe"
)

func TestDataset_YieldEpochs(t *testing.T) {
	fs := newFakeStore(10, 3)
	src, err := pipe.New(fs,
		pipe.WithBatchSize(4),
		pipe.WithLabelColumns("cohort"),
	)
	require.NoError(t, err)

	ds := pipe.NewDataset("train", src)
	require.Equal(t, "train", ds.Name())
	require.Same(t, src, ds.Source())

	epoch := func() int {
		var yields int
		for {
			spec, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				return yields
			}
			require.NoError(t, err)
			require.Nil(t, spec)
			require.Len(t, inputs, 1)
			require.Len(t, labels, 1)
			yields++
		}
	}

	require.Equal(t, 3, epoch(), "10 rows / batch 4 = 3 windows")
	ds.Reset()
	require.Equal(t, 3, epoch(), "second epoch after Reset")
}

func TestDataset_SingleRowYieldsScalars(t *testing.T) {
	fs := newFakeStore(2, 3)
	src, err := pipe.New(fs, pipe.WithLabelColumns("cohort"))
	require.NoError(t, err)

	ds := pipe.NewDataset("eval", src)
	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Equal(t, []int{3}, inputs[0].Shape().Dimensions)
	require.Equal(t, 0, labels[0].Shape().Rank())
}
