package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RemyLau/axispipe/filter"
	"github.com/RemyLau/axispipe/pipe"
)

// testStore builds a 6-row, 3-feature store. Feature value of row r, column
// j is r*10 + j.
func testStore(t *testing.T) *MemoryStore {
	t.Helper()
	features := make([]float32, 0, 18)
	for r := 0; r < 6; r++ {
		for j := 0; j < 3; j++ {
			features = append(features, float32(r*10+j))
		}
	}
	ms, err := NewMemoryStore(
		[]ObsColumn{
			{Name: "tissue", Labels: []string{"lung", "liver", "lung", "heart", "liver", "lung"}},
			{Name: "quality", Values: []float64{0.9, 0.4, 0.8, 0.7, 0.2, 0.95}},
			{Name: "donor_id", Ints: []int64{1, 1, 2, 2, 3, 3}},
		},
		[]string{"gene_a", "gene_b", "gene_c"},
		features,
	)
	require.NoError(t, err)
	return ms
}

func mustFilter(t *testing.T, axis filter.Axis, expr string) *filter.AxisFilter {
	t.Helper()
	f, err := filter.Parse(axis, expr)
	require.NoError(t, err)
	return f
}

func TestNewMemoryStore_Validation(t *testing.T) {
	_, err := NewMemoryStore(nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = NewMemoryStore(nil, []string{"a", "b"}, make([]float32, 5))
	require.ErrorIs(t, err, ErrInvalid, "buffer not a multiple of the feature count")

	_, err = NewMemoryStore(
		[]ObsColumn{{Name: "tissue", Labels: []string{"lung"}}},
		[]string{"a"}, make([]float32, 3),
	)
	require.ErrorIs(t, err, ErrInvalid, "column shorter than the row count")

	_, err = NewMemoryStore(
		[]ObsColumn{{Name: "x", Labels: []string{"a"}, Ints: []int64{1}}},
		[]string{"a"}, make([]float32, 1),
	)
	require.ErrorIs(t, err, ErrInvalid, "column sets two value kinds")

	_, err = NewMemoryStore(
		[]ObsColumn{
			{Name: "x", Labels: []string{"a"}},
			{Name: "x", Ints: []int64{1}},
		},
		[]string{"a"}, make([]float32, 1),
	)
	require.ErrorIs(t, err, ErrInvalid, "duplicate column name")
}

func TestMemoryStore_Schema(t *testing.T) {
	ms := testStore(t)

	obs, err := ms.Schema(filter.AxisObs)
	require.NoError(t, err)
	require.Equal(t, filter.AxisObs, obs.Axis)
	c, ok := obs.Column("tissue")
	require.True(t, ok)
	require.Equal(t, filter.KindLabel, c.Kind)
	c, ok = obs.Column("quality")
	require.True(t, ok)
	require.Equal(t, filter.KindNumeric, c.Kind)
	c, ok = obs.Column("donor_id")
	require.True(t, ok)
	require.Equal(t, filter.KindInt, c.Kind)

	vars, err := ms.Schema(filter.AxisVar)
	require.NoError(t, err)
	require.Equal(t, filter.AxisVar, vars.Axis)
	_, ok = vars.Column(VarNameColumn)
	require.True(t, ok)
}

func TestMemoryStore_RowCount(t *testing.T) {
	ms := testStore(t)

	n, err := ms.RowCount(filter.AxisObs, nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), n)

	n, err = ms.RowCount(filter.AxisObs, mustFilter(t, filter.AxisObs, `tissue == 'lung'`))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = ms.RowCount(filter.AxisObs, mustFilter(t, filter.AxisObs, `tissue == 'lung' and quality > 0.85`))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = ms.RowCount(filter.AxisVar, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = ms.RowCount(filter.AxisVar, mustFilter(t, filter.AxisVar, `name in ('gene_a', 'gene_c')`))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = ms.RowCount(filter.AxisObs, mustFilter(t, filter.AxisObs, `organ == 'lung'`))
	require.ErrorIs(t, err, filter.ErrSchema)
}

func TestMemoryStore_Read(t *testing.T) {
	ms := testStore(t)

	res, err := ms.Read(pipe.ReadRequest{
		Rows:         []int64{0, 5},
		LabelColumns: []string{"tissue"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.FeatureDim)
	require.Equal(t, []float32{0, 1, 2, 50, 51, 52}, res.Features)
	require.Equal(t, []string{"lung", "lung"}, res.Labels["tissue"])
}

func TestMemoryStore_ReadFilteredPositions(t *testing.T) {
	ms := testStore(t)

	// lung rows are 0, 2, 5; positions are within that extent
	res, err := ms.Read(pipe.ReadRequest{
		Obs:          mustFilter(t, filter.AxisObs, `tissue == 'lung'`),
		Rows:         []int64{1, 2},
		LabelColumns: []string{"tissue"},
	})
	require.NoError(t, err)
	require.Equal(t, []float32{20, 21, 22, 50, 51, 52}, res.Features)
	require.Equal(t, []string{"lung", "lung"}, res.Labels["tissue"])

	_, err = ms.Read(pipe.ReadRequest{
		Obs:  mustFilter(t, filter.AxisObs, `tissue == 'lung'`),
		Rows: []int64{3},
	})
	require.ErrorIs(t, err, ErrInvalid, "position beyond the filtered extent")
}

func TestMemoryStore_ReadVarSubset(t *testing.T) {
	ms := testStore(t)

	res, err := ms.Read(pipe.ReadRequest{
		Var:  mustFilter(t, filter.AxisVar, `name in ('gene_a', 'gene_c')`),
		Rows: []int64{1, 3},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.FeatureDim)
	require.Equal(t, []float32{10, 12, 30, 32}, res.Features)
}

func TestMemoryStore_ReadSkipFeatures(t *testing.T) {
	ms := testStore(t)

	res, err := ms.Read(pipe.ReadRequest{
		Rows:         []int64{0, 1, 2, 3, 4, 5},
		LabelColumns: []string{"tissue"},
		SkipFeatures: true,
	})
	require.NoError(t, err)
	require.Nil(t, res.Features)
	require.Equal(t, []string{"lung", "liver", "lung", "heart", "liver", "lung"}, res.Labels["tissue"])
}

func TestMemoryStore_ReadNonLabelColumn(t *testing.T) {
	ms := testStore(t)

	_, err := ms.Read(pipe.ReadRequest{
		Rows:         []int64{0},
		LabelColumns: []string{"quality"},
	})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryStore_EmptyFilterExtent(t *testing.T) {
	ms := testStore(t)

	f := mustFilter(t, filter.AxisObs, `tissue == 'kidney'`)
	n, err := ms.RowCount(filter.AxisObs, f)
	require.NoError(t, err)
	require.Zero(t, n)

	// a second count hits the cache and must agree
	n, err = ms.RowCount(filter.AxisObs, f)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryStore_SourceIntegration(t *testing.T) {
	ms := testStore(t)

	src, err := pipe.New(ms,
		pipe.WithBatchSize(2),
		pipe.WithObsFilter(mustFilter(t, filter.AxisObs, `tissue == 'lung'`)),
		pipe.WithVarFilter(mustFilter(t, filter.AxisVar, `name != 'gene_b'`)),
		pipe.WithLabelColumns("tissue"),
	)
	require.NoError(t, err)

	rows, features := src.Shape()
	require.Equal(t, int64(3), rows)
	require.Equal(t, int64(2), features)

	batch, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, 2, batch.Rows)
	require.Equal(t, []float32{0, 2, 20, 22}, batch.Features)
	codes, ok := batch.LabelColumn("tissue")
	require.True(t, ok)
	require.Equal(t, []int64{0, 0}, codes)
}
