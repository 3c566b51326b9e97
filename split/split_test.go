package split

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(1)
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(1, Weight{Name: "", Frac: 1.0})
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(1, Weight{Name: "train", Frac: 0.5}, Weight{Name: "train", Frac: 0.5})
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(1, Weight{Name: "train", Frac: 1.2}, Weight{Name: "test", Frac: -0.2})
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(1, Weight{Name: "train", Frac: 0.8}, Weight{Name: "test", Frac: 0.1})
	require.ErrorIs(t, err, ErrConfig)

	// exactly 1.0 within tolerance is accepted
	_, err = New(1, Weight{Name: "train", Frac: 0.7}, Weight{Name: "test", Frac: 0.3000000001})
	require.NoError(t, err)
}

func TestPartition_DisjointExhaustive(t *testing.T) {
	p, err := New(1,
		Weight{Name: "train", Frac: 0.8},
		Weight{Name: "val", Frac: 0.1},
		Weight{Name: "test", Frac: 0.1},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"train", "val", "test"}, p.Names())

	parts := p.Partition(100)
	require.Len(t, parts, 3)
	require.Len(t, parts["train"], 80)
	require.Len(t, parts["val"], 10)
	require.Len(t, parts["test"], 10)

	seen := make(map[int64]bool)
	for _, indices := range parts {
		for _, idx := range indices {
			require.False(t, seen[idx], "index %d assigned twice", idx)
			seen[idx] = true
			require.GreaterOrEqual(t, idx, int64(0))
			require.Less(t, idx, int64(100))
		}
	}
	require.Len(t, seen, 100)
}

func TestPartition_Deterministic(t *testing.T) {
	mk := func(seed int64) map[string][]int64 {
		p, err := New(seed,
			Weight{Name: "train", Frac: 0.9},
			Weight{Name: "test", Frac: 0.1},
		)
		require.NoError(t, err)
		return p.Partition(1000)
	}
	require.Equal(t, mk(5), mk(5))
	require.NotEqual(t, mk(5)["test"], mk(6)["test"])
}

func TestPartition_RemainderGoesToLastSplit(t *testing.T) {
	p, err := New(2,
		Weight{Name: "a", Frac: 1.0 / 3.0},
		Weight{Name: "b", Frac: 1.0 / 3.0},
		Weight{Name: "c", Frac: 1.0 / 3.0},
	)
	require.NoError(t, err)

	parts := p.Partition(10)
	total := len(parts["a"]) + len(parts["b"]) + len(parts["c"])
	require.Equal(t, 10, total)
	// cumulative rounding: cuts at round(3.33)=3 and round(6.67)=7
	require.Len(t, parts["a"], 3)
	require.Len(t, parts["b"], 4)
	require.Len(t, parts["c"], 3)
}

func TestPartition_SortedWithinSplit(t *testing.T) {
	p, err := New(3, Weight{Name: "train", Frac: 0.5}, Weight{Name: "test", Frac: 0.5})
	require.NoError(t, err)
	for _, indices := range p.Partition(50) {
		for i := 1; i < len(indices); i++ {
			require.Less(t, indices[i-1], indices[i])
		}
	}
}

func TestPartition_ZeroWeightSplit(t *testing.T) {
	p, err := New(4,
		Weight{Name: "train", Frac: 1.0},
		Weight{Name: "debug", Frac: 0.0},
	)
	require.NoError(t, err)
	parts := p.Partition(20)
	require.Len(t, parts["train"], 20)
	require.Empty(t, parts["debug"])
}

func TestPartition_EmptyExtent(t *testing.T) {
	p, err := New(5, Weight{Name: "train", Frac: 1.0})
	require.NoError(t, err)
	parts := p.Partition(0)
	require.Empty(t, parts["train"])
}
