package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, p *Planner) [][]int64 {
	t.Helper()
	var wins [][]int64
	for {
		win, ok := p.Next()
		if !ok {
			break
		}
		wins = append(wins, win)
	}
	return wins
}

func flatten(wins [][]int64) []int64 {
	var out []int64
	for _, w := range wins {
		out = append(out, w...)
	}
	return out
}

// requirePartition asserts that the windows cover 0..total-1 with every index
// appearing exactly once.
func requirePartition(t *testing.T, wins [][]int64, total int64) {
	t.Helper()
	seen := make(map[int64]int)
	for _, w := range wins {
		for _, idx := range w {
			seen[idx]++
		}
	}
	require.Len(t, seen, int(total))
	for i := int64(0); i < total; i++ {
		require.Equal(t, 1, seen[i], "index %d", i)
	}
}

func TestSequentialWindows(t *testing.T) {
	cases := []struct {
		total      int64
		batch      int
		wantWins   int
		wantLastSz int
	}{
		{total: 10, batch: 3, wantWins: 4, wantLastSz: 1},
		{total: 10, batch: 5, wantWins: 2, wantLastSz: 5},
		{total: 1, batch: 4, wantWins: 1, wantLastSz: 1},
		{total: 15020, batch: 16, wantWins: 939, wantLastSz: 12},
	}
	for _, tc := range cases {
		p, err := New(tc.total, WithBatchSize(tc.batch))
		require.NoError(t, err)
		require.Equal(t, tc.wantWins, p.NumWindows())

		wins := drain(t, p)
		require.Len(t, wins, tc.wantWins)
		require.Len(t, wins[len(wins)-1], tc.wantLastSz)
		requirePartition(t, wins, tc.total)

		// sequential order is strictly increasing
		flat := flatten(wins)
		for i, idx := range flat {
			require.Equal(t, int64(i), idx)
		}
	}
}

func TestEmptyExtent(t *testing.T) {
	p, err := New(0, WithBatchSize(4))
	require.NoError(t, err)
	require.Equal(t, 0, p.NumWindows())
	_, ok := p.Next()
	require.False(t, ok)

	p, err = New(0, WithBatchSize(4), WithShuffleBuffer(8), WithSeed(1))
	require.NoError(t, err)
	_, ok = p.Next()
	require.False(t, ok)
}

func TestShuffle_SeedReproducible(t *testing.T) {
	mk := func(seed int64) []int64 {
		p, err := New(200, WithBatchSize(7), WithShuffleBuffer(200), WithSeed(seed))
		require.NoError(t, err)
		return flatten(drain(t, p))
	}
	require.Equal(t, mk(42), mk(42))
	require.NotEqual(t, mk(42), mk(43))
}

func TestShuffle_FullBufferIsPermutation(t *testing.T) {
	p, err := New(500, WithBatchSize(16), WithShuffleBuffer(500), WithSeed(7))
	require.NoError(t, err)
	wins := drain(t, p)
	requirePartition(t, wins, 500)

	// with overwhelming probability a real shuffle is not the identity
	require.NotEqual(t, flatten(wins)[0:10], []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
}

func TestShuffle_SmallBufferStillPartitions(t *testing.T) {
	p, err := New(1000, WithBatchSize(32), WithShuffleBuffer(64), WithSeed(3))
	require.NoError(t, err)
	wins := drain(t, p)
	requirePartition(t, wins, 1000)

	// bounded randomness: every index stays within about a buffer of its
	// sequential position
	for emitted, idx := range flatten(wins) {
		require.LessOrEqual(t, idx, int64(emitted+64), "index %d emitted at %d", idx, emitted)
	}
}

func TestReset_ReplaysSeededOrder(t *testing.T) {
	p, err := New(100, WithBatchSize(8), WithShuffleBuffer(100), WithSeed(9))
	require.NoError(t, err)
	first := flatten(drain(t, p))
	p.Reset()
	second := flatten(drain(t, p))
	require.Equal(t, first, second)
}

func TestWithIndices(t *testing.T) {
	indices := []int64{5, 10, 15, 20, 25}
	p, err := New(0, WithBatchSize(2), WithIndices(indices))
	require.NoError(t, err)
	wins := drain(t, p)
	require.Equal(t, [][]int64{{5, 10}, {15, 20}, {25}}, wins)
}

func TestConfigErrors(t *testing.T) {
	_, err := New(-1)
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(10, WithBatchSize(0))
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(10, WithShuffleBuffer(-1))
	require.ErrorIs(t, err, ErrConfig)
}
