package encode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelEncoder_RoundTrip(t *testing.T) {
	e := NewLabelEncoder("cell_type")
	require.False(t, e.Fitted())

	require.NoError(t, e.Fit([]string{"a", "b", "a", "c"}))
	require.True(t, e.Fitted())
	require.Equal(t, 3, e.NumClasses())
	// codes are assigned in sorted label order
	require.Equal(t, []string{"a", "b", "c"}, e.Classes())

	codes, err := e.Encode([]string{"c", "a"})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 0}, codes)

	labels, err := e.Decode(codes)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, labels)
}

func TestLabelEncoder_SortedOrderIndependentOfObservation(t *testing.T) {
	a := NewLabelEncoder("c")
	b := NewLabelEncoder("c")
	require.NoError(t, a.Fit([]string{"z", "m", "a"}))
	require.NoError(t, b.Fit([]string{"a", "a", "z", "m", "z"}))
	require.Equal(t, a.Classes(), b.Classes())
}

func TestLabelEncoder_RefitConflicting(t *testing.T) {
	e := NewLabelEncoder("c")
	require.NoError(t, e.Fit([]string{"a", "b"}))

	err := e.Fit([]string{"a", "b", "c"})
	require.ErrorIs(t, err, ErrAlreadyFitted)

	err = e.Fit([]string{"a", "x"})
	require.ErrorIs(t, err, ErrAlreadyFitted)

	// identical label set is a no-op
	require.NoError(t, e.Fit([]string{"b", "a", "b"}))
	require.Equal(t, []string{"a", "b"}, e.Classes())
}

func TestLabelEncoder_UnknownLabel(t *testing.T) {
	e := NewLabelEncoder("c")
	require.NoError(t, e.Fit([]string{"a", "b"}))

	_, err := e.Encode([]string{"a", "zzz"})
	require.ErrorIs(t, err, ErrUnknownLabel)
}

func TestLabelEncoder_UnknownCode(t *testing.T) {
	e := NewLabelEncoder("c")
	require.NoError(t, e.Fit([]string{"a", "b"}))

	_, err := e.Decode([]int64{0, 2})
	require.ErrorIs(t, err, ErrUnknownCode)
	_, err = e.Decode([]int64{-1})
	require.ErrorIs(t, err, ErrUnknownCode)
}

func TestLabelEncoder_NotFitted(t *testing.T) {
	e := NewLabelEncoder("c")
	_, err := e.Encode([]string{"a"})
	require.ErrorIs(t, err, ErrNotFitted)
	_, err = e.Decode([]int64{0})
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	e := r.Get("tissue")
	require.Same(t, e, r.Get("tissue"))

	_, ok := r.Lookup("cell_type")
	require.False(t, ok)
	r.Get("cell_type")
	_, ok = r.Lookup("cell_type")
	require.True(t, ok)

	require.Equal(t, []string{"cell_type", "tissue"}, r.Columns())

	pre := NewLabelEncoder("tissue")
	require.NoError(t, pre.Fit([]string{"lung"}))
	r.Add(pre)
	require.Same(t, pre, r.Get("tissue"))
}
