package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VazKrishnan/lightnvm/internal/bitmap"
)

func TestBitmapSetAndTest(t *testing.T) {
	b := bitmap.New(130)
	require.Equal(t, 130, b.Len())
	require.False(t, b.Test(0))
	require.False(t, b.Test(129))

	b.Set(0)
	b.Set(64)
	b.Set(129)

	require.True(t, b.Test(0))
	require.True(t, b.Test(64))
	require.True(t, b.Test(129))
	require.False(t, b.Test(1))
	require.Equal(t, 3, b.Popcount())
	require.Equal(t, b.Popcount(), b.Recount())
}

func TestBitmapDoubleSetPanics(t *testing.T) {
	b := bitmap.New(8)
	b.Set(3)
	require.Panics(t, func() { b.Set(3) })
}

func TestBitmapClear(t *testing.T) {
	b := bitmap.New(64)
	b.Set(1)
	b.Set(2)
	b.Clear()
	require.Equal(t, 0, b.Popcount())
	require.False(t, b.Test(1))
	// Clearing allows the same bit to be set again without panicking.
	b.Set(1)
	require.Equal(t, 1, b.Popcount())
}
