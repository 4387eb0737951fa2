package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkIndexPositionsByTag(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add("TRAK", 0, 0, false)
	idx.Add("CORE", 1, 5, true)
	idx.Add("CORE", 2, 5, true)
	idx.Add("CORE", 3, 7, true)

	require.Equal(t, []int{0}, idx.PositionsByTag("TRAK"))
	require.Equal(t, []int{1, 2, 3}, idx.PositionsByTag("CORE"))
	require.Empty(t, idx.PositionsByTag("VERI"))
}

func TestChunkIndexPositionsByTrack(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add("CORE", 1, 5, true)
	idx.Add("CORE", 2, 5, true)
	idx.Add("CORE", 3, 7, true)

	require.Equal(t, []int{1, 2}, idx.PositionsByTrack(5))
	require.Equal(t, []int{3}, idx.PositionsByTrack(7))
	require.Empty(t, idx.PositionsByTrack(99))
}
