package seek

import (
	"testing"

	"github.com/arloliu/h4mk/format"
	"github.com/stretchr/testify/require"
)

func sampleBlocks() []BlockMeta {
	return []BlockMeta{
		{PtsMs: 0, Type: format.BlockI, CoreChunkIndex: 0},
		{PtsMs: 33, Type: format.BlockP, CoreChunkIndex: 1},
		{PtsMs: 66, Type: format.BlockP, CoreChunkIndex: 2},
		{PtsMs: 100, Type: format.BlockI, CoreChunkIndex: 3},
		{PtsMs: 133, Type: format.BlockP, CoreChunkIndex: 4},
	}
}

func TestSeekKeyframe(t *testing.T) {
	require := require.New(t)
	ix := BuildFromBlocks(1, sampleBlocks())

	_, e, ok := ix.SeekKeyframe(50)
	require.True(ok)
	require.Equal(uint32(0), e.PtsMs)

	_, e, ok = ix.SeekKeyframe(120)
	require.True(ok)
	require.Equal(uint32(100), e.PtsMs)

	_, _, ok = ix.SeekKeyframe(0)
	require.True(ok)
}

func TestSeekKeyframe_BeforeFirst(t *testing.T) {
	require := require.New(t)
	blocks := []BlockMeta{{PtsMs: 10, Type: format.BlockI, CoreChunkIndex: 0}}
	ix := BuildFromBlocks(1, blocks)

	_, _, ok := ix.SeekKeyframe(5)
	require.False(ok)
}

func TestDecodeChain(t *testing.T) {
	require := require.New(t)
	ix := BuildFromBlocks(1, sampleBlocks())

	chain, err := ix.DecodeChain(66)
	require.NoError(err)
	require.Equal([]uint32{0, 1, 2}, chain)

	chain, err = ix.DecodeChain(50)
	require.NoError(err)
	require.Equal([]uint32{0, 1}, chain)

	chain, err = ix.DecodeChain(133)
	require.NoError(err)
	require.Equal([]uint32{3, 4}, chain)
}

func TestDecodeChain_NoKeyframe(t *testing.T) {
	require := require.New(t)
	blocks := []BlockMeta{{PtsMs: 10, Type: format.BlockI, CoreChunkIndex: 0}}
	ix := BuildFromBlocks(1, blocks)

	chain, err := ix.DecodeChain(5)
	require.NoError(err)
	require.Nil(chain)
}

func TestEncodeDecodeTSEK_RoundTrip(t *testing.T) {
	require := require.New(t)
	entries := []Entry{{PtsMs: 0, CoreChunkIndex: 0}, {PtsMs: 100, CoreChunkIndex: 3}}

	payload := EncodeTSEK(7, entries)
	trackID, decoded, err := DecodeTSEK(payload)
	require.NoError(err)
	require.Equal(uint16(7), trackID)
	require.Equal(entries, decoded)
}

func TestDecodeTSEK_BadMagic(t *testing.T) {
	require := require.New(t)
	payload := EncodeTSEK(1, nil)
	payload[0] = 'X'

	_, _, err := DecodeTSEK(payload)
	require.Error(err)
}

func TestValidateMonotonic(t *testing.T) {
	require := require.New(t)

	require.NoError(ValidateMonotonic([]Entry{{PtsMs: 0}, {PtsMs: 5}, {PtsMs: 10}}))
	require.Error(ValidateMonotonic([]Entry{{PtsMs: 0}, {PtsMs: 0}}))
	require.Error(ValidateMonotonic([]Entry{{PtsMs: 10}, {PtsMs: 5}}))
}
