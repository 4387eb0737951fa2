package container_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/h4mk/chunk"
	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/compress"
	"github.com/arloliu/h4mk/container"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
)

func oneTrack() []container.Track {
	return []container.Track{
		{TrackID: 0, Name: "cam0", Kind: container.KindVideo, Codec: "raw"},
	}
}

func threeBlocks() []container.Block {
	return []container.Block{
		{TrackID: 0, PtsMs: 0, Type: format.BlockI, Payload: []byte("keyframe-0")},
		{TrackID: 0, PtsMs: 100, Type: format.BlockP, Payload: []byte("delta-1")},
		{TrackID: 0, PtsMs: 200, Type: format.BlockP, Payload: []byte("delta-2")},
	}
}

func TestBuildReadRoundTrip(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	r, err := container.Read(data)
	require.NoError(t, err)

	tracks := r.Tracks()
	require.Len(t, tracks, 1)
	require.Equal(t, uint16(0), tracks[0].TrackID)

	blocks := r.IterCoreBlocks(nil)
	require.Len(t, blocks, 3)
	require.Equal(t, []byte("keyframe-0"), blocks[0].Payload)
	require.Equal(t, []byte("delta-1"), blocks[1].Payload)
	require.Equal(t, []byte("delta-2"), blocks[2].Payload)
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	b, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestReadRejectsContainerCrcTamper(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	data[len(data)-1] ^= 0xFF

	_, err = container.Read(data)
	require.ErrorIs(t, err, errs.ErrContainerCrcMismatch)
}

func TestReadRejectsChunkCrcTamper(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	// Flip a byte inside the TRAK chunk's payload, then re-seal the trailing
	// container CRC so the corrupted chunk's own CRC is the check that fails.
	data[container.HeaderSize+40] ^= 0xFF
	binary.LittleEndian.PutUint32(data[len(data)-container.CRCSize:], crc32.ChecksumIEEE(data[:len(data)-container.CRCSize]))

	_, err = container.Read(data)
	require.ErrorIs(t, err, errs.ErrChunkCrcMismatch)
}

func TestReadRejectsVeriTamperAfterChunkFixup(t *testing.T) {
	// Tampering a chunk payload alone is always caught by that chunk's own
	// CRC first (I2 runs before I9). To reach the VERI check, edit the NOTE
	// text and then recompute both the NOTE chunk's CRC and the container
	// CRC, so the only stale value left is VERI.sha256.
	data, err := container.Build(oneTrack(), threeBlocks(), container.WithNote("hello operator"))
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	hex, ok := r.VeriHex()
	require.True(t, ok)
	require.Len(t, hex, 64)

	note := []byte("hello operator")
	pos := bytes.Index(data, note)
	require.Positive(t, pos)
	data[pos] = 'j'
	end := pos + len(note)
	binary.LittleEndian.PutUint32(data[end:end+4], crc32.ChecksumIEEE(data[pos-chunk.HeaderSize:end]))
	binary.LittleEndian.PutUint32(data[len(data)-container.CRCSize:], crc32.ChecksumIEEE(data[:len(data)-container.CRCSize]))

	_, err = container.Read(data)
	require.ErrorIs(t, err, errs.ErrVeriMismatch)
}

func TestValidateTracksRejectsDuplicateID(t *testing.T) {
	tracks := []container.Track{
		{TrackID: 0, Name: "a", Kind: container.KindAudio, Codec: "pcm"},
		{TrackID: 0, Name: "b", Kind: container.KindVideo, Codec: "raw"},
	}

	_, err := container.Build(tracks, nil)
	require.ErrorIs(t, err, errs.ErrTrackTableInvalid)
}

func TestValidateTracksRejectsEmptyName(t *testing.T) {
	tracks := []container.Track{{TrackID: 0, Name: "", Kind: container.KindAudio, Codec: "pcm"}}

	_, err := container.Build(tracks, nil)
	require.ErrorIs(t, err, errs.ErrTrackTableInvalid)
}

func TestBuildRejectsUnknownTrackReference(t *testing.T) {
	blocks := []container.Block{
		{TrackID: 9, PtsMs: 0, Type: format.BlockI, Payload: []byte("x")},
	}

	_, err := container.Build(oneTrack(), blocks)
	require.ErrorIs(t, err, errs.ErrUnknownTrack)
}

func TestBuildRejectsFirstBlockNotI(t *testing.T) {
	blocks := []container.Block{
		{TrackID: 0, PtsMs: 0, Type: format.BlockP, Payload: []byte("x")},
	}

	_, err := container.Build(oneTrack(), blocks)
	require.ErrorIs(t, err, errs.ErrFirstBlockNotI)
}

func TestBuildRejectsNonMonotonicPts(t *testing.T) {
	blocks := []container.Block{
		{TrackID: 0, PtsMs: 100, Type: format.BlockI, Payload: []byte("a")},
		{TrackID: 0, PtsMs: 50, Type: format.BlockP, Payload: []byte("b")},
	}

	_, err := container.Build(oneTrack(), blocks)
	require.ErrorIs(t, err, errs.ErrPtsNonMonotonic)
}

func TestBuildSchedulesMultitrackByPtsThenTrack(t *testing.T) {
	tracks := []container.Track{
		{TrackID: 0, Name: "a", Kind: container.KindAudio, Codec: "pcm"},
		{TrackID: 1, Name: "v", Kind: container.KindVideo, Codec: "raw"},
	}
	blocks := []container.Block{
		{TrackID: 1, PtsMs: 0, Type: format.BlockI, Payload: []byte("v0")},
		{TrackID: 0, PtsMs: 0, Type: format.BlockI, Payload: []byte("a0")},
		{TrackID: 1, PtsMs: 100, Type: format.BlockP, Payload: []byte("v1")},
		{TrackID: 0, PtsMs: 100, Type: format.BlockP, Payload: []byte("a1")},
	}

	data, err := container.Build(tracks, blocks)
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	all := r.IterCoreBlocks(nil)
	require.Len(t, all, 4)
	// Schedule order at pts=0 is track_id asc (0 then 1), same at pts=100.
	require.Equal(t, uint16(0), all[0].TrackID)
	require.Equal(t, uint16(1), all[1].TrackID)
	require.Equal(t, uint16(0), all[2].TrackID)
	require.Equal(t, uint16(1), all[3].TrackID)
}

func TestSeekReturnsGreatestKeyframeNotExceedingTarget(t *testing.T) {
	blocks := []container.Block{
		{TrackID: 0, PtsMs: 0, Type: format.BlockI, Payload: []byte("i0")},
		{TrackID: 0, PtsMs: 100, Type: format.BlockP, Payload: []byte("p1")},
		{TrackID: 0, PtsMs: 200, Type: format.BlockI, Payload: []byte("i2")},
		{TrackID: 0, PtsMs: 300, Type: format.BlockP, Payload: []byte("p3")},
	}

	data, err := container.Build(oneTrack(), blocks)
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	entry, ok := r.Seek(0, 250)
	require.True(t, ok)
	require.Equal(t, uint32(200), entry.PtsMs)

	entry, ok = r.Seek(0, 50)
	require.True(t, ok)
	require.Equal(t, uint32(0), entry.PtsMs)
}

func TestDecodeChainCoversGOP(t *testing.T) {
	blocks := []container.Block{
		{TrackID: 0, PtsMs: 0, Type: format.BlockI, Payload: []byte("i0")},
		{TrackID: 0, PtsMs: 100, Type: format.BlockP, Payload: []byte("p1")},
		{TrackID: 0, PtsMs: 200, Type: format.BlockI, Payload: []byte("i2")},
	}

	data, err := container.Build(oneTrack(), blocks)
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	chain, err := r.DecodeChain(0, 100)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, chain)
}

func TestBuildWithEngineRoundTrip(t *testing.T) {
	eng := compress.NewZstdEngine()

	data, err := container.Build(oneTrack(), threeBlocks(), container.WithEngine(eng))
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	meta := r.Meta()
	require.NotNil(t, meta)
	comp, ok := meta["compression"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "zstd", comp["engine"])

	blocks := r.IterCoreBlocks(nil)
	require.Len(t, blocks, 3)

	plain, err := r.DecryptCoreBlock(blocks[0], nil, eng, "")
	require.NoError(t, err)
	require.Equal(t, []byte("keyframe-0"), plain)
}

func TestBuildWithCipherRoundTrip(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	buildState, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	eng := compress.NewS2Engine()

	data, err := container.Build(oneTrack(), threeBlocks(),
		container.WithEngine(eng),
		container.WithCipher(buildState),
	)
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	readState, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	blocks := r.IterCoreBlocks(nil)
	require.Len(t, blocks, 3)

	want := [][]byte{[]byte("keyframe-0"), []byte("delta-1"), []byte("delta-2")}
	for i, b := range blocks {
		plain, err := r.DecryptCoreBlock(b, readState, eng, "")
		require.NoError(t, err)
		require.Equal(t, want[i], plain)
	}
}

func TestBuildWithNoteAndSafe(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks(),
		container.WithNote("hello operator"),
		container.WithSafe(map[string]any{"classification": "unclassified"}),
	)
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	note, ok := r.Note()
	require.True(t, ok)
	require.Equal(t, "hello operator", note)

	safe := r.Safe()
	require.Equal(t, "unclassified", safe["classification"])
}

func TestStatReportsChunkCounts(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	stat := r.Stat()
	require.Equal(t, 1, stat.TrackCount)
	require.True(t, stat.HasCompression)
	require.Equal(t, 3, stat.ChunkCountByTag["CORE"])
	require.Equal(t, 1, stat.ChunkCountByTag["TRAK"])
	require.Equal(t, 1, stat.ChunkCountByTag["VERI"])
}

func TestSingleTrackThreeBlockLiteralShape(t *testing.T) {
	data, err := container.Build(oneTrack(), threeBlocks())
	require.NoError(t, err)

	r, err := container.Read(data)
	require.NoError(t, err)

	require.Len(t, r.GetChunks("TRAK"), 1)
	require.Len(t, r.GetChunks("CORE"), 3)
	require.Len(t, r.GetChunks("TSEK"), 1)
	require.Len(t, r.GetChunks("META"), 1)
	require.Len(t, r.GetChunks("VERI"), 1)
	require.Empty(t, r.GetChunks("SAFE"))
	require.Empty(t, r.GetChunks("NOTE"))

	entry, ok := r.Seek(0, 0)
	require.True(t, ok)
	require.Equal(t, uint32(0), entry.PtsMs)
}
