// Package seek implements H4MK's per-track seek index (spec §4.2, C3):
// an ordered table of keyframe (pts_ms, core_chunk_index) pairs supporting
// O(log n) keyframe lookup and O(k) GOP decode-chain extraction.
package seek

import (
	"fmt"
	"sort"

	"github.com/arloliu/h4mk/endian"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
)

// Magic4 is the H4SK routing prefix inside a TSEK chunk's payload (spec §3.2).
const Magic4 = "H4SK"

// EntrySize is the on-disk size of one seek entry: pts_ms(u32) || core_chunk_index(u32).
const EntrySize = 8

// HeaderSize is H4SK(4) || track_id(u16) || reserved(u16) || count(u32).
const HeaderSize = 4 + 2 + 2 + 4

var engine = endian.GetLittleEndianEngine()

// Entry is one (pts_ms, core_chunk_index) seek table row. Entries exist only
// for I-blocks (spec §3.3).
type Entry struct {
	PtsMs          uint32
	CoreChunkIndex uint32
}

// BlockMeta describes one CORE chunk belonging to a track, in file order.
// CoreChunkIndex is the chunk's ordinal position among all CORE chunks in
// the file (not just this track), used to resolve TSEK references (I6).
type BlockMeta struct {
	PtsMs          uint32
	Type           format.BlockType
	CoreChunkIndex uint32
}

// Index is the reconstructed seek table for a single track: its keyframe
// entries plus the full ordered block list needed to walk a GOP.
type Index struct {
	TrackID uint16
	Entries []Entry     // ascending by PtsMs; I-blocks only
	Blocks  []BlockMeta // every CORE block for this track, file order
}

// BuildFromBlocks derives an Index by scanning blocks for I-blocks. This is
// the "reconstructed lazily on read" path of spec §4.2 (one pass over CORE
// chunks' flags per track).
func BuildFromBlocks(trackID uint16, blocks []BlockMeta) *Index {
	entries := make([]Entry, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == format.BlockI {
			entries = append(entries, Entry{PtsMs: b.PtsMs, CoreChunkIndex: b.CoreChunkIndex})
		}
	}

	return &Index{TrackID: trackID, Entries: entries, Blocks: blocks}
}

// SeekKeyframe returns the entry with the greatest PtsMs <= targetPtsMs.
// If two entries share a PtsMs (forbidden by I6, handled defensively), the
// one with the smaller entry index is preferred. ok is false if
// targetPtsMs precedes every entry.
func (ix *Index) SeekKeyframe(targetPtsMs uint32) (entryIndex int, entry Entry, ok bool) {
	// sort.Search finds the first index for which PtsMs > target; the
	// keyframe we want is the first entry of the equal-PtsMs run
	// immediately before it.
	i := sort.Search(len(ix.Entries), func(i int) bool {
		return ix.Entries[i].PtsMs > targetPtsMs
	})
	if i == 0 {
		return 0, Entry{}, false
	}

	j := i - 1
	for j > 0 && ix.Entries[j-1].PtsMs == ix.Entries[j].PtsMs {
		j--
	}

	return j, ix.Entries[j], true
}

// DecodeChain returns, in file order, the core_chunk_index of the keyframe
// located by SeekKeyframe followed by every subsequent same-track CORE
// chunk up to (exclusively) the next I-block or a block whose PtsMs exceeds
// targetPtsMs, whichever comes first. It returns nil, nil if no keyframe
// exists at or before targetPtsMs.
func (ix *Index) DecodeChain(targetPtsMs uint32) ([]uint32, error) {
	_, keyframe, ok := ix.SeekKeyframe(targetPtsMs)
	if !ok {
		return nil, nil
	}

	start := -1
	for i, b := range ix.Blocks {
		if b.CoreChunkIndex == keyframe.CoreChunkIndex {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: keyframe core_chunk_index=%d not found in track %d blocks",
			errs.ErrSeekIndexInconsistent, keyframe.CoreChunkIndex, ix.TrackID)
	}

	chain := []uint32{ix.Blocks[start].CoreChunkIndex}
	for i := start + 1; i < len(ix.Blocks); i++ {
		b := ix.Blocks[i]
		if b.Type == format.BlockI || b.PtsMs > targetPtsMs {
			break
		}
		chain = append(chain, b.CoreChunkIndex)
	}

	return chain, nil
}

// EncodeTSEK serializes a track's seek entries into a TSEK chunk payload
// (H4SK || track_id || reserved || count || entries). It does not perform
// chunk framing; callers wrap the result with chunk.EncodeChunk(chunk.TagTSEK, ...).
func EncodeTSEK(trackID uint16, entries []Entry) []byte {
	out := make([]byte, HeaderSize+EntrySize*len(entries))
	copy(out[0:4], Magic4)
	engine.PutUint16(out[4:6], trackID)
	engine.PutUint16(out[6:8], 0)
	engine.PutUint32(out[8:12], uint32(len(entries))) //nolint:gosec

	off := HeaderSize
	for _, e := range entries {
		engine.PutUint32(out[off:off+4], e.PtsMs)
		engine.PutUint32(out[off+4:off+8], e.CoreChunkIndex)
		off += EntrySize
	}

	return out
}

// DecodeTSEK parses a TSEK chunk payload into its track ID and entries.
func DecodeTSEK(payload []byte) (trackID uint16, entries []Entry, err error) {
	if len(payload) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: TSEK payload too short", errs.ErrChunkMalformed)
	}
	if string(payload[0:4]) != Magic4 {
		return 0, nil, fmt.Errorf("%w: TSEK missing H4SK prefix", errs.ErrChunkMalformed)
	}

	trackID = engine.Uint16(payload[4:6])
	count := engine.Uint32(payload[8:12])

	want := HeaderSize + int(count)*EntrySize
	if len(payload) != want {
		return 0, nil, fmt.Errorf("%w: TSEK declares %d entries but payload is %d bytes",
			errs.ErrChunkMalformed, count, len(payload))
	}

	entries = make([]Entry, count)
	off := HeaderSize
	for i := range entries {
		entries[i] = Entry{
			PtsMs:          engine.Uint32(payload[off : off+4]),
			CoreChunkIndex: engine.Uint32(payload[off+4 : off+8]),
		}
		off += EntrySize
	}

	return trackID, entries, nil
}

// ValidateMonotonic checks the I6 invariant: entries strictly increasing in
// PtsMs.
func ValidateMonotonic(entries []Entry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].PtsMs <= entries[i-1].PtsMs {
			return fmt.Errorf("%w: TSEK entries not strictly increasing at index %d", errs.ErrSeekIndexInconsistent, i)
		}
	}

	return nil
}
