// Package index provides xxHash64-backed lookup tables the container reader
// builds over chunk tags and track IDs, generalizing the teacher's
// hash-based O(1) metric-ID lookup (github.com/arloliu/mebo/internal/hash)
// to H4MK's tag/track routing.
package index

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// TagKey computes a fast lookup key for a 4-byte chunk tag.
func TagKey(tag string) uint64 {
	return xxhash.Sum64String(tag)
}

// TrackKey computes a fast lookup key for a (tag, track_id) pair, used by
// the reader to group CORE chunks per track without repeated string
// comparisons.
func TrackKey(tag string, trackID uint16) uint64 {
	var buf [6]byte
	copy(buf[:4], tag)
	binary.LittleEndian.PutUint16(buf[4:], trackID)

	return xxhash.Sum64(buf[:])
}

// ChunkIndex is an O(1) multi-map from a hashed (tag, track) key to the
// ordinal positions of matching chunks in file order. It is built once by
// the reader while Read parses the chunk stream and is read-only
// thereafter, so it is safe to
// share across concurrent readers (spec §5, "Readers ... safe to share for
// concurrent reads").
type ChunkIndex struct {
	byTag   map[uint64][]int
	byTrack map[uint64][]int
}

// NewChunkIndex creates an empty index ready for Add calls.
func NewChunkIndex() *ChunkIndex {
	return &ChunkIndex{
		byTag:   make(map[uint64][]int),
		byTrack: make(map[uint64][]int),
	}
}

// Add records that chunk at file-order position pos carries tag, and, for
// CORE chunks, belongs to trackID.
func (idx *ChunkIndex) Add(tag string, pos int, trackID uint16, hasTrack bool) {
	key := TagKey(tag)
	idx.byTag[key] = append(idx.byTag[key], pos)

	if hasTrack {
		tk := TrackKey(tag, trackID)
		idx.byTrack[tk] = append(idx.byTrack[tk], pos)
	}
}

// PositionsByTag returns the file-order positions of all chunks with the
// given tag, in ascending order.
func (idx *ChunkIndex) PositionsByTag(tag string) []int {
	return idx.byTag[TagKey(tag)]
}

// PositionsByTrack returns the file-order positions of all CORE chunks
// belonging to trackID, in ascending order.
func (idx *ChunkIndex) PositionsByTrack(trackID uint16) []int {
	return idx.byTrack[TrackKey("CORE", trackID)]
}
