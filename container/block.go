package container

import (
	"fmt"

	"github.com/arloliu/h4mk/endian"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
)

// CoreMagic is the routing prefix inside every CORE chunk's payload (spec
// §3.2).
const CoreMagic = "H4TB"

// CoreHeaderSize is H4TB(4) || track_id(u16) || reserved(u16), the bytes
// preceding a CORE chunk's opaque blob.
const CoreHeaderSize = 4 + 2 + 2

// PtsMask is the maximum pts_ms value the 28-bit flags field can hold
// (spec §3.2, I7).
const PtsMask = 1<<28 - 1

const blockTypeShift = 28

var blockEngine = endian.GetLittleEndianEngine()

// Block is one presentation-ordered unit of opaque payload for a track
// (spec §3.3). Payload is never interpreted by this package.
type Block struct {
	TrackID uint16
	PtsMs   uint32
	Type    format.BlockType
	Payload []byte
}

// packFlags encodes (pts_ms, block_type) into a CORE chunk's flags field.
func packFlags(ptsMs uint32, blockType format.BlockType) (uint32, error) {
	if ptsMs > PtsMask {
		return 0, fmt.Errorf("%w: pts_ms=%d", errs.ErrPtsOverflow, ptsMs)
	}

	return ptsMs | (uint32(blockType) << blockTypeShift), nil
}

// unpackFlags decodes a CORE chunk's flags field into (pts_ms, block_type).
func unpackFlags(flags uint32) (ptsMs uint32, blockType format.BlockType) {
	ptsMs = flags & PtsMask
	blockType = format.BlockType((flags >> blockTypeShift) & 0x3)

	return ptsMs, blockType
}

// wrapCorePayload frames a block's (already compressed/encrypted) payload
// bytes with the H4TB routing prefix (spec §3.2).
func wrapCorePayload(trackID uint16, blob []byte) []byte {
	out := make([]byte, CoreHeaderSize+len(blob))
	copy(out[0:4], CoreMagic)
	blockEngine.PutUint16(out[4:6], trackID)
	// out[6:8] reserved, left zero
	copy(out[CoreHeaderSize:], blob)

	return out
}

// unwrapCorePayload validates the H4TB prefix and splits a CORE chunk's
// payload into its declared track_id and opaque blob (spec §4.4 step 5).
func unwrapCorePayload(payload []byte) (trackID uint16, blob []byte, err error) {
	if len(payload) < CoreHeaderSize {
		return 0, nil, fmt.Errorf("%w: CORE payload shorter than header", errs.ErrMalformedCore)
	}
	if string(payload[0:4]) != CoreMagic {
		return 0, nil, fmt.Errorf("%w: missing H4TB prefix", errs.ErrMalformedCore)
	}

	trackID = blockEngine.Uint16(payload[4:6])
	blob = payload[CoreHeaderSize:]

	return trackID, blob, nil
}
