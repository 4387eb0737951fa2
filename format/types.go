// Package format defines the small enums shared across H4MK's container,
// compress, and cipher packages so none of them need to import each other
// just to agree on a string constant.
package format

// EngineKind identifies which CompressionEngine implementation produced a
// compressed payload. It is recorded in META.compression.engine (spec §4.6)
// and is part of the VERI-covered byte range, so changing it after the fact
// invalidates the container.
type EngineKind uint8

const (
	EngineNone      EngineKind = 0x1 // No compression was applied.
	EngineReference EngineKind = 0x2 // Built-in RLE reference engine (§4.5).
	EngineZstd      EngineKind = 0x3 // Built-in Zstandard engine.
	EngineS2        EngineKind = 0x4 // Built-in S2 engine.
	EngineLZ4       EngineKind = 0x5 // Built-in LZ4 engine.
	EngineCore      EngineKind = 0x6 // Externally loaded C-ABI core.
)

func (k EngineKind) String() string {
	switch k {
	case EngineNone:
		return "none"
	case EngineReference:
		return "reference"
	case EngineZstd:
		return "zstd"
	case EngineS2:
		return "s2"
	case EngineLZ4:
		return "lz4"
	case EngineCore:
		return "core"
	default:
		return "unknown"
	}
}

// BlockType is the I/P/B classification packed into a CORE chunk's flags
// field (spec §3.2).
type BlockType uint8

const (
	BlockI BlockType = 0 // Keyframe; independently decodable.
	BlockP BlockType = 1 // Depends on a prior frame in the same GOP.
	BlockB BlockType = 2 // Depends on frames in both directions within the GOP.
)

func (b BlockType) String() string {
	switch b {
	case BlockI:
		return "I"
	case BlockP:
		return "P"
	case BlockB:
		return "B"
	default:
		return "unknown"
	}
}

// Valid reports whether b is one of the three defined block types.
func (b BlockType) Valid() bool {
	return b == BlockI || b == BlockP || b == BlockB
}
