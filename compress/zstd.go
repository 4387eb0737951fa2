package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/arloliu/h4mk/format"
	"github.com/klauspost/compress/zstd"
)

const zstdEngineID = "h4mk-builtin-zstd-v1"

var zstdFingerprint = sha256.Sum256([]byte(zstdEngineID))

// zstdDecoderPool and zstdEncoderPool mirror the teacher's pooling strategy
// for klauspost/compress/zstd: "designed to operate without allocations
// after a warmup", so encoders/decoders are reused rather than rebuilt per
// call.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("h4mk: failed to create zstd decoder: %v", err))
		}

		return d
	},
}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderCRC(false))
		if err != nil {
			panic(fmt.Sprintf("h4mk: failed to create zstd encoder: %v", err))
		}

		return e
	},
}

// ZstdEngine is a built-in real-world compression engine (SPEC_FULL.md §B),
// selectable alongside the mandatory reference RLE engine when a caller
// wants actual space savings instead of the audit/determinism guarantee.
type ZstdEngine struct{}

var _ Engine = ZstdEngine{}

// NewZstdEngine returns the built-in Zstandard engine.
func NewZstdEngine() ZstdEngine { return ZstdEngine{} }

// Compress compresses data using Zstandard.
func (ZstdEngine) Compress(data []byte) ([]byte, error) {
	enc, _ := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress decompresses Zstandard-compressed data.
func (ZstdEngine) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	dec, _ := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}

// Info reports the Zstandard engine's identity.
func (ZstdEngine) Info() Info {
	return baseInfo(format.EngineZstd, zstdEngineID, hex.EncodeToString(zstdFingerprint[:]))
}
