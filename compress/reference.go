package compress

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
)

// referenceEngineID and referenceFingerprint identify the built-in RLE
// engine the same way an external core reports its identity (spec §4.6),
// so META.compression always has a concrete engine_id/fingerprint pair,
// never special-cased for "no core loaded".
const referenceEngineID = "h4mk-reference-rle-v1"

var referenceFingerprint = sha256.Sum256([]byte(referenceEngineID))

// ReferenceEngine is the mandatory, always-available run-length engine
// (spec §4.5): each input byte is followed by a u8 run length in [1,255].
// It is not a useful codec on non-repetitive data — it exists as a stable,
// auditable determinism gold-reference. ReferenceEngine holds no state, so
// a zero value is ready to use.
type ReferenceEngine struct{}

var _ Engine = ReferenceEngine{}

// NewReferenceEngine returns the built-in RLE engine.
func NewReferenceEngine() ReferenceEngine { return ReferenceEngine{} }

// Compress run-length encodes data. Runs longer than 255 are split into
// multiple (byte, 255) pairs.
func (ReferenceEngine) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	out := make([]byte, 0, len(data)*2)
	i := 0
	for i < len(data) {
		b := data[i]
		run := 1
		for i+run < len(data) && data[i+run] == b && run < 255 {
			run++
		}
		out = append(out, b, byte(run))
		i += run
	}

	return out, nil
}

// Decompress reverses Compress. An odd-length or otherwise malformed input
// is a DecompressionFailed error, never a partial result.
func (ReferenceEngine) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	if len(data)%2 != 0 {
		return nil, errs.ErrDecompressionFailed
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += 2 {
		b, run := data[i], data[i+1]
		if run == 0 {
			return nil, errs.ErrDecompressionFailed
		}
		for n := 0; n < int(run); n++ {
			out = append(out, b)
		}
	}

	return out, nil
}

// Info reports the reference engine's identity.
func (ReferenceEngine) Info() Info {
	return baseInfo(format.EngineReference, referenceEngineID, hex.EncodeToString(referenceFingerprint[:]))
}
