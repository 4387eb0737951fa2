package compress

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/arloliu/h4mk/format"
	"github.com/klauspost/compress/s2"
)

const s2EngineID = "h4mk-builtin-s2-v1"

var s2Fingerprint = sha256.Sum256([]byte(s2EngineID))

// S2Engine is a built-in engine balancing compression ratio and speed,
// adapted from the teacher's compress/s2.go.
type S2Engine struct{}

var _ Engine = S2Engine{}

// NewS2Engine returns the built-in S2 engine.
func NewS2Engine() S2Engine { return S2Engine{} }

// Compress compresses data using S2.
func (S2Engine) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	return s2.Encode(nil, data), nil
}

// Decompress decompresses S2-compressed data.
func (S2Engine) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	return s2.Decode(nil, data)
}

// Info reports the S2 engine's identity.
func (S2Engine) Info() Info {
	return baseInfo(format.EngineS2, s2EngineID, hex.EncodeToString(s2Fingerprint[:]))
}
