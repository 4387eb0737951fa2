package compress

import (
	"fmt"

	"github.com/arloliu/h4mk/format"
)

// NoneEngine is a no-op engine used when compression is explicitly
// disabled; it still reports a well-formed Info so META.compression is
// always present (spec §4.4 step 4, "even when no compression occurred").
type NoneEngine struct{}

var _ Engine = NoneEngine{}

// Compress returns data unchanged.
func (NoneEngine) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress returns data unchanged.
func (NoneEngine) Decompress(data []byte) ([]byte, error) { return data, nil }

// Info reports the no-op engine's identity.
func (NoneEngine) Info() Info {
	info := baseInfo(format.EngineNone, "none", "")
	info.Opaque = false // nothing is transformed, so there is nothing to keep opaque

	return info
}

// CreateEngine is a factory for the built-in (non-core) engines, mirroring
// the teacher's compress.CreateCodec factory.
func CreateEngine(kind format.EngineKind) (Engine, error) {
	switch kind {
	case format.EngineNone:
		return NoneEngine{}, nil
	case format.EngineReference:
		return NewReferenceEngine(), nil
	case format.EngineZstd:
		return NewZstdEngine(), nil
	case format.EngineS2:
		return NewS2Engine(), nil
	case format.EngineLZ4:
		return NewLZ4Engine(), nil
	default:
		return nil, fmt.Errorf("compress: unsupported built-in engine kind %v", kind)
	}
}
