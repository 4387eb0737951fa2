// Package h4mk provides convenient top-level wrappers around the
// container, compress, and cipher packages, mirroring the teacher's
// top-level-package-over-blob-package shape.
//
// # Basic Usage
//
// Building a file:
//
//	tracks := []container.Track{{TrackID: 0, Name: "cam0", Kind: container.KindVideo, Codec: "raw"}}
//	blocks := []container.Block{{TrackID: 0, PtsMs: 0, Type: format.BlockI, Payload: frame}}
//	data, err := h4mk.Build(tracks, blocks, h4mk.WithEngine(zstdEngine))
//
// Reading it back:
//
//	r, err := h4mk.Read(data)
//	entry, ok := r.Seek(0, 1500)
//
// For advanced usage and fine-grained control, use the container, compress,
// and cipher packages directly.
package h4mk

import (
	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/compress"
	"github.com/arloliu/h4mk/container"
	"github.com/arloliu/h4mk/seek"
)

// Re-exported container types so callers rarely need to import the
// container package directly for common usage.
type (
	Track      = container.Track
	Block      = container.Block
	Reader     = container.Reader
	CoreBlock  = container.CoreBlock
	Stat       = container.Stat
	BuildOption = container.BuildOption
)

// Re-exported container build options.
var (
	WithEngine      = container.WithEngine
	WithCipher      = container.WithCipher
	WithMeta        = container.WithMeta
	WithSafe        = container.WithSafe
	WithNote        = container.WithNote
	WithTimestampMS = container.WithTimestampMS
	WithVeriExtra   = container.WithVeriExtra
)

// Build assembles an H4MK file from tracks and blocks (spec §4.3).
func Build(tracks []Track, blocks []Block, opts ...BuildOption) ([]byte, error) {
	return container.Build(tracks, blocks, opts...)
}

// Read parses and validates an H4MK file (spec §4.4).
func Read(data []byte) (*Reader, error) {
	return container.Read(data)
}

// GetEngine resolves a compression engine from cfg, performing the sealing
// checks of spec §4.6 when a dynamic core is requested.
func GetEngine(cfg compress.Config) (*compress.SealedEngine, error) {
	return compress.Load(cfg)
}

// Attest produces a signed-at-a-point-in-time identity assertion for a
// live compression engine (spec §4.6, P5).
func Attest(info compress.Info, timestampUnix int64) compress.Attestation {
	return compress.Attest(info, timestampUnix)
}

// VerifyAttestation re-checks a previously produced Attestation against a
// live engine's current Info.
func VerifyAttestation(att compress.Attestation, live compress.Info) bool {
	return compress.VerifyAttestation(att, live)
}

// InitCipher derives a new Living Cipher v3 session state from a 32-byte
// shared secret (spec §4.7.1). window and gapBound select non-default
// replay-window size W and forward-gap bound G; pass zero for either to
// use the spec defaults.
func InitCipher(secret []byte, window, gapBound uint64) (*cipher.State, error) {
	return cipher.New(secret, window, gapBound)
}

// Encrypt seals plaintext under state, authenticating aad (typically a
// CoreContext, spec §4.7.6) exactly as passed. Most callers building a container should instead pass the
// cipher.State to WithCipher and let Build drive sealing per block.
func Encrypt(state *cipher.State, plaintext, aad []byte) (cipher.Sealed, error) {
	return state.Seal(plaintext, aad)
}

// Decrypt opens a ciphertext previously produced by Encrypt/Seal.
func Decrypt(state *cipher.State, header cipher.Header, ciphertext, aad []byte) ([]byte, error) {
	return state.Open(header, ciphertext, aad)
}

// Seek returns the keyframe entry with the greatest pts_ms <= targetPtsMs
// for trackID on an already-parsed Reader (spec §4.2, P4).
func Seek(r *Reader, trackID uint16, targetPtsMs uint32) (seek.Entry, bool) {
	return r.Seek(trackID, targetPtsMs)
}

// DecodeChain returns the core_chunk_index sequence of the GOP covering
// targetPtsMs for trackID on an already-parsed Reader (spec §4.2).
func DecodeChain(r *Reader, trackID uint16, targetPtsMs uint32) ([]uint32, error) {
	return r.DecodeChain(trackID, targetPtsMs)
}
