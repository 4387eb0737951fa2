// Package compress implements H4MK's pluggable compression engine (spec
// §4.5, C5) and its sealing/attestation layer (spec §4.6, C6). The package
// ships a deterministic RLE reference engine (the determinism
// gold-reference) plus three additional built-in engines backed by
// real-world compression libraries, and can seal an externally loaded
// C-ABI core in their place.
package compress

import (
	"github.com/arloliu/h4mk/format"
)

// Info describes the active compression engine. The container builder
// writes its engine, engine_id, fingerprint, sealed and deterministic
// fields into META.compression (spec §4.6, "Binding"); identity_safe and
// opaque are not written there. META is part of the byte range VERI
// covers, so any later mismatch between the engine used and the engine
// named invalidates the container on read.
type Info struct {
	Engine       string `json:"engine"`
	EngineID     string `json:"engine_id"`
	Fingerprint  string `json:"fingerprint"`
	Deterministic bool  `json:"deterministic"`
	Sealed       bool   `json:"sealed"`
	IdentitySafe bool   `json:"identity_safe"`
	Opaque       bool   `json:"opaque"`
}

// Engine is the stable ABI every compression backend implements (spec
// §4.5). Implementations must be deterministic, lossless, identity-safe,
// and stateless across calls — Compress/Decompress are pure functions of
// their input, so an Engine value is safe to share across goroutines (spec
// §5, "Engine handles ... are immutable after load").
type Engine interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Info() Info
}

// baseInfo returns the common Info fields every built-in (non-core) engine
// shares: deterministic, lossless, identity-safe, opaque payloads, and
// unsealed (sealing only applies to an externally verified core, §4.6).
func baseInfo(kind format.EngineKind, engineID, fingerprint string) Info {
	return Info{
		Engine:        kind.String(),
		EngineID:      engineID,
		Fingerprint:   fingerprint,
		Deterministic: true,
		Sealed:        false,
		IdentitySafe:  true,
		Opaque:        true,
	}
}
