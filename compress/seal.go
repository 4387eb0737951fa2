package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
)

// Config mirrors spec §6.3's engine-selection options.
type Config struct {
	// CorePath, when set, is dlopen'd as an external C-ABI core (spec
	// §4.5). When unset, BuiltinEngine selects a built-in engine.
	CorePath string

	// BuiltinEngine selects among the built-in engines when CorePath is
	// unset. The zero value (format.EngineKind(0)) defaults to the
	// reference RLE engine.
	BuiltinEngine format.EngineKind

	// ExpectedEngineID, when set, must match the loaded core's reported
	// identity or loading fails with ErrCoreMismatch.
	ExpectedEngineID string

	// ExpectedEngineFP, when set, is 32 bytes hex-encoded and must match
	// the loaded core's reported fingerprint or loading fails with
	// ErrCoreAltered.
	ExpectedEngineFP string

	// CIGuardrail, when true, refuses to load any dynamic core regardless
	// of CorePath (spec §4.6 "Policy").
	CIGuardrail bool
}

// SealedEngine is a loaded, possibly-sealed compression engine together
// with the sealing verdict the container builder writes into
// META.compression (spec §4.6).
type SealedEngine struct {
	Engine Engine
	Info   Info
}

// Load resolves cfg into a SealedEngine, performing the sealing checks of
// spec §4.6 when a dynamic core is requested.
func Load(cfg Config) (*SealedEngine, error) {
	if cfg.CorePath == "" {
		kind := cfg.BuiltinEngine
		if kind == 0 {
			kind = format.EngineReference
		}

		eng, err := CreateEngine(kind)
		if err != nil {
			return nil, err
		}

		return &SealedEngine{Engine: eng, Info: eng.Info()}, nil
	}

	if cfg.CIGuardrail {
		return nil, errs.ErrCIGuardrailBlocked
	}

	if !dynamicCoreSupported {
		// Spec §4.5 "core_path — if set, attempt to load; on failure,
		// fall back to reference only if engine_id/fingerprint are both
		// unset; otherwise fail." A build with no dlopen support can
		// never succeed the load, so it follows the same fallback rule.
		if cfg.ExpectedEngineID == "" && cfg.ExpectedEngineFP == "" {
			return Load(Config{BuiltinEngine: format.EngineReference})
		}

		return nil, errs.ErrCoreUnavailable
	}

	core, err := loadDynamicCore(cfg.CorePath)
	if err != nil {
		if cfg.ExpectedEngineID == "" && cfg.ExpectedEngineFP == "" {
			return Load(Config{BuiltinEngine: format.EngineReference})
		}

		return nil, err
	}

	sealed := false
	checked := false

	if cfg.ExpectedEngineID != "" {
		checked = true
		if core.engineID != cfg.ExpectedEngineID {
			return nil, fmt.Errorf("%w: got %q want %q", errs.ErrCoreMismatch, core.engineID, cfg.ExpectedEngineID)
		}
	}

	if cfg.ExpectedEngineFP != "" {
		checked = true
		got := fingerprintHex(core.fingerprint)
		if got != cfg.ExpectedEngineFP {
			return nil, fmt.Errorf("%w: got %s want %s", errs.ErrCoreAltered, got, cfg.ExpectedEngineFP)
		}
	}

	sealed = checked

	info := core.Info()
	info.Sealed = sealed

	return &SealedEngine{Engine: core, Info: info}, nil
}

func fingerprintHex(fp []byte) string {
	if len(fp) == 0 {
		return ""
	}

	return hex.EncodeToString(fp)
}

// Attestation is a signed-at-a-point-in-time assertion of an engine's
// identity (spec §4.6).
type Attestation struct {
	EngineID        string `json:"engine_id"`
	Fingerprint     string `json:"fingerprint"`
	TimestampUnix   int64  `json:"timestamp_unix"`
	AttestationHash string `json:"attestation_hash"`
	Sealed          bool   `json:"sealed"`
}

func attestationHash(engineID, fingerprint string, timestampUnix int64) string {
	h := sha256.New()
	_, _ = h.Write([]byte(engineID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(fingerprint))
	_, _ = h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d", timestampUnix)

	return hex.EncodeToString(h.Sum(nil))
}

// Attest produces an Attestation for a live engine at the given timestamp
// (caller-supplied, per the core's "no wall clock" rule, spec §9).
func Attest(info Info, timestampUnix int64) Attestation {
	return Attestation{
		EngineID:        info.EngineID,
		Fingerprint:     info.Fingerprint,
		TimestampUnix:   timestampUnix,
		AttestationHash: attestationHash(info.EngineID, info.Fingerprint, timestampUnix),
		Sealed:          info.Sealed,
	}
}

// VerifyAttestation recomputes att's hash and re-checks it against a live
// engine's current Info (spec P5: "verify_attestation ... iff the engine
// state has not changed").
func VerifyAttestation(att Attestation, live Info) bool {
	if att.EngineID != live.EngineID || att.Fingerprint != live.Fingerprint || att.Sealed != live.Sealed {
		return false
	}

	return att.AttestationHash == attestationHash(att.EngineID, att.Fingerprint, att.TimestampUnix)
}
