package container

import (
	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/compress"
	"github.com/arloliu/h4mk/internal/options"
)

// BuildOption configures Build, following the teacher's functional
// options idiom (blob.NumericEncoderOption / options.Option[T]).
type BuildOption = options.Option[*buildConfig]

// buildConfig accumulates build-time options before Build assembles the
// file. It is unexported; callers only see the With* constructors below.
type buildConfig struct {
	engine          compress.Engine
	engineInfo      compress.Info
	cipherState     *cipher.State
	meta            map[string]any
	safe            map[string]any
	note            string
	hasNote         bool
	timestampMS  uint64
	veriOverride map[string]any
}

func newBuildConfig() *buildConfig {
	return &buildConfig{
		engine:     compress.NoneEngine{},
		engineInfo: compress.NoneEngine{}.Info(),
	}
}

// WithEngine sets the compression engine applied to every block's payload
// before CORE framing (spec §4.3 step 2). The default is NoneEngine.
func WithEngine(eng compress.Engine) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.engine = eng
		c.engineInfo = eng.Info()
	})
}

// WithCipher sets the Living Cipher v3 state used to encrypt every block's
// compressed payload (spec §4.3 step 2, §4.7). The default is no
// encryption.
func WithCipher(state *cipher.State) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.cipherState = state
	})
}

// WithMeta seeds the caller's starting META object; Build injects a
// "compression" key into a copy of it before emitting the chunk (spec
// §4.3 step 4).
func WithMeta(meta map[string]any) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.meta = meta
	})
}

// WithSafe sets the SAFE chunk's JSON payload.
func WithSafe(safe map[string]any) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.safe = safe
	})
}

// WithNote sets the optional NOTE chunk's UTF-8 text (SPEC_FULL §C).
func WithNote(note string) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.note = note
		c.hasNote = true
	})
}

// WithTimestampMS sets the file header's timestamp (spec §6.3
// "header_timestamp_ms"). The core never reads the wall clock; omitting
// this option writes 0.
func WithTimestampMS(ms uint64) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.timestampMS = ms
	})
}

// WithVeriExtra merges additional keys into the VERI chunk's JSON object
// alongside the mandatory sha256/format_version fields.
func WithVeriExtra(extra map[string]any) BuildOption {
	return options.NoError(func(c *buildConfig) {
		c.veriOverride = extra
	})
}
