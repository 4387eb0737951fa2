// Package cipher implements Living Cipher v3 (spec §4.7, C7): a
// binary-framed, forward-secure, transcript-bound AEAD stream cipher for
// optional per-block encryption. Scope is unidirectional (A→B) transport;
// bidirectional ratcheting is out of scope.
package cipher

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/arloliu/h4mk/errs"
	"golang.org/x/crypto/hkdf"
)

// Suite names the {AEAD, KDF, hash} triple a State was initialized with.
// Spec §4.7.7 D3: changing algorithms requires a new State, never an
// in-place substitution.
const Suite = "AES256-GCM|HKDF-SHA256|SHA256"

const (
	rootKeyInfo  = "H4LC3/root"
	chainKeyInfo = "H4LC3/chain"
	msgInfo      = "H4LC3/msg/"
	nonceInfo    = "H4LC3/nonce/"
	advanceInfo  = "H4LC3/advance"

	keySize     = 32
	nonceSize   = 12
	counterSize = 8

	// DefaultWindow is the default replay window size W (spec §4.7.1).
	DefaultWindow = 1024
	// DefaultGapBound is the default forward-gap bound G (spec §4.7.5).
	DefaultGapBound = 65536
)

// State holds one direction of a Living Cipher v3 session (spec §4.7.1).
// A State is mutated in place by Seal and Open; it is not safe for
// concurrent use without external synchronization, mirroring the "single
// threaded cooperative" model of §5.
type State struct {
	suite string

	rootKey  [keySize]byte
	chainKey [keySize]byte
	counter  uint64

	transcript [sha256.Size]byte

	window *replayWindow
	gap    uint64

	// msgKeyCache stores the (k_msg, nonce) pair for counters skipped
	// during a forward jump, so a late, in-window delivery of one of them
	// can still be decrypted (spec §4.7.5 step 3, second branch).
	msgKeyCache map[uint64]cachedKey
}

// cachedKey is one entry of State.msgKeyCache.
type cachedKey struct {
	kMsg  [keySize]byte
	nonce [nonceSize]byte
}

// New initializes a Living Cipher v3 state from a 32-byte shared secret
// (spec §4.7.1). window and gapBound select non-default replay-window size
// W and forward-gap bound G; pass zero for either to use the spec defaults.
func New(secret []byte, window, gapBound uint64) (*State, error) {
	if len(secret) != keySize {
		return nil, errs.ErrHeaderMalformed
	}

	if window == 0 {
		window = DefaultWindow
	}
	if gapBound == 0 {
		gapBound = DefaultGapBound
	}

	rootKey, err := hkdfExpand(secret, rootKeyInfo)
	if err != nil {
		return nil, err
	}
	chainKey, err := hkdfExpand(secret, chainKeyInfo)
	if err != nil {
		return nil, err
	}

	return &State{
		suite:       Suite,
		rootKey:     rootKey,
		chainKey:    chainKey,
		counter:     0,
		transcript:  [sha256.Size]byte{}, // 32 zero bytes (spec §4.7.1)
		window:      newReplayWindow(window),
		gap:         gapBound,
		msgKeyCache: make(map[uint64]cachedKey),
	}, nil
}

// hkdfExpand derives exactly keySize bytes from ikm using info as the HKDF
// info parameter and no salt, the same hkdf.New(sha256.New, ...) shape the
// teacher's session key derivation uses.
func hkdfExpand(ikm []byte, info string) ([keySize]byte, error) {
	var out [keySize]byte

	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}

	return out, nil
}

// ratchetFrom derives (k_msg, nonce) for message counter n from chainKey
// without mutating state, so the gap-walking logic in Open can probe ahead
// before committing to an advance.
func ratchetFrom(chainKey [keySize]byte, n uint64) (kMsg [keySize]byte, nonce [nonceSize]byte, nextChainKey [keySize]byte, err error) {
	var nBytes [counterSize]byte
	binary.BigEndian.PutUint64(nBytes[:], n)

	kMsg, err = hkdfExpand(chainKey[:], msgInfo+string(nBytes[:]))
	if err != nil {
		return kMsg, nonce, nextChainKey, err
	}

	nonceFull, err := hkdfExpand(chainKey[:], nonceInfo+string(nBytes[:]))
	if err != nil {
		return kMsg, nonce, nextChainKey, err
	}
	copy(nonce[:], nonceFull[:nonceSize])

	nextChainKey, err = hkdfExpand(chainKey[:], advanceInfo)
	if err != nil {
		return kMsg, nonce, nextChainKey, err
	}

	return kMsg, nonce, nextChainKey, nil
}

// advance performs the per-message ratchet for the next-to-send message and
// returns its (counter, k_msg, nonce), mutating chainKey and counter (spec
// §4.7.2). After this call prior k_msg values are not recoverable from
// state, since chainKey has already been overwritten.
func (s *State) advance() (n uint64, kMsg [keySize]byte, nonce [nonceSize]byte, err error) {
	n = s.counter

	kMsg, nonce, nextChainKey, err := ratchetFrom(s.chainKey, n)
	if err != nil {
		return 0, kMsg, nonce, err
	}

	s.chainKey = nextChainKey
	s.counter++

	return n, kMsg, nonce, nil
}

// replayWindow tracks which of the last W counters have been delivered
// (spec §4.7.1 "replay_window", §4.7.5 step 3).
type replayWindow struct {
	size       uint64
	bits       []bool
	highest    uint64
	hasHighest bool
}

func newReplayWindow(size uint64) *replayWindow {
	return &replayWindow{size: size, bits: make([]bool, size)}
}

func (w *replayWindow) slot(n uint64) int {
	return int(n % w.size) //nolint:gosec
}

func (w *replayWindow) delivered(n uint64) bool {
	if !w.hasHighest || n > w.highest || n+w.size <= w.highest {
		return false
	}

	return w.bits[w.slot(n)]
}

// markAndShift records n as delivered and, if n advances the high water
// mark, clears the slots for counters that just fell out of the window.
func (w *replayWindow) markAndShift(n uint64) {
	if !w.hasHighest || n > w.highest {
		if w.hasHighest {
			for gap := w.highest + 1; gap < n; gap++ {
				w.bits[w.slot(gap)] = false
			}
		}
		w.bits[w.slot(n)] = false // clear the slot this counter is about to reclaim
		w.highest = n
		w.hasHighest = true
	}

	w.bits[w.slot(n)] = true
}

func (w *replayWindow) inWindow(n uint64) bool {
	if !w.hasHighest {
		return true
	}
	if n > w.highest {
		return true
	}

	return w.highest-n < w.size
}
