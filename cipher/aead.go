package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"github.com/arloliu/h4mk/errs"
)

// Sealed is the wire pair a sender transmits: the framed header and the
// AEAD ciphertext (including its appended authentication tag).
type Sealed struct {
	Header     Header
	Ciphertext []byte
}

// Seal encrypts plaintext under the next-to-send counter, advancing s in
// place (spec §4.7.2, §4.7.4). aad is the caller-supplied CoreContext (or
// nil); both sides must agree on its exact bytes.
func (s *State) Seal(plaintext, aad []byte) (Sealed, error) {
	n, kMsg, nonce, err := s.advance()
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: %v", errs.ErrEncryptionFailed, err)
	}

	header := Header{
		Suite:        s.suite,
		Counter:      n,
		TranscriptIn: s.transcript,
	}
	headerBytes := header.Bytes()

	ct, err := aeadSeal(kMsg, nonce, plaintext, concatAAD(headerBytes, aad))
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: %v", errs.ErrEncryptionFailed, err)
	}

	s.transcript = nextTranscript(s.transcript, headerBytes, ct)

	return Sealed{Header: header, Ciphertext: ct}, nil
}

// Open decrypts a received (header, ciphertext) pair against s, following
// the receive path of spec §4.7.5. On AuthFail or TranscriptMismatch the
// caller MUST discard s; every other error leaves s usable for the next
// message.
func (s *State) Open(header Header, ciphertext, aad []byte) ([]byte, error) {
	if header.Suite != s.suite {
		return nil, errs.ErrSuiteMismatch
	}

	n := header.Counter
	headerBytes := header.Bytes()
	fullAAD := concatAAD(headerBytes, aad)

	var plaintext []byte
	checkTranscript := false

	switch {
	case !s.window.hasHighest || n > s.window.highest:
		pt, inOrder, err := s.openForward(n, ciphertext, fullAAD)
		if err != nil {
			return nil, err
		}
		plaintext = pt
		checkTranscript = inOrder

	case s.window.inWindow(n) && !s.window.delivered(n):
		cached, ok := s.msgKeyCache[n]
		if !ok {
			// Counter falls inside the window but its key was never
			// cached (it was never skipped during a forward jump, so it
			// is not a legitimately pending message): treat as a replay.
			return nil, errs.ErrReplayOrOutOfWindow
		}

		pt, err := aeadOpen(cached.kMsg, cached.nonce, ciphertext, fullAAD)
		if err != nil {
			return nil, errs.ErrAuthFail
		}
		plaintext = pt

	default:
		return nil, errs.ErrReplayOrOutOfWindow
	}

	// The transcript is a strict hash chain over messages in send order
	// (spec §4.7.4). The receiver can only recompute it when this message
	// is the one immediately following the last message it transcript-
	// verified: a message recovered out of order (via msgKeyCache, or via
	// a forward jump that skipped one or more counters) is authenticated
	// by AEAD alone, since the intervening ciphertexts needed to replay
	// the chain were never seen. The chain resumes, and any divergence
	// surfaces as TranscriptMismatch, the next time a message arrives as
	// the true next step (spec §8 S6: reordering within the window
	// succeeds; the transcript is what ultimately enforces ordering).
	if checkTranscript {
		if header.TranscriptIn != s.transcript {
			return nil, errs.ErrTranscriptMismatch
		}
		s.transcript = nextTranscript(s.transcript, headerBytes, ciphertext)
	}

	s.window.markAndShift(n)
	delete(s.msgKeyCache, n)

	return plaintext, nil
}

// openForward advances chain_key from its current value through any gap up
// to n, caching each skipped counter's (k_msg, nonce) for later in-window
// delivery, then decrypts at n (spec §4.7.5 step 3, first branch). inOrder
// reports whether n followed the previous counter with no gap, the only
// case in which the transcript chain is verifiable.
func (s *State) openForward(n uint64, ciphertext, fullAAD []byte) (plaintext []byte, inOrder bool, err error) {
	start := s.counter
	if s.window.hasHighest && s.window.highest+1 > start {
		start = s.window.highest + 1
	}

	if n-start > s.gap {
		return nil, false, errs.ErrGapTooLarge
	}

	chainKey := s.chainKey
	skipped := make(map[uint64]cachedKey, n-start)

	var kMsg [keySize]byte
	var nonce [nonceSize]byte

	for i := start; i <= n; i++ {
		km, no, next, derr := ratchetFrom(chainKey, i)
		if derr != nil {
			return nil, false, fmt.Errorf("%w: %v", errs.ErrAuthFail, derr)
		}

		chainKey = next

		if i == n {
			kMsg, nonce = km, no
		} else {
			skipped[i] = cachedKey{kMsg: km, nonce: no}
		}
	}

	pt, derr := aeadOpen(kMsg, nonce, ciphertext, fullAAD)
	if derr != nil {
		return nil, false, errs.ErrAuthFail
	}

	s.chainKey = chainKey
	if n >= s.counter {
		s.counter = n + 1
	}
	for i, ck := range skipped {
		s.msgKeyCache[i] = ck
	}
	s.pruneKeyCache(n)

	return pt, start == n, nil
}

// pruneKeyCache drops cached keys that have fallen outside a window ending
// at highest, bounding msgKeyCache to at most window.size live entries.
func (s *State) pruneKeyCache(highest uint64) {
	for counter := range s.msgKeyCache {
		if counter+s.window.size <= highest {
			delete(s.msgKeyCache, counter)
		}
	}
}

func concatAAD(header, callerAAD []byte) []byte {
	if len(callerAAD) == 0 {
		return header
	}

	out := make([]byte, 0, len(header)+len(callerAAD))
	out = append(out, header...)
	out = append(out, callerAAD...)

	return out
}

func nextTranscript(prev [32]byte, header, ciphertext []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(header)
	h.Write(ciphertext)

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// aeadSeal mirrors the teacher-adjacent Seal shape (validate sizes, build
// AES-256-GCM, encrypt) from sambhavthakkar-QuantaraX's internal/crypto/aead.go.
func aeadSeal(key [keySize]byte, nonce [nonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nil, nonce[:], plaintext, aad), nil
}

func aeadOpen(key [keySize]byte, nonce [nonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce[:], ciphertext, aad)
}
