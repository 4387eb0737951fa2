package cipher_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sharedSecret(t *testing.T) []byte {
	t.Helper()
	s := make([]byte, 32)
	_, err := rand.Read(s)
	require.NoError(t, err)

	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	aad := []byte("context-binding")

	sealed, err := sender.Seal([]byte("hello h4mk"), aad)
	require.NoError(t, err)

	pt, err := receiver.Open(sealed.Header, sealed.Ciphertext, aad)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello h4mk"), pt)
}

func TestSealIsDeterministicGivenSameState(t *testing.T) {
	secret := sharedSecret(t)

	s1, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	s2, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	aad := []byte("aad")

	a, err := s1.Seal([]byte("same plaintext"), aad)
	require.NoError(t, err)
	b, err := s2.Seal([]byte("same plaintext"), aad)
	require.NoError(t, err)

	assert.Equal(t, a.Ciphertext, b.Ciphertext)
	assert.Equal(t, a.Header.Bytes(), b.Header.Bytes())
}

func TestMultipleMessagesInOrder(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	messages := []string{"one", "two", "three", "four"}

	for _, msg := range messages {
		sealed, err := sender.Seal([]byte(msg), nil)
		require.NoError(t, err)

		pt, err := receiver.Open(sealed.Header, sealed.Ciphertext, nil)
		require.NoError(t, err)
		assert.Equal(t, msg, string(pt))
	}
}

func TestTamperedCiphertextFailsAuth(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("integrity matters"), nil)
	require.NoError(t, err)

	tampered := bytes.Clone(sealed.Ciphertext)
	tampered[0] ^= 0xFF

	_, err = receiver.Open(sealed.Header, tampered, nil)
	require.ErrorIs(t, err, errs.ErrAuthFail)
}

func TestMismatchedAADFailsAuth(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("bound to context"), []byte("context-a"))
	require.NoError(t, err)

	_, err = receiver.Open(sealed.Header, sealed.Ciphertext, []byte("context-b"))
	require.ErrorIs(t, err, errs.ErrAuthFail)
}

func TestReplayIsRejected(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("only once"), nil)
	require.NoError(t, err)

	_, err = receiver.Open(sealed.Header, sealed.Ciphertext, nil)
	require.NoError(t, err)

	_, err = receiver.Open(sealed.Header, sealed.Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrReplayOrOutOfWindow)
}

// TestOutOfOrderWithinWindowDelivers pins spec S6: delivering message 2
// before message 1 succeeds (its key is recoverable via the forward
// chain-key walk), and the later, in-window delivery of message 1 then
// succeeds exactly once.
func TestOutOfOrderWithinWindowDelivers(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	var sealedMsgs []cipher.Sealed
	for i := 0; i < 3; i++ {
		s, err := sender.Seal([]byte{byte('p'), byte('0' + i)}, nil)
		require.NoError(t, err)
		sealedMsgs = append(sealedMsgs, s)
	}

	pt, err := receiver.Open(sealedMsgs[2].Header, sealedMsgs[2].Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("p2"), pt)

	pt, err = receiver.Open(sealedMsgs[1].Header, sealedMsgs[1].Ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("p1"), pt)

	_, err = receiver.Open(sealedMsgs[1].Header, sealedMsgs[1].Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrReplayOrOutOfWindow)
}

// TestReorderEventuallySurfacesTranscriptMismatch documents the other half
// of S6's property: reordering decrypts fine in the moment, but the
// transcript chain has now diverged, so the next message delivered as a
// true immediate successor fails transcript verification and the session
// must be discarded (spec §4.7.8: AuthFail/TranscriptMismatch are fatal).
func TestReorderEventuallySurfacesTranscriptMismatch(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	var sealedMsgs []cipher.Sealed
	for i := 0; i < 4; i++ {
		s, err := sender.Seal([]byte{byte(i)}, nil)
		require.NoError(t, err)
		sealedMsgs = append(sealedMsgs, s)
	}

	_, err = receiver.Open(sealedMsgs[2].Header, sealedMsgs[2].Ciphertext, nil)
	require.NoError(t, err)
	_, err = receiver.Open(sealedMsgs[1].Header, sealedMsgs[1].Ciphertext, nil)
	require.NoError(t, err)

	_, err = receiver.Open(sealedMsgs[3].Header, sealedMsgs[3].Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrTranscriptMismatch)
}

func TestGapTooLargeRejected(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 10) // tiny gap bound
	require.NoError(t, err)

	var last cipher.Sealed
	for i := 0; i <= 20; i++ {
		last, err = sender.Seal([]byte{byte(i)}, nil)
		require.NoError(t, err)
	}

	_, err = receiver.Open(last.Header, last.Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrGapTooLarge)
}

func TestSuiteMismatchRejected(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("hi"), nil)
	require.NoError(t, err)

	tamperedHeader := sealed.Header
	tamperedHeader.Suite = "bogus-suite"

	_, err = receiver.Open(tamperedHeader, sealed.Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrSuiteMismatch)
}

// TestCorruptedTranscriptFieldFailsAuth confirms transcript_in is itself
// AEAD-authenticated data (spec §4.7.4 "aad = header"): tampering with it
// breaks the authentication tag before the explicit transcript check in
// §4.7.5 step 4 is ever reached.
func TestCorruptedTranscriptFieldFailsAuth(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	sealed, err := sender.Seal([]byte("first"), nil)
	require.NoError(t, err)

	corrupted := sealed.Header
	corrupted.TranscriptIn[0] ^= 0xFF

	_, err = receiver.Open(corrupted, sealed.Ciphertext, nil)
	require.ErrorIs(t, err, errs.ErrAuthFail)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := cipher.Header{
		Suite:        cipher.Suite,
		Counter:      42,
		TranscriptIn: [32]byte{1, 2, 3},
	}

	data := h.Bytes()
	parsed, n, err := cipher.ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, h.Suite, parsed.Suite)
	assert.Equal(t, h.Counter, parsed.Counter)
	assert.Equal(t, h.TranscriptIn, parsed.TranscriptIn)
	assert.False(t, parsed.RootRatchetBoundary())
}

func TestHeaderRoundTripWithDHPub(t *testing.T) {
	h := cipher.Header{
		Suite:        cipher.Suite,
		Counter:      7,
		TranscriptIn: [32]byte{9},
		DHPub:        []byte{0xAA, 0xBB, 0xCC},
	}

	data := h.Bytes()
	parsed, _, err := cipher.ParseHeader(data)
	require.NoError(t, err)
	assert.True(t, parsed.RootRatchetBoundary())
	assert.Equal(t, h.DHPub, parsed.DHPub)
}

func TestParseHeaderRejectsTruncation(t *testing.T) {
	h := cipher.Header{Suite: cipher.Suite, Counter: 1}
	data := h.Bytes()

	_, _, err := cipher.ParseHeader(data[:len(data)-5])
	require.ErrorIs(t, err, errs.ErrHeaderMalformed)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	_, _, err := cipher.ParseHeader([]byte("NOTH4"))
	require.ErrorIs(t, err, errs.ErrHeaderMalformed)
}

func TestNewRejectsWrongSecretLength(t *testing.T) {
	_, err := cipher.New(make([]byte, 16), 0, 0)
	require.Error(t, err)
}

func TestCoreContextBindsContainerIdentity(t *testing.T) {
	a := cipher.CoreContext("reference", "fp1", "veri-a", []byte{0, 1}, 1000, 3)
	b := cipher.CoreContext("reference", "fp1", "veri-b", []byte{0, 1}, 1000, 3)

	assert.NotEqual(t, a, b)
}

// TestTransplantedCiphertextFailsAuth mirrors spec §4.7.6's "transplant
// resistance": a ciphertext sealed under one container's VERI hash fails
// authentication when replayed against a different container's context.
func TestTransplantedCiphertextFailsAuth(t *testing.T) {
	secret := sharedSecret(t)

	sender, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)
	receiver, err := cipher.New(secret, 0, 0)
	require.NoError(t, err)

	originalCtx := cipher.CoreContext("reference", "fp", "veri-original", []byte{0}, 100, 0)
	sealed, err := sender.Seal([]byte("block payload"), originalCtx)
	require.NoError(t, err)

	transplantedCtx := cipher.CoreContext("reference", "fp", "veri-different-container", []byte{0}, 100, 0)

	_, err = receiver.Open(sealed.Header, sealed.Ciphertext, transplantedCtx)
	require.ErrorIs(t, err, errs.ErrAuthFail)
}
