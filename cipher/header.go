package cipher

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/h4mk/errs"
)

// HeaderMagic is the 5-byte tag opening every Living Cipher v3 header
// (spec §4.7.3).
const HeaderMagic = "H4LC3"

const rootRatchetFlag = 0x01

// Header is the binary-framed, delimiter-free message header of spec
// §4.7.3. Length-prefixed fields let transcript_in or dh_pub contain
// arbitrary bytes, including the '|' byte the v2 delimited framing could
// not safely carry.
type Header struct {
	Suite        string
	Counter      uint64
	TranscriptIn [32]byte
	DHPub        []byte // present iff RootRatchetBoundary is true
}

// RootRatchetBoundary reports whether this header carries a dh_pub,
// signaled by flags bit 0. Living Cipher v3's ratchet never advances the
// root key (spec §4.7.1, §4.7.2 only ratchet chain_key), so H4MK never
// sets this bit; it is parsed and preserved for wire compatibility with
// peers that do.
func (h Header) RootRatchetBoundary() bool { return h.DHPub != nil }

// Bytes serializes h per spec §4.7.3.
func (h Header) Bytes() []byte {
	suite := []byte(h.Suite)

	size := len(HeaderMagic) + 2 + len(suite) + 8 + 32 + 1
	if h.RootRatchetBoundary() {
		size += 2 + len(h.DHPub)
	}

	buf := make([]byte, size)
	off := 0

	copy(buf[off:], HeaderMagic)
	off += len(HeaderMagic)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(suite))) //nolint:gosec
	off += 2
	copy(buf[off:], suite)
	off += len(suite)

	binary.LittleEndian.PutUint64(buf[off:], h.Counter)
	off += 8

	copy(buf[off:], h.TranscriptIn[:])
	off += 32

	if h.RootRatchetBoundary() {
		buf[off] = rootRatchetFlag
		off++
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(h.DHPub))) //nolint:gosec
		off += 2
		copy(buf[off:], h.DHPub)
	} else {
		buf[off] = 0
	}

	return buf
}

// ParseHeader decodes a Header from the front of data, returning the
// header and the number of bytes consumed. Any truncation or malformed
// length prefix is HeaderMalformed (spec §4.7.5 step 1).
func ParseHeader(data []byte) (Header, int, error) {
	var h Header

	if len(data) < len(HeaderMagic) {
		return h, 0, errs.ErrHeaderMalformed
	}
	if string(data[:len(HeaderMagic)]) != HeaderMagic {
		return h, 0, errs.ErrHeaderMalformed
	}
	off := len(HeaderMagic)

	if len(data) < off+2 {
		return h, 0, errs.ErrHeaderMalformed
	}
	suiteLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if len(data) < off+suiteLen {
		return h, 0, errs.ErrHeaderMalformed
	}
	h.Suite = string(data[off : off+suiteLen])
	off += suiteLen

	if len(data) < off+8 {
		return h, 0, errs.ErrHeaderMalformed
	}
	h.Counter = binary.LittleEndian.Uint64(data[off:])
	off += 8

	if len(data) < off+32 {
		return h, 0, errs.ErrHeaderMalformed
	}
	copy(h.TranscriptIn[:], data[off:off+32])
	off += 32

	if len(data) < off+1 {
		return h, 0, errs.ErrHeaderMalformed
	}
	flags := data[off]
	off++

	if flags&rootRatchetFlag != 0 {
		if len(data) < off+2 {
			return h, 0, errs.ErrHeaderMalformed
		}
		dhLen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2

		if len(data) < off+dhLen {
			return h, 0, errs.ErrHeaderMalformed
		}
		h.DHPub = append([]byte{}, data[off:off+dhLen]...)
		off += dhLen
	}

	return h, off, nil
}

func (h Header) String() string {
	return fmt.Sprintf("H4LC3{suite=%q counter=%d}", h.Suite, h.Counter)
}
