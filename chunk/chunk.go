// Package chunk implements the H4MK chunk codec (spec §3.2, §4.1): every
// chunk in a container is a typed, length-prefixed, CRC-32 protected frame.
// The codec is pure framing — it never interprets a chunk's payload bytes.
package chunk

import (
	"fmt"
	"hash/crc32"
	"math"

	"github.com/arloliu/h4mk/endian"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/internal/pool"
)

// TagSize is the fixed width, in bytes, of a chunk's ASCII tag.
const TagSize = 4

// HeaderSize is Tag(4) || Flags(4) || PayloadLen(4), the bytes preceding a
// chunk's payload.
const HeaderSize = TagSize + 4 + 4

// FrameOverhead is the number of bytes a chunk adds beyond its payload:
// the fixed header plus the trailing CRC-32.
const FrameOverhead = HeaderSize + 4

var engine = endian.GetLittleEndianEngine()

// Well-known tags (spec §3.2). Unknown tags are accepted on decode for
// forward compatibility but are never produced by EncodeChunk callers in
// this module.
const (
	TagTRAK = "TRAK"
	TagCORE = "CORE"
	TagTSEK = "TSEK"
	TagMETA = "META"
	TagSAFE = "SAFE"
	TagVERI = "VERI"
	TagNOTE = "NOTE"
)

// validateTag reports whether tag is exactly 4 ASCII bytes.
func validateTag(tag string) error {
	if len(tag) != TagSize {
		return fmt.Errorf("%w: %q", errs.ErrTagInvalid, tag)
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] < 0x20 || tag[i] > 0x7e {
			return fmt.Errorf("%w: %q", errs.ErrTagInvalid, tag)
		}
	}

	return nil
}

// checksum computes the CRC-32 (IEEE polynomial) over Tag||Flags||PayloadLen||Payload.
func checksum(tag string, flags uint32, payload []byte) uint32 {
	h := crc32.NewIEEE()
	_, _ = h.Write([]byte(tag))

	var lenBuf [8]byte
	engine.PutUint32(lenBuf[0:4], flags)
	engine.PutUint32(lenBuf[4:8], uint32(len(payload))) //nolint:gosec
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(payload)

	return h.Sum32()
}

// EncodeChunk frames tag, flags, and payload into a standalone chunk:
// Tag(4) || Flags(u32) || PayloadLen(u32) || Payload || CRC32(u32).
//
// An empty payload is valid (spec §4.1, "Zero-length payload is permitted").
func EncodeChunk(tag string, flags uint32, payload []byte) ([]byte, error) {
	if err := validateTag(tag); err != nil {
		return nil, err
	}
	if len(payload) > math.MaxUint32 {
		return nil, errs.ErrPayloadTooLarge
	}

	buf := pool.GetChunkBuffer()
	defer pool.PutChunkBuffer(buf)

	buf.Grow(FrameOverhead + len(payload))
	buf.MustWrite([]byte(tag))

	var hdr [8]byte
	engine.PutUint32(hdr[0:4], flags)
	engine.PutUint32(hdr[4:8], uint32(len(payload))) //nolint:gosec
	buf.MustWrite(hdr[:])
	buf.MustWrite(payload)

	crc := checksum(tag, flags, payload)
	var crcBuf [4]byte
	engine.PutUint32(crcBuf[:], crc)
	buf.MustWrite(crcBuf[:])

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())

	return out, nil
}

// Decoded is the result of decoding a single chunk.
type Decoded struct {
	Tag        string
	Flags      uint32
	Payload    []byte
	NextOffset int
}

// DecodeChunk reads one chunk starting at offset in data. It bounds-checks
// PayloadLen against the remaining input before slicing it, and verifies the
// trailing CRC-32 before returning a non-error result. On any failure, no
// partially validated payload is retained: the caller receives only the
// zero value and an error.
func DecodeChunk(data []byte, offset int) (Decoded, error) {
	if offset < 0 || offset+HeaderSize > len(data) {
		return Decoded{}, fmt.Errorf("%w: truncated chunk header at offset %d", errs.ErrChunkMalformed, offset)
	}

	tag := string(data[offset : offset+TagSize])
	flags := engine.Uint32(data[offset+4 : offset+8])
	payloadLen := engine.Uint32(data[offset+8 : offset+12])

	payloadStart := offset + HeaderSize
	payloadEnd := payloadStart + int(payloadLen)
	crcEnd := payloadEnd + 4

	if payloadLen > math.MaxUint32-uint32(HeaderSize) || payloadEnd < payloadStart || crcEnd > len(data) {
		return Decoded{}, fmt.Errorf("%w: truncated chunk %q payload at offset %d", errs.ErrChunkMalformed, tag, offset)
	}

	payload := data[payloadStart:payloadEnd]
	wantCRC := engine.Uint32(data[payloadEnd:crcEnd])
	gotCRC := checksum(tag, flags, payload)
	if gotCRC != wantCRC {
		return Decoded{}, fmt.Errorf("%w: tag=%q offset=%d", errs.ErrChunkCrcMismatch, tag, offset)
	}

	return Decoded{
		Tag:        tag,
		Flags:      flags,
		Payload:    payload,
		NextOffset: crcEnd,
	}, nil
}
