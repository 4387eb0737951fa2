package container

import (
	"fmt"

	"github.com/arloliu/h4mk/endian"
	"github.com/arloliu/h4mk/errs"
)

// Magic is the four-byte ASCII tag opening every H4MK file.
const Magic = "H4MK"

// Version is the only file-format version this package writes or accepts.
const Version = 1

// HeaderSize is the fixed on-disk size of FileHeader.
const HeaderSize = 16

// CRCSize is the size of the trailing whole-file ContainerCRC32.
const CRCSize = 4

// MinFileSize is the smallest byte length a well-formed file can have: an
// empty chunk stream between the header and the container CRC (spec §4.4
// step 1, "file length >= 20").
const MinFileSize = HeaderSize + CRCSize

var headerEngine = endian.GetLittleEndianEngine()

// FileHeader is the 16-byte prefix of every H4MK file (spec §3.1):
// magic(4) || version(1) || flags(1) || reserved(2) || timestamp_ms(8).
type FileHeader struct {
	Version     uint8
	Flags       uint8
	TimestampMS uint64
}

// Bytes serializes h. Flags and the two reserved bytes are always zero on
// write (spec §3.1: "flags = 0 (reserved)", "reserved = 0").
func (h FileHeader) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	// buf[6:8] reserved, left zero
	headerEngine.PutUint64(buf[8:16], h.TimestampMS)

	return buf
}

// ParseFileHeader decodes and validates the leading 16 bytes of data
// against I1: magic present, version == 1.
func ParseFileHeader(data []byte) (FileHeader, error) {
	if len(data) < HeaderSize {
		return FileHeader{}, fmt.Errorf("%w: need %d bytes, got %d", errs.ErrFileTooShort, HeaderSize, len(data))
	}
	if string(data[0:4]) != Magic {
		return FileHeader{}, fmt.Errorf("%w: %q", errs.ErrBadMagic, data[0:4])
	}

	version := data[4]
	if version != Version {
		return FileHeader{}, fmt.Errorf("%w: %d", errs.ErrUnsupportedVersion, version)
	}

	return FileHeader{
		Version:     version,
		Flags:       data[5],
		TimestampMS: headerEngine.Uint64(data[8:16]),
	}, nil
}
