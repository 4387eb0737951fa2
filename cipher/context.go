package cipher

import "encoding/binary"

const contextSeparator = 0x1F

// CoreContext builds the caller_aad binding Living Cipher v3's AEAD to a
// specific compression engine, container, track, and block (spec §4.7.6).
// Binding to containerVeriHex gives "transplant resistance": a ciphertext
// copied out of its original container fails authentication because the
// VERI hash it was bound to no longer matches.
func CoreContext(engineID, fingerprint, containerVeriHex string, trackID []byte, ptsMs, chunkIndex uint64) []byte {
	out := make([]byte, 0, len(engineID)+len(fingerprint)+len(containerVeriHex)+len(trackID)+8+8+5)

	out = append(out, engineID...)
	out = append(out, contextSeparator)
	out = append(out, fingerprint...)
	out = append(out, contextSeparator)
	out = append(out, containerVeriHex...)
	out = append(out, contextSeparator)
	out = append(out, trackID...)
	out = append(out, contextSeparator)

	var ptsBytes [8]byte
	binary.BigEndian.PutUint64(ptsBytes[:], ptsMs)
	out = append(out, ptsBytes[:]...)
	out = append(out, contextSeparator)

	var idxBytes [8]byte
	binary.BigEndian.PutUint64(idxBytes[:], chunkIndex)
	out = append(out, idxBytes[:]...)

	return out
}
