package container

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"

	"github.com/arloliu/h4mk/chunk"
	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/compress"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
	"github.com/arloliu/h4mk/internal/canonjson"
	"github.com/arloliu/h4mk/internal/index"
	"github.com/arloliu/h4mk/seek"
)

// CoreBlock is one decoded CORE chunk as returned by IterCoreBlocks:
// routing metadata plus the still-sealed (possibly compressed/encrypted)
// payload bytes, and the sealed payload's ordinal position among all CORE
// chunks in the file (the TSEK core_chunk_index).
type CoreBlock struct {
	TrackID        uint16
	PtsMs          uint32
	Type           format.BlockType
	Payload        []byte // opaque: still compressed/encrypted if either was used
	CoreChunkIndex uint32
}

// Reader parses an H4MK file and answers the queries of spec §4.4. It
// holds a reference to the original byte slice; all payload slices it
// returns alias into that buffer; callers must not mutate it (spec §5,
// "Readers are read-only over a fixed byte buffer").
type Reader struct {
	raw    []byte
	header FileHeader

	chunks []chunk.Decoded
	idx    *index.ChunkIndex

	tracksByID map[uint16]Track
	tracks     []Track

	coreBlocks map[uint16][]CoreBlock
	seekIdx    map[uint16]*seek.Index

	meta map[string]any
	safe map[string]any
	veri map[string]any
	note string
	hasNote bool
}

// Read parses and validates data per spec §4.4, failing fast at the first
// invariant violation encountered.
func Read(data []byte) (*Reader, error) {
	if len(data) < MinFileSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", errs.ErrFileTooShort, MinFileSize, len(data))
	}

	header, err := ParseFileHeader(data)
	if err != nil {
		return nil, err
	}

	body := data[:len(data)-CRCSize]
	wantCRC := headerEngine.Uint32(data[len(data)-CRCSize:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, errs.ErrContainerCrcMismatch
	}

	decoded, err := decodeAllChunks(data[HeaderSize : len(data)-CRCSize])
	if err != nil {
		return nil, err
	}

	r := &Reader{
		raw:        data,
		header:     header,
		chunks:     decoded,
		idx:        index.NewChunkIndex(),
		coreBlocks: make(map[uint16][]CoreBlock),
		seekIdx:    make(map[uint16]*seek.Index),
	}

	if err := r.parseTrak(); err != nil {
		return nil, err
	}
	if err := r.parseCoreChunks(); err != nil {
		return nil, err
	}
	if err := r.parseSeekChunks(); err != nil {
		return nil, err
	}
	if err := r.parseMetaSafeNote(); err != nil {
		return nil, err
	}
	if err := r.parseAndVerifyVeri(); err != nil {
		return nil, err
	}

	return r, nil
}

// decodeAllChunks walks the chunk stream between the file header and the
// container CRC, verifying each chunk's CRC (spec §4.4 step 3). It keeps
// only the decoded chunks; VERI recomputation re-encodes them via
// chunkBytes.
func decodeAllChunks(body []byte) ([]chunk.Decoded, error) {
	var out []chunk.Decoded

	offset := 0
	for offset < len(body) {
		d, err := chunk.DecodeChunk(body, offset)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
		offset = d.NextOffset
	}

	return out, nil
}

// chunkBytes reconstructs one chunk's full on-disk bytes (Tag..CRC
// inclusive) for VERI's canonical byte-range hash (I9). It's a cheap
// re-encode rather than tracking raw offsets, which keeps decodeAllChunks
// free of bookkeeping it would otherwise need only for this one caller.
func chunkBytes(d chunk.Decoded) ([]byte, error) {
	return chunk.EncodeChunk(d.Tag, d.Flags, d.Payload)
}

func (r *Reader) parseTrak() error {
	for i, d := range r.chunks {
		var trackID uint16
		hasTrack := false
		if d.Tag == chunk.TagCORE {
			tid, _, err := unwrapCorePayload(d.Payload)
			if err == nil {
				trackID, hasTrack = tid, true
			}
		}
		r.idx.Add(d.Tag, i, trackID, hasTrack)
	}

	positions := r.tagPositions(chunk.TagTRAK)
	if len(positions) == 0 {
		r.tracksByID = map[uint16]Track{}

		return nil
	}

	byID, ordered, err := decodeTrak(r.chunks[positions[0]].Payload)
	if err != nil {
		return err
	}

	r.tracksByID = byID
	r.tracks = ordered

	return nil
}

// tagPositions returns the file-order chunk indices for tag, using the
// xxHash64-backed index built once at the start of parseTrak.
func (r *Reader) tagPositions(tag string) []int {
	return r.idx.PositionsByTag(tag)
}

// parseCoreChunks validates every CORE chunk (H4TB prefix, declared
// track_id, flags decode — spec §4.4 step 5, I4) and groups the results
// per track in file order.
func (r *Reader) parseCoreChunks() error {
	coreOrdinal := uint32(0)

	for _, d := range r.chunks {
		if d.Tag != chunk.TagCORE {
			continue
		}

		trackID, blob, err := unwrapCorePayload(d.Payload)
		if err != nil {
			return err
		}
		if _, ok := r.tracksByID[trackID]; !ok {
			return fmt.Errorf("%w: track %d", errs.ErrUnknownTrack, trackID)
		}

		ptsMs, blockType := unpackFlags(d.Flags)
		if !blockType.Valid() {
			return fmt.Errorf("%w: track %d has invalid block type", errs.ErrMalformedCore, trackID)
		}

		r.coreBlocks[trackID] = append(r.coreBlocks[trackID], CoreBlock{
			TrackID:        trackID,
			PtsMs:          ptsMs,
			Type:           blockType,
			Payload:        blob,
			CoreChunkIndex: coreOrdinal,
		})
		coreOrdinal++
	}

	return r.validateBlockOrderOnRead()
}

// validateBlockOrderOnRead enforces I5 against the CORE chunks as they
// actually appear in the file (read does not require the builder's
// multitrack schedule, but each track's own sequence must still be
// non-decreasing and I-first).
func (r *Reader) validateBlockOrderOnRead() error {
	for trackID, blocks := range r.coreBlocks {
		if blocks[0].Type != format.BlockI {
			return fmt.Errorf("%w: track %d", errs.ErrFirstBlockNotI, trackID)
		}

		for i := 1; i < len(blocks); i++ {
			if blocks[i].PtsMs < blocks[i-1].PtsMs {
				return fmt.Errorf("%w: track %d", errs.ErrPtsNonMonotonic, trackID)
			}
		}
	}

	return nil
}

// parseSeekChunks parses every TSEK chunk and cross-checks it against the
// CORE chunks already collected (I6).
func (r *Reader) parseSeekChunks() error {
	for _, pos := range r.tagPositions(chunk.TagTSEK) {
		trackID, entries, err := seek.DecodeTSEK(r.chunks[pos].Payload)
		if err != nil {
			return err
		}
		if err := seek.ValidateMonotonic(entries); err != nil {
			return err
		}

		blocks := r.coreBlocks[trackID]
		blockByIndex := make(map[uint32]CoreBlock, len(blocks))
		for _, b := range blocks {
			blockByIndex[b.CoreChunkIndex] = b
		}

		for _, e := range entries {
			b, ok := blockByIndex[e.CoreChunkIndex]
			if !ok || b.TrackID != trackID || b.PtsMs != e.PtsMs {
				return fmt.Errorf("%w: track %d entry (pts=%d, idx=%d)",
					errs.ErrSeekIndexInconsistent, trackID, e.PtsMs, e.CoreChunkIndex)
			}
			if b.Type != format.BlockI {
				return fmt.Errorf("%w: track %d entry idx=%d references non-I block",
					errs.ErrSeekIndexInconsistent, trackID, e.CoreChunkIndex)
			}
		}

		blockMetas := make([]seek.BlockMeta, len(blocks))
		for i, b := range blocks {
			blockMetas[i] = seek.BlockMeta{PtsMs: b.PtsMs, Type: b.Type, CoreChunkIndex: b.CoreChunkIndex}
		}
		r.seekIdx[trackID] = &seek.Index{TrackID: trackID, Entries: entries, Blocks: blockMetas}
	}

	// Tracks with CORE blocks but no TSEK chunk (a file whose producer
	// omitted one; Build always writes one per declared track) still get a lazily
	// reconstructed index (spec §4.2, "reconstructed lazily on read").
	for trackID, blocks := range r.coreBlocks {
		if _, ok := r.seekIdx[trackID]; ok {
			continue
		}

		blockMetas := make([]seek.BlockMeta, len(blocks))
		for i, b := range blocks {
			blockMetas[i] = seek.BlockMeta{PtsMs: b.PtsMs, Type: b.Type, CoreChunkIndex: b.CoreChunkIndex}
		}
		r.seekIdx[trackID] = seek.BuildFromBlocks(trackID, blockMetas)
	}

	return nil
}

func (r *Reader) parseMetaSafeNote() error {
	if positions := r.tagPositions(chunk.TagMETA); len(positions) > 0 {
		meta, err := canonjson.Unmarshal(r.chunks[positions[0]].Payload)
		if err != nil {
			return fmt.Errorf("%w: META: %v", errs.ErrChunkMalformed, err)
		}
		r.meta = meta
	}

	if positions := r.tagPositions(chunk.TagSAFE); len(positions) > 0 {
		safe, err := canonjson.Unmarshal(r.chunks[positions[0]].Payload)
		if err != nil {
			return fmt.Errorf("%w: SAFE: %v", errs.ErrChunkMalformed, err)
		}
		r.safe = safe
	}

	if positions := r.tagPositions(chunk.TagNOTE); len(positions) > 0 {
		r.note = string(r.chunks[positions[0]].Payload)
		r.hasNote = true
	}

	return nil
}

// parseAndVerifyVeri recomputes SHA-256 over the canonical byte ranges of
// every chunk preceding VERI in file order and checks it against
// VERI.sha256 (I9).
func (r *Reader) parseAndVerifyVeri() error {
	positions := r.tagPositions(chunk.TagVERI)
	if len(positions) == 0 {
		return nil
	}
	veriPos := positions[0]

	veri, err := canonjson.Unmarshal(r.chunks[veriPos].Payload)
	if err != nil {
		return fmt.Errorf("%w: VERI: %v", errs.ErrChunkMalformed, err)
	}
	r.veri = veri

	wantHex, _ := veri["sha256"].(string)

	h := sha256.New()
	for i := 0; i < veriPos; i++ {
		b, err := chunkBytes(r.chunks[i])
		if err != nil {
			return err
		}
		h.Write(b)
	}
	gotHex := hex.EncodeToString(h.Sum(nil))

	if gotHex != wantHex {
		return errs.ErrVeriMismatch
	}

	return nil
}

// Tracks returns the declared track table in TRAK order.
func (r *Reader) Tracks() []Track {
	return r.tracks
}

// GetChunks returns the raw payloads of every chunk with the given tag, in
// file order.
func (r *Reader) GetChunks(tag string) [][]byte {
	positions := r.tagPositions(tag)

	out := make([][]byte, len(positions))
	for i, pos := range positions {
		out[i] = r.chunks[pos].Payload
	}

	return out
}

// IterCoreBlocks returns the CORE blocks for trackID in file order, or, if
// trackID is nil, every CORE block across all tracks in file order.
func (r *Reader) IterCoreBlocks(trackID *uint16) []CoreBlock {
	if trackID != nil {
		out := make([]CoreBlock, len(r.coreBlocks[*trackID]))
		copy(out, r.coreBlocks[*trackID])

		return out
	}

	return r.allCoreBlocksInFileOrder()
}

// allCoreBlocksInFileOrder rebuilds the full cross-track CORE sequence in
// file order from the per-track slices parseCoreChunks already grouped.
func (r *Reader) allCoreBlocksInFileOrder() []CoreBlock {
	byIndex := make(map[uint32]CoreBlock)
	for _, blocks := range r.coreBlocks {
		for _, b := range blocks {
			byIndex[b.CoreChunkIndex] = b
		}
	}

	out := make([]CoreBlock, len(byIndex))
	for idx, b := range byIndex {
		out[idx] = b
	}

	return out
}

// Seek returns the keyframe entry with the greatest pts_ms <= targetPtsMs
// for trackID (spec §4.2, P4).
func (r *Reader) Seek(trackID uint16, targetPtsMs uint32) (seek.Entry, bool) {
	idx, ok := r.seekIdx[trackID]
	if !ok {
		return seek.Entry{}, false
	}

	_, entry, found := idx.SeekKeyframe(targetPtsMs)

	return entry, found
}

// DecodeChain returns the core_chunk_index sequence of the GOP covering
// targetPtsMs for trackID (spec §4.2).
func (r *Reader) DecodeChain(trackID uint16, targetPtsMs uint32) ([]uint32, error) {
	idx, ok := r.seekIdx[trackID]
	if !ok {
		return nil, nil
	}

	return idx.DecodeChain(targetPtsMs)
}

// Meta returns the parsed META chunk, or nil if the file has none.
func (r *Reader) Meta() map[string]any { return r.meta }

// Safe returns the parsed SAFE chunk, or nil if the file has none.
func (r *Reader) Safe() map[string]any { return r.safe }

// Veri returns the parsed VERI chunk, or nil if the file has none.
func (r *Reader) Veri() map[string]any { return r.veri }

// VeriHex returns the VERI chunk's sha256 hex digest, used by higher
// layers to bind Living Cipher v3's CoreContext to this container (spec
// §4.7.6). ok is false if the file carries no VERI chunk.
func (r *Reader) VeriHex() (string, bool) {
	if r.veri == nil {
		return "", false
	}
	s, ok := r.veri["sha256"].(string)

	return s, ok
}

// Note returns the NOTE chunk's text and whether one was present
// (SPEC_FULL §C).
func (r *Reader) Note() (string, bool) {
	return r.note, r.hasNote
}

// Stat is a convenience aggregate over an already-parsed Reader
// (SPEC_FULL §C): no new wire format, purely derived from parsed state.
type Stat struct {
	FileSize       int
	TrackCount     int
	ChunkCountByTag map[string]int
	HasCompression bool
	HasCipherMeta  bool
}

// Stat summarizes r.
func (r *Reader) Stat() Stat {
	counts := make(map[string]int)
	for _, d := range r.chunks {
		counts[d.Tag]++
	}

	_, hasCompression := r.meta["compression"]

	return Stat{
		FileSize:        len(r.raw),
		TrackCount:      len(r.tracks),
		ChunkCountByTag: counts,
		HasCompression:  hasCompression,
		HasCipherMeta:   r.meta["cipher"] != nil,
	}
}

// DecryptCoreBlock decrypts and decompresses a CORE block's payload using
// state and the same CoreContext-shaped AAD the builder used when sealing
// it (spec §4.7.6). engine must report the same EngineID/Fingerprint the
// builder's WithEngine used; containerVeriHex must match the placeholder
// the builder bound against (see the Build/emitCoreChunks note on VERI not
// existing yet at encryption time, recorded in DESIGN.md).
func (r *Reader) DecryptCoreBlock(b CoreBlock, state *cipher.State, engine compress.Engine, containerVeriHex string) ([]byte, error) {
	payload := b.Payload

	if state != nil {
		header, n, err := cipher.ParseHeader(payload)
		if err != nil {
			return nil, err
		}

		info := engine.Info()
		aad := cipher.CoreContext(info.EngineID, info.Fingerprint, containerVeriHex,
			trackIDBytes(b.TrackID), uint64(b.PtsMs), uint64(b.CoreChunkIndex))

		pt, err := state.Open(header, payload[n:], aad)
		if err != nil {
			return nil, err
		}
		payload = pt
	}

	pt, err := engine.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecompressionFailed, err)
	}

	return pt, nil
}
