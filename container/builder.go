// Package container implements H4MK's file format (spec §3, §4.3, §4.4,
// C4): assembling and parsing the chunk stream that ties together the
// chunk codec (C2), seek index (C3), compression engine (C5/C6), and
// Living Cipher v3 (C7) into one sealed, byte-deterministic file.
package container

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/arloliu/h4mk/chunk"
	"github.com/arloliu/h4mk/cipher"
	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/format"
	"github.com/arloliu/h4mk/internal/canonjson"
	"github.com/arloliu/h4mk/internal/options"
	"github.com/arloliu/h4mk/internal/pool"
	"github.com/arloliu/h4mk/seek"
)

// Build assembles an H4MK file from tracks and blocks following the write
// pipeline of spec §4.3. Blocks of different tracks may be interleaved in
// any order: Build imposes the deterministic multitrack schedule itself
// (pts_ms asc, track_id asc, spec §5 "Ordering guarantees"). Each track's
// own blocks must already be in non-decreasing pts_ms order, starting with
// an I-block.
func Build(tracks []Track, blocks []Block, opts ...BuildOption) ([]byte, error) {
	cfg := newBuildConfig()
	if err := applyBuildOptions(cfg, opts); err != nil {
		return nil, err
	}

	if err := validateTracks(tracks); err != nil {
		return nil, err
	}

	if err := validateBlockOrder(tracks, blocks); err != nil {
		return nil, err
	}
	scheduled := scheduleBlocks(blocks)

	buf := pool.GetContainerBuffer()
	defer pool.PutContainerBuffer(buf)

	trakPayload, err := encodeTrak(tracks)
	if err != nil {
		return nil, err
	}
	trakChunk, err := chunk.EncodeChunk(chunk.TagTRAK, 0, trakPayload)
	if err != nil {
		return nil, err
	}
	buf.MustWrite(trakChunk)

	coreMeta, err := emitCoreChunks(buf, scheduled, cfg)
	if err != nil {
		return nil, err
	}

	if err := emitSeekChunks(buf, tracks, coreMeta); err != nil {
		return nil, err
	}

	metaPayload, err := buildMetaPayload(cfg)
	if err != nil {
		return nil, err
	}
	metaChunk, err := chunk.EncodeChunk(chunk.TagMETA, 0, metaPayload)
	if err != nil {
		return nil, err
	}
	buf.MustWrite(metaChunk)

	if cfg.safe != nil {
		safePayload, err := canonjson.Marshal(cfg.safe)
		if err != nil {
			return nil, err
		}
		safeChunk, err := chunk.EncodeChunk(chunk.TagSAFE, 0, safePayload)
		if err != nil {
			return nil, err
		}
		buf.MustWrite(safeChunk)
	}

	if cfg.hasNote {
		noteChunk, err := chunk.EncodeChunk(chunk.TagNOTE, 0, []byte(cfg.note))
		if err != nil {
			return nil, err
		}
		buf.MustWrite(noteChunk)
	}

	veriChunk, err := buildVeriChunk(buf.Bytes(), cfg)
	if err != nil {
		return nil, err
	}
	buf.MustWrite(veriChunk)

	header := FileHeader{Version: Version, TimestampMS: cfg.timestampMS}

	out := make([]byte, 0, HeaderSize+buf.Len()+CRCSize)
	out = append(out, header.Bytes()...)
	out = append(out, buf.Bytes()...)

	var crcBuf [CRCSize]byte
	headerEngine.PutUint32(crcBuf[:], crc32.ChecksumIEEE(out))
	out = append(out, crcBuf[:]...)

	return out, nil
}

func applyBuildOptions(cfg *buildConfig, opts []BuildOption) error {
	return options.Apply(cfg, opts...)
}

// scheduleBlocks returns blocks sorted by (pts_ms asc, track_id asc),
// stable so equal-key blocks keep caller order (spec §5).
func scheduleBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	copy(out, blocks)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PtsMs != out[j].PtsMs {
			return out[i].PtsMs < out[j].PtsMs
		}

		return out[i].TrackID < out[j].TrackID
	})

	return out
}

// validateBlockOrder checks I5 (non-decreasing pts_ms per track, first
// block of a track is type I) against each track's blocks in the caller's
// order, before scheduling, so a per-track sequence that goes backwards is
// reported rather than re-sorted, and that every block's track_id was
// declared (I4).
func validateBlockOrder(tracks []Track, scheduled []Block) error {
	declared := make(map[uint16]bool, len(tracks))
	for _, t := range tracks {
		declared[t.TrackID] = true
	}

	lastPts := make(map[uint16]uint32)
	seenFirst := make(map[uint16]bool)

	for _, b := range scheduled {
		if !declared[b.TrackID] {
			return fmt.Errorf("%w: block references undeclared track %d", errs.ErrUnknownTrack, b.TrackID)
		}

		if !seenFirst[b.TrackID] {
			if b.Type != format.BlockI {
				return fmt.Errorf("%w: track %d", errs.ErrFirstBlockNotI, b.TrackID)
			}
			seenFirst[b.TrackID] = true
		} else if b.PtsMs < lastPts[b.TrackID] {
			return fmt.Errorf("%w: track %d", errs.ErrPtsNonMonotonic, b.TrackID)
		}

		lastPts[b.TrackID] = b.PtsMs
	}

	return nil
}

// coreRecord tracks what emitCoreChunks needs to remember about one
// emitted CORE chunk in order to build TSEK afterward.
type coreRecord struct {
	trackID        uint16
	ptsMs          uint32
	blockType      format.BlockType
	coreChunkIndex uint32
}

// emitCoreChunks runs each scheduled block through compress -> encrypt ->
// H4TB wrap -> flag pack -> CORE emission (spec §4.3 step 2), writing
// directly into buf and returning per-block metadata for TSEK/seek index
// construction.
func emitCoreChunks(buf *pool.ByteBuffer, scheduled []Block, cfg *buildConfig) ([]coreRecord, error) {
	records := make([]coreRecord, 0, len(scheduled))

	for i, b := range scheduled {
		compressed, err := cfg.engine.Compress(b.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrCompressionFailed, err)
		}

		sealed := compressed
		if cfg.cipherState != nil {
			aad := cipher.CoreContext(
				cfg.engineInfo.EngineID, cfg.engineInfo.Fingerprint, "",
				trackIDBytes(b.TrackID), uint64(b.PtsMs), uint64(i),
			)

			out, err := cfg.cipherState.Seal(compressed, aad)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrEncryptionFailed, err)
			}

			sealed = append(out.Header.Bytes(), out.Ciphertext...)
		}

		wrapped := wrapCorePayload(b.TrackID, sealed)

		flags, err := packFlags(b.PtsMs, b.Type)
		if err != nil {
			return nil, err
		}

		coreChunk, err := chunk.EncodeChunk(chunk.TagCORE, flags, wrapped)
		if err != nil {
			return nil, err
		}
		buf.MustWrite(coreChunk)

		records = append(records, coreRecord{
			trackID:        b.TrackID,
			ptsMs:          b.PtsMs,
			blockType:      b.Type,
			coreChunkIndex: uint32(i), //nolint:gosec
		})
	}

	return records, nil
}

func trackIDBytes(trackID uint16) []byte {
	return []byte{byte(trackID >> 8), byte(trackID)} //nolint:gosec
}

// emitSeekChunks builds one TSEK chunk per track from the I-block entries
// recorded during CORE emission (spec §4.3 step 3).
func emitSeekChunks(buf *pool.ByteBuffer, tracks []Track, records []coreRecord) error {
	byTrack := make(map[uint16][]seek.BlockMeta)
	order := make([]uint16, 0, len(tracks))
	for _, t := range tracks {
		order = append(order, t.TrackID)
	}

	for _, r := range records {
		byTrack[r.trackID] = append(byTrack[r.trackID], seek.BlockMeta{
			PtsMs:          r.ptsMs,
			Type:           r.blockType,
			CoreChunkIndex: r.coreChunkIndex,
		})
	}

	for _, trackID := range order {
		idx := seek.BuildFromBlocks(trackID, byTrack[trackID])

		payload := seek.EncodeTSEK(trackID, idx.Entries)
		tsekChunk, err := chunk.EncodeChunk(chunk.TagTSEK, 0, payload)
		if err != nil {
			return err
		}
		buf.MustWrite(tsekChunk)
	}

	return nil
}

// buildMetaPayload starts from the caller's META (if any) and injects a
// "compression" object reflecting the active engine, even when compression
// is a no-op (spec §4.3 step 4, I8).
func buildMetaPayload(cfg *buildConfig) ([]byte, error) {
	meta := make(map[string]any, len(cfg.meta)+1)
	for k, v := range cfg.meta {
		meta[k] = v
	}

	meta["compression"] = map[string]any{
		"engine":        cfg.engineInfo.Engine,
		"engine_id":     cfg.engineInfo.EngineID,
		"fingerprint":   cfg.engineInfo.Fingerprint,
		"sealed":        cfg.engineInfo.Sealed,
		"deterministic": cfg.engineInfo.Deterministic,
	}

	return canonjson.Marshal(meta)
}

// buildVeriChunk computes VERI.sha256 over everything emitted so far
// (TRAK through NOTE, inclusive — spec I9) and returns the framed VERI
// chunk.
func buildVeriChunk(coveredBytes []byte, cfg *buildConfig) ([]byte, error) {
	sum := sha256.Sum256(coveredBytes)

	veri := make(map[string]any, len(cfg.veriOverride)+2)
	for k, v := range cfg.veriOverride {
		veri[k] = v
	}
	veri["sha256"] = hex.EncodeToString(sum[:])
	veri["format_version"] = 1

	payload, err := canonjson.Marshal(veri)
	if err != nil {
		return nil, err
	}

	return chunk.EncodeChunk(chunk.TagVERI, 0, payload)
}
