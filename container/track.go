package container

import (
	"encoding/json"
	"fmt"

	"github.com/arloliu/h4mk/errs"
	"github.com/arloliu/h4mk/internal/canonjson"
)

// Known track kinds (SPEC_FULL §C). Unknown kinds are accepted on read for
// forward compatibility but rejected on write when empty or unset.
const (
	KindAudio   = "audio"
	KindVideo   = "video"
	KindControl = "control"
	KindData    = "data"
)

var knownKinds = map[string]bool{
	KindAudio:   true,
	KindVideo:   true,
	KindControl: true,
	KindData:    true,
}

// Track describes one track declared in the TRAK chunk (spec §3.3).
type Track struct {
	TrackID    uint16 `json:"track_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Note       string `json:"note,omitempty"`
}

// validate checks the fields Build requires to be present;
// unrecognized Kind values are allowed (warning-free forward compat is a
// read-side concern per §4.1, but the builder still needs a non-empty
// value to write a meaningful track table).
func (t Track) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: track %d has empty name", errs.ErrTrackTableInvalid, t.TrackID)
	}
	if t.Kind == "" {
		return fmt.Errorf("%w: track %d has empty kind", errs.ErrTrackTableInvalid, t.TrackID)
	}
	if t.Codec == "" {
		return fmt.Errorf("%w: track %d has empty codec", errs.ErrTrackTableInvalid, t.TrackID)
	}

	return nil
}

// IsKnownKind reports whether kind is one of the validated set
// (SPEC_FULL §C); it is informational only, never enforced on read.
func IsKnownKind(kind string) bool {
	return knownKinds[kind]
}

// trakPayload is the wire shape of a TRAK chunk: {"tracks":[...]}.
type trakPayload struct {
	Tracks []Track `json:"tracks"`
}

// validateTracks checks I4's "declared once" requirement and the
// per-track field requirements before a builder emits TRAK.
func validateTracks(tracks []Track) error {
	seen := make(map[uint16]bool, len(tracks))
	for _, t := range tracks {
		if seen[t.TrackID] {
			return fmt.Errorf("%w: duplicate track_id %d", errs.ErrTrackTableInvalid, t.TrackID)
		}
		seen[t.TrackID] = true

		if err := t.validate(); err != nil {
			return err
		}
	}

	return nil
}

// encodeTrak serializes tracks into a canonical-JSON TRAK payload.
func encodeTrak(tracks []Track) ([]byte, error) {
	return canonjson.Marshal(trakPayload{Tracks: tracks})
}

// decodeTrak parses a TRAK chunk payload back into a track table, keyed by
// track_id for O(1) resolution during CORE validation (spec §4.4 step 5).
func decodeTrak(payload []byte) (map[uint16]Track, []Track, error) {
	var parsed trakPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrTrackTableInvalid, err)
	}

	byID := make(map[uint16]Track, len(parsed.Tracks))
	for _, t := range parsed.Tracks {
		if _, dup := byID[t.TrackID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate track_id %d", errs.ErrTrackTableInvalid, t.TrackID)
		}
		byID[t.TrackID] = t
	}

	return byID, parsed.Tracks, nil
}
