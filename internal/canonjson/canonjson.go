// Package canonjson produces the canonical JSON encoding spec §6.1 and §9
// require for every VERI-covered chunk payload (TRAK, META, SAFE, VERI):
// sorted keys, no insignificant whitespace, UTF-8, no HTML-escaping. Two
// builds from identical data must be byte-identical, since VERI hashes the
// emitted bytes.
package canonjson

import (
	"bytes"
	"encoding/json"
)

// Marshal encodes v with object keys sorted at every level (encoding/json
// sorts map keys in UTF-8 code-point order), HTML escaping disabled, and
// the trailing newline json.Encoder appends trimmed off, so output never
// varies across calls for the same v. v is first encoded and decoded back
// into generic maps (numbers kept verbatim as json.Number), so struct
// values come out with sorted keys too, not in field-declaration order.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(generic); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes data into a map, preserving unknown fields verbatim
// (spec §9, "unknown fields on read are preserved verbatim to keep VERI
// stable") by using map[string]any rather than a concrete struct.
func Unmarshal(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}
