// Package codec defines the C9 serialization boundary: an opaque
// byte-array adapter for document blobs and word-position payloads. The
// storage core never interprets these bytes; it only stores and returns
// them. The concrete codec is an external collaborator (spec.md §1) — the
// JSON codec here exists only so the package's own tests have something
// concrete to round-trip through.
package codec

import "encoding/json"

// Codec turns a domain value into opaque bytes and back. Segment and
// Index operations accept/return []byte directly; Codec is a convenience
// for callers, never invoked by the core itself.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSON is a default Codec usable in tests and examples.
type JSON struct{}

func (JSON) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
