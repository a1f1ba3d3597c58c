// Package docid implements the document identifier: a 64-bit unsigned
// integer whose canonical serialized form is a 16-hex-digit fixed-width
// string, chosen so lexicographic order equals numeric order (mirroring
// TERANE_DID_STRING_LEN = 17 in the original backend.h, 16 hex chars plus
// the C string's trailing NUL which Go's fixed-width encoding has no need
// for).
package docid

import "fmt"

const StringLen = 16

// ID is a document identifier.
type ID uint64

// String renders id as 16 lowercase hex digits.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Bytes renders id as the same 16-hex-digit form, as a byte slice suitable
// for use as a documents sub-store key.
func (id ID) Bytes() []byte {
	return []byte(id.String())
}

// Parse decodes a 16-hex-digit string back into an ID.
func Parse(s string) (ID, error) {
	if len(s) != StringLen {
		return 0, fmt.Errorf("docid: wrong length %d, want %d", len(s), StringLen)
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%016x", &v); err != nil {
		return 0, fmt.Errorf("docid: invalid hex %q: %w", s, err)
	}
	return ID(v), nil
}
