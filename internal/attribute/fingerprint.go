package attribute

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives the stable bucket key for a set of attribute values.
// Keys are sorted and serialized with unambiguous separators before hashing,
// so two maps with equal pairs produce the same digest regardless of
// insertion order. The empty map is valid and identifies the
// "no distinguishing attributes" bucket.
func Fingerprint(values map[string]Value) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h, _ := blake2b.New256(nil)
	for _, k := range keys {
		v := values[k]
		h.Write([]byte(k))
		h.Write([]byte{0x00})
		h.Write([]byte(v.kind))
		h.Write([]byte{0x00})
		h.Write([]byte(v.canonical()))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}
