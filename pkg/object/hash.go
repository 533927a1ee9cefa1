package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashBytes computes the SHA-256 of data and returns it as a lowercase
// hex-encoded Hash. Every object's checksum is the hash of its canonical
// serialized form; for files that form is the two-part content stream.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// ValidateHash checks that h is a 64-character lowercase hex digest.
func ValidateHash(h Hash) error {
	if len(h) != 64 {
		return fmt.Errorf("invalid checksum %q: length %d, want 64", h, len(h))
	}
	for _, c := range string(h) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid checksum %q: non-hex character %q", h, c)
		}
	}
	return nil
}
