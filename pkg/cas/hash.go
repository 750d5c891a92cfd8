package cas

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// HashSize is the digest width in bytes.
const HashSize = 32

// Hash is a 32-byte blake3 digest. Two values with equal hashes are
// interchangeable everywhere in the system.
type Hash [HashSize]byte

// ZeroHash is the absent-content marker.
var ZeroHash Hash

// HashBytes digests b.
func HashBytes(b []byte) Hash {
	return blake3.Sum256(b)
}

// ParseHash decodes the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash, fmt.Errorf("parsing content hash: %w", err)
	}

	if len(raw) != HashSize {
		return ZeroHash, fmt.Errorf("parsing content hash: want %d bytes, got %d", HashSize, len(raw))
	}

	var h Hash

	copy(h[:], raw)

	return h, nil
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the absent-content marker.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler so hashes serialize as
// hex in JSON documents and map keys.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder: hashes travel as raw
// bytes, not as integer arrays.
func (h Hash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(h[:])
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (h *Hash) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}

	if len(raw) != HashSize {
		return fmt.Errorf("decoding content hash: want %d bytes, got %d", HashSize, len(raw))
	}

	copy(h[:], raw)

	return nil
}
