package cas

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode renders v as canonical msgpack (struct-as-array, sorted map
// keys) and deflates the result. Canonical encoding is what makes
// content addresses stable: equal values always produce equal bytes.
func Encode(v any) ([]byte, error) {
	var payload bytes.Buffer

	enc := msgpack.NewEncoder(&payload)
	enc.SetSortMapKeys(true)
	enc.UseArrayEncodedStructs(true)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	var compressed bytes.Buffer

	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}

	if _, err := fw.Write(payload.Bytes()); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	return compressed.Bytes(), nil
}

// Decode reverses Encode.
func Decode(b []byte, out any) error {
	fr := flate.NewReader(bytes.NewReader(b))
	defer fr.Close()

	payload, err := io.ReadAll(fr)
	if err != nil {
		return fmt.Errorf("inflate: %w", err)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}

	return nil
}

// HashValue digests the canonical encoding of v before compression, so
// the address depends only on the value, never on compressor settings.
func HashValue(v any) (Hash, error) {
	var payload bytes.Buffer

	enc := msgpack.NewEncoder(&payload)
	enc.SetSortMapKeys(true)
	enc.UseArrayEncodedStructs(true)

	if err := enc.Encode(v); err != nil {
		return ZeroHash, fmt.Errorf("msgpack encode: %w", err)
	}

	return HashBytes(payload.Bytes()), nil
}
