// Package compression holds the block codecs used by the file backend.
package compression

import "fmt"

// Codec compresses and decompresses data blocks.
type Codec interface {
	// MethodByte returns the single-byte codec identifier.
	MethodByte() byte
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, decompressedSize int) ([]byte, error)
}

// Method byte constants.
const (
	MethodNone byte = 0x02
	MethodLZ4  byte = 0x82
)

// ByName returns the codec configured as "lz4" or "none".
func ByName(name string) (Codec, error) {
	switch name {
	case "lz4", "":
		return &LZ4Codec{}, nil
	case "none":
		return &NoneCodec{}, nil
	}
	return nil, fmt.Errorf("unknown compression codec %q", name)
}

// ByMethod returns the codec for a block method byte.
func ByMethod(method byte) (Codec, error) {
	switch method {
	case MethodLZ4:
		return &LZ4Codec{}, nil
	case MethodNone:
		return &NoneCodec{}, nil
	}
	return nil, fmt.Errorf("unknown compression method: 0x%02x", method)
}
