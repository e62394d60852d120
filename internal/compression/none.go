package compression

import "fmt"

// NoneCodec stores blocks as they are.
type NoneCodec struct{}

func (c *NoneCodec) MethodByte() byte { return MethodNone }

func (c *NoneCodec) Compress(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

func (c *NoneCodec) Decompress(src []byte, decompressedSize int) ([]byte, error) {
	if len(src) != decompressedSize {
		return nil, fmt.Errorf("raw block: expected %d bytes, got %d", decompressedSize, len(src))
	}
	return append([]byte(nil), src...), nil
}
