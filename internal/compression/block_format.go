package compression

import (
	"encoding/binary"
	"fmt"
)

// A compressed block is
//
//	[method (1)] [total size including header (4 LE)] [raw size (4 LE)] [payload...]
const HeaderSize = 9

// Header is the decoded block header.
type Header struct {
	Method byte
	Total  uint32
	Raw    uint32
}

// CompressBlock compresses data with codec and prepends the header. Data
// that does not shrink is stored with MethodNone.
func CompressBlock(codec Codec, data []byte) ([]byte, error) {
	compressed, err := codec.Compress(data)
	if err != nil {
		return nil, err
	}
	method := codec.MethodByte()
	if compressed == nil {
		compressed, method = data, MethodNone
	}

	block := make([]byte, HeaderSize+len(compressed))
	block[0] = method
	binary.LittleEndian.PutUint32(block[1:5], uint32(len(block)))
	binary.LittleEndian.PutUint32(block[5:9], uint32(len(data)))
	copy(block[HeaderSize:], compressed)
	return block, nil
}

// ReadHeader decodes the header at the start of data.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("compressed block too small: %d bytes", len(data))
	}
	h := Header{
		Method: data[0],
		Total:  binary.LittleEndian.Uint32(data[1:5]),
		Raw:    binary.LittleEndian.Uint32(data[5:9]),
	}
	if h.Total < HeaderSize {
		return Header{}, fmt.Errorf("compressed block size %d is smaller than its header", h.Total)
	}
	return h, nil
}

// DecompressBlock validates the header of a block and decompresses it.
func DecompressBlock(data []byte) ([]byte, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if int(h.Total) != len(data) {
		return nil, fmt.Errorf("compressed block size mismatch: header says %d, have %d", h.Total, len(data))
	}
	codec, err := ByMethod(h.Method)
	if err != nil {
		return nil, err
	}
	return codec.Decompress(data[HeaderSize:], int(h.Raw))
}
