package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendValue appends the binary encoding of a non-NULL value.
// Fixed-size types: little-endian bytes of their declared width.
// String: uvarint(length) + raw bytes.
func AppendValue(dst []byte, dt DataType, v Value) []byte {
	switch dt {
	case TypeUInt8:
		return append(dst, v.(uint8))
	case TypeUInt16:
		return binary.LittleEndian.AppendUint16(dst, v.(uint16))
	case TypeUInt32:
		return binary.LittleEndian.AppendUint32(dst, v.(uint32))
	case TypeUInt64:
		return binary.LittleEndian.AppendUint64(dst, v.(uint64))
	case TypeInt8:
		return append(dst, byte(v.(int8)))
	case TypeInt16:
		return binary.LittleEndian.AppendUint16(dst, uint16(v.(int16)))
	case TypeInt32:
		return binary.LittleEndian.AppendUint32(dst, uint32(v.(int32)))
	case TypeInt64:
		return binary.LittleEndian.AppendUint64(dst, uint64(v.(int64)))
	case TypeFloat32:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.(float32)))
	case TypeFloat64:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.(float64)))
	case TypeDateTime:
		return binary.LittleEndian.AppendUint32(dst, v.(uint32))
	case TypeString:
		s := v.(string)
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...)
	}
	return dst
}

// DecodeValue reads one non-NULL value and returns it with the bytes consumed.
func DecodeValue(dt DataType, data []byte) (Value, int, error) {
	if dt == TypeString {
		n, w := binary.Uvarint(data)
		if w <= 0 || uint64(len(data)-w) < n {
			return nil, 0, fmt.Errorf("truncated string value")
		}
		return string(data[w : w+int(n)]), w + int(n), nil
	}
	size := dt.FixedSize()
	if size == 0 || len(data) < size {
		return nil, 0, fmt.Errorf("truncated %s value", dt.Name())
	}
	switch dt {
	case TypeUInt8:
		return data[0], 1, nil
	case TypeUInt16:
		return binary.LittleEndian.Uint16(data), 2, nil
	case TypeUInt32:
		return binary.LittleEndian.Uint32(data), 4, nil
	case TypeUInt64:
		return binary.LittleEndian.Uint64(data), 8, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeDateTime:
		return binary.LittleEndian.Uint32(data), 4, nil
	}
	return nil, 0, fmt.Errorf("cannot decode %s", dt.Name())
}

// AppendRowOn appends the encoding of the given columns of a row. Every
// column is prefixed with a NULL marker byte.
func AppendRowOn(dst []byte, s *Schema, cols []int, r Row) []byte {
	for _, c := range cols {
		if r[c] == nil {
			dst = append(dst, 1)
			continue
		}
		dst = append(dst, 0)
		dst = AppendValue(dst, s.Columns[c].DataType, r[c])
	}
	return dst
}

// AppendRow appends the encoding of every column of a row.
func AppendRow(dst []byte, s *Schema, r Row) []byte {
	for i, c := range s.Columns {
		if r[i] == nil {
			dst = append(dst, 1)
			continue
		}
		dst = append(dst, 0)
		dst = AppendValue(dst, c.DataType, r[i])
	}
	return dst
}

// DecodeRow decodes a full row produced by AppendRow.
func DecodeRow(s *Schema, data []byte) (Row, int, error) {
	row := make(Row, len(s.Columns))
	off := 0
	for i, c := range s.Columns {
		if off >= len(data) {
			return nil, 0, fmt.Errorf("truncated row at column %s", c.Name)
		}
		marker := data[off]
		off++
		if marker == 1 {
			continue
		}
		v, n, err := DecodeValue(c.DataType, data[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("column %s: %w", c.Name, err)
		}
		row[i] = v
		off += n
	}
	return row, off, nil
}

// DecodeRowOn decodes the columns written by AppendRowOn into a row of
// full width. Columns outside cols are left NULL.
func DecodeRowOn(s *Schema, cols []int, data []byte) (Row, int, error) {
	row := make(Row, len(s.Columns))
	off := 0
	for _, c := range cols {
		col := s.Columns[c]
		if off >= len(data) {
			return nil, 0, fmt.Errorf("truncated key at column %s", col.Name)
		}
		marker := data[off]
		off++
		if marker == 1 {
			continue
		}
		v, n, err := DecodeValue(col.DataType, data[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[c] = v
		off += n
	}
	return row, off, nil
}
