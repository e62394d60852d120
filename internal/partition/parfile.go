package partition

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harshithgowdakt/partdb/internal/errkind"
)

// ParFile is the content of a partition boundary file: the leaf names and
// their engine ids. It is all that is needed to drop or rename a table
// without binding its definition.
type ParFile struct {
	Names   []string
	Engines []uint8
}

// ParFileOf returns the boundary file content of a definition.
func ParFileOf(d *Definition) *ParFile {
	return &ParFile{Names: d.LeafNames(), Engines: d.LeafEngines()}
}

func pad4(n int) int { return (n + 3) &^ 3 }

// EncodePar serializes a boundary file. All words are little-endian:
//
//	word 0: total length in 32-bit words
//	word 1: XOR checksum of every other word
//	word 2: leaf count
//	engine id bytes, zero padded to a word boundary
//	name blob byte length
//	NUL terminated names, zero padded to a word boundary
func EncodePar(pf *ParFile) ([]byte, error) {
	if len(pf.Names) != len(pf.Engines) {
		return nil, fmt.Errorf("boundary file: %d names but %d engine ids", len(pf.Names), len(pf.Engines))
	}
	var blob bytes.Buffer
	for _, n := range pf.Names {
		if n == "" || bytes.IndexByte([]byte(n), 0) >= 0 {
			return nil, fmt.Errorf("boundary file: invalid leaf name %q", n)
		}
		blob.WriteString(n)
		blob.WriteByte(0)
	}

	enginesLen := pad4(len(pf.Engines))
	blobLen := pad4(blob.Len())
	total := 12 + enginesLen + 4 + blobLen
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:], uint32(total/4))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(pf.Engines)))
	copy(buf[12:], pf.Engines)
	off := 12 + enginesLen
	binary.LittleEndian.PutUint32(buf[off:], uint32(blob.Len()))
	copy(buf[off+4:], blob.Bytes())

	binary.LittleEndian.PutUint32(buf[4:], parChecksum(buf))
	return buf, nil
}

func parChecksum(buf []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == 4 {
			continue
		}
		sum ^= binary.LittleEndian.Uint32(buf[i:])
	}
	return sum
}

// DecodePar parses a boundary file. Any structural or checksum mismatch
// is an ErrCorruption.
func DecodePar(data []byte) (*ParFile, error) {
	corrupt := func(format string, args ...interface{}) error {
		return errkind.ErrCorruption.New("partition boundary file", fmt.Sprintf(format, args...))
	}
	if len(data) < 16 || len(data)%4 != 0 {
		return nil, corrupt("invalid size %d", len(data))
	}
	words := binary.LittleEndian.Uint32(data[0:])
	if int(words)*4 != len(data) {
		return nil, corrupt("length word %d does not match file size %d", words, len(data))
	}
	if sum := binary.LittleEndian.Uint32(data[4:]); sum != parChecksum(data) {
		return nil, corrupt("checksum mismatch")
	}

	count := int(binary.LittleEndian.Uint32(data[8:]))
	off := 12 + pad4(count)
	if count < 0 || off+4 > len(data) {
		return nil, corrupt("leaf count %d out of range", count)
	}
	pf := &ParFile{Engines: append([]uint8(nil), data[12:12+count]...)}

	blobLen := int(binary.LittleEndian.Uint32(data[off:]))
	blobStart := off + 4
	if blobStart+blobLen > len(data) || pad4(blobLen) != len(data)-blobStart {
		return nil, corrupt("name blob length %d out of range", blobLen)
	}
	blob := data[blobStart : blobStart+blobLen]
	for len(blob) > 0 {
		end := bytes.IndexByte(blob, 0)
		if end <= 0 {
			return nil, corrupt("malformed leaf name")
		}
		pf.Names = append(pf.Names, string(blob[:end]))
		blob = blob[end+1:]
	}
	if len(pf.Names) != count {
		return nil, corrupt("%d leaf names for %d leaves", len(pf.Names), count)
	}
	return pf, nil
}

// WriteParFile writes a boundary file through a temporary file and an
// atomic rename.
func WriteParFile(path string, pf *ParFile) error {
	data, err := EncodePar(pf)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// ReadParFile reads and validates a boundary file.
func ReadParFile(path string) (*ParFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePar(data)
}

// WriteFileAtomic writes data to path through a temporary file in the same
// directory and a rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), ".tmp_"+filepath.Base(path))
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	success = true
	return nil
}
