package filestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/compression"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Leaf file layout:
//
//	"PDBLEAF1"
//	frame*: [u32 LE block length] [u64 LE xxhash64 of block] [compressed block]
//
// A block holds records [op (1)] [row]. A frame cut short at the end of the
// file is a torn append and is truncated on open; any other damage is
// corruption.
var magic = []byte("PDBLEAF1")

const frameHeaderSize = 12

type op byte

const (
	opPut op = 1
	opDel op = 2
)

type record struct {
	op  op
	row types.Row
}

// Compaction rewrites a leaf once it holds more than compactMinRecords
// records and over twice as many records as live rows.
var (
	compactMinRecords = 4096
	compactBatchRows  = 1024
)

type leaf struct {
	mu      sync.Mutex
	path    string
	schema  *types.Schema
	codec   compression.Codec
	log     *logrus.Entry
	rows    *backend.RowTree
	gate    *backend.Gate
	f       *os.File
	refs    int
	records int
	dropped bool
}

func tmpPath(path string) string {
	return filepath.Join(filepath.Dir(path), ".tmp_"+filepath.Base(path))
}

func openLeaf(path string, schema *types.Schema, codec compression.Codec, log *logrus.Entry) (*leaf, error) {
	l := &leaf{
		path:   path,
		schema: schema,
		codec:  codec,
		log:    log.WithField("leaf", filepath.Base(path)),
		rows:   backend.NewRowTree(path, schema),
		gate:   backend.NewGate(),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading leaf %s", path)
	}
	good, err := l.replay(data)
	if err != nil {
		return nil, err
	}
	if good < len(data) {
		l.log.Warnf("truncating torn frame at offset %d (%d bytes)", good, len(data)-good)
		if err := os.Truncate(path, int64(good)); err != nil {
			return nil, errors.Wrapf(err, "truncating leaf %s", path)
		}
	}
	l.f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leaf %s", path)
	}
	return l, nil
}

// replay rebuilds the index and returns the length of the intact prefix.
func (l *leaf) replay(data []byte) (int, error) {
	if !bytes.HasPrefix(data, magic) {
		return 0, errkind.ErrCorruption.New("leaf "+l.path, "bad file header")
	}
	err := walkFrames(data, func(off int, block []byte) error {
		payload, err := compression.DecompressBlock(block)
		if err != nil {
			return errkind.ErrCorruption.New("leaf "+l.path, fmt.Sprintf("frame at %d: %v", off, err))
		}
		recs, err := decodeRecords(l.schema, payload)
		if err != nil {
			return errkind.ErrCorruption.New("leaf "+l.path, fmt.Sprintf("frame at %d: %v", off, err))
		}
		for _, rec := range recs {
			if err := l.applyToIndex(rec); err != nil {
				return errkind.ErrCorruption.New("leaf "+l.path, fmt.Sprintf("frame at %d: %v", off, err))
			}
		}
		l.records += len(recs)
		return nil
	})
	if tail, ok := err.(tornTail); ok {
		return int(tail), nil
	}
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

type tornTail int

func (t tornTail) Error() string { return fmt.Sprintf("torn frame at offset %d", int(t)) }

// walkFrames calls fn for every checksummed block after the header.
func walkFrames(data []byte, fn func(off int, block []byte) error) error {
	off := len(magic)
	for off < len(data) {
		if len(data)-off < frameHeaderSize {
			return tornTail(off)
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		sum := binary.LittleEndian.Uint64(data[off+4:])
		end := off + frameHeaderSize + n
		if end > len(data) || end < off {
			return tornTail(off)
		}
		block := data[off+frameHeaderSize : end]
		if xxhash.Sum64(block) != sum {
			return errkind.ErrCorruption.New("leaf frame", fmt.Sprintf("checksum mismatch at offset %d", off))
		}
		if err := fn(off, block); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func (l *leaf) applyToIndex(rec record) error {
	if rec.op == opDel {
		return l.rows.Delete(rec.row)
	}
	return l.rows.Insert(rec.row)
}

func encodeRecords(s *types.Schema, recs []record) []byte {
	var buf []byte
	for _, rec := range recs {
		buf = append(buf, byte(rec.op))
		buf = types.AppendRow(buf, s, rec.row)
	}
	return buf
}

func decodeRecords(s *types.Schema, data []byte) ([]record, error) {
	var recs []record
	for off := 0; off < len(data); {
		o := op(data[off])
		if o != opPut && o != opDel {
			return nil, fmt.Errorf("unknown record op %d", o)
		}
		row, n, err := types.DecodeRow(s, data[off+1:])
		if err != nil {
			return nil, err
		}
		recs = append(recs, record{op: o, row: row})
		off += 1 + n
	}
	return recs, nil
}

func (l *leaf) frame(recs []record) ([]byte, error) {
	block, err := compression.CompressBlock(l.codec, encodeRecords(l.schema, recs))
	if err != nil {
		return nil, err
	}
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(block))
	binary.LittleEndian.PutUint32(out, uint32(len(block)))
	binary.LittleEndian.PutUint64(out[4:], xxhash.Sum64(block))
	return append(out, block...), nil
}

func (l *leaf) name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// apply runs one operation of the same kind over rows.
func (l *leaf) apply(o op, rows []types.Row, mutate func() error) error {
	recs := make([]record, len(rows))
	for i, row := range rows {
		if o == opDel {
			// log the stored row so that the undo below restores it exactly
			if stored, ok := l.rows.Get(row); ok {
				row = stored
			}
		}
		recs[i] = record{op: o, row: row}
	}
	return l.applyRecords(recs, mutate)
}

// applyRecords changes the index with mutate and then appends recs. When
// the append fails the index change is reverted.
func (l *leaf) applyRecords(recs []record, mutate func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dropped {
		return errkind.ErrBackend.New(l.path, "leaf was dropped")
	}
	if err := mutate(); err != nil {
		return errkind.ErrBackend.New(l.path, err.Error())
	}
	frame, err := l.frame(recs)
	if err == nil {
		_, err = l.f.Write(frame)
	}
	if err == nil {
		err = l.f.Sync()
	}
	if err != nil {
		l.undo(recs)
		return errkind.ErrBackend.New(l.path, err.Error())
	}
	l.records += len(recs)
	l.maybeCompact()
	return nil
}

func (l *leaf) undo(recs []record) {
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.op == opPut {
			l.rows.Delete(rec.row)
		} else {
			l.rows.Insert(rec.row)
		}
	}
}

func (l *leaf) maybeCompact() {
	live, _, _ := l.rows.Stats()
	if l.records <= compactMinRecords || uint64(l.records) <= 2*live {
		return
	}
	if err := l.compact(); err != nil {
		l.log.WithError(err).Warn("compaction failed, keeping the current log")
	}
}

// compact rewrites the live rows into a temporary file and renames it
// over the leaf. Called with l.mu held.
func (l *leaf) compact() error {
	tmp := tmpPath(l.path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "creating compaction file")
	}
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(magic); err != nil {
		return err
	}
	var (
		batch   []record
		written int
		werr    error
	)
	flush := func() {
		if len(batch) == 0 || werr != nil {
			return
		}
		frame, err := l.frame(batch)
		if err == nil {
			_, err = f.Write(frame)
		}
		werr = err
		written += len(batch)
		batch = batch[:0]
	}
	l.rows.Ascend(func(row types.Row) bool {
		batch = append(batch, record{op: opPut, row: row})
		if len(batch) >= compactBatchRows {
			flush()
		}
		return werr == nil
	})
	flush()
	if werr != nil {
		return errors.Wrap(werr, "writing compaction file")
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "replacing leaf")
	}
	success = true

	l.f.Close()
	l.f, err = os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "reopening leaf %s", l.path)
	}
	l.log.Debugf("compacted %d records into %d", l.records, written)
	l.records = written
	return nil
}

func (l *leaf) size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (l *leaf) setPath(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = p
}

func (l *leaf) markDropped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropped = true
}

func (l *leaf) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// FrameInfo describes one frame of a leaf file.
type FrameInfo struct {
	Offset  int
	Size    int
	Method  byte
	RawSize uint32
}

// Frames lists the frames of a leaf file without decoding rows. A torn
// tail is reported in tail.
func Frames(path string) (frames []FrameInfo, tail int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, 0, errkind.ErrCorruption.New("leaf "+path, "bad file header")
	}
	err = walkFrames(data, func(off int, block []byte) error {
		h, err := compression.ReadHeader(block)
		if err != nil {
			return errkind.ErrCorruption.New("leaf "+path, err.Error())
		}
		frames = append(frames, FrameInfo{Offset: off, Size: frameHeaderSize + len(block), Method: h.Method, RawSize: h.Raw})
		return nil
	})
	if t, ok := err.(tornTail); ok {
		return frames, len(data) - int(t), nil
	}
	return frames, 0, err
}
