package flushsink

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/siltdb/ppdb/internal/errs"
)

const (
	maxRunKeySize   = 1 << 20  // 1MiB
	maxRunValueSize = 10 << 20 // 10MiB
)

// runReader sequentially decodes [klen(4)][vlen(4)][key][value] records
// from a run file, positioned right after the bloom filter block.
type runReader struct {
	f   *os.File
	key []byte
	val []byte
	eof bool
	err error
}

func newRunReader(f *os.File) *runReader {
	return &runReader{f: f}
}

// Next advances to the next record. Returns false at EOF or on error; call
// Err to distinguish the two.
func (r *runReader) Next() bool {
	if r.eof || r.err != nil {
		return false
	}

	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		if err == io.EOF {
			r.eof = true
		} else {
			r.err = errs.Wrap(errs.Corrupted, "flushsink: read record header", err)
		}
		return false
	}

	klen := binary.LittleEndian.Uint32(hdr[0:4])
	vlen := binary.LittleEndian.Uint32(hdr[4:8])
	if klen > maxRunKeySize || vlen > maxRunValueSize {
		r.err = errs.New(errs.Corrupted, "flushsink: record size out of bounds")
		return false
	}

	buf := make([]byte, int(klen)+int(vlen))
	if _, err := io.ReadFull(r.f, buf); err != nil {
		r.err = errs.Wrap(errs.Corrupted, "flushsink: read record body", err)
		return false
	}

	r.key = buf[:klen]
	r.val = buf[klen:]
	return true
}

func (r *runReader) Key() []byte   { return r.key }
func (r *runReader) Value() []byte { return r.val }
func (r *runReader) Err() error    { return r.err }

// NewIterator opens h's run file fresh and returns a read-only forward
// iterator over it — independent of any writer, per spec §5's "readers
// open their own independent read-only file descriptors".
func (s *Sink) NewIterator(h *Handle) (*RunIterator, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: open run", err)
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(f, lenBuf); err != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.Corrupted, "flushsink: read bloom length", err)
	}
	bloomLen := binary.LittleEndian.Uint32(lenBuf)
	if _, err := f.Seek(int64(bloomLen), io.SeekCurrent); err != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.Io, "flushsink: seek past bloom filter", err)
	}

	return &RunIterator{f: f, r: newRunReader(f)}, nil
}

// RunIterator is a standalone, closable iterator over one flushed run.
type RunIterator struct {
	f *os.File
	r *runReader
}

func (it *RunIterator) Next() bool    { return it.r.Next() }
func (it *RunIterator) Key() []byte   { return it.r.Key() }
func (it *RunIterator) Value() []byte { return it.r.Value() }
func (it *RunIterator) Err() error    { return it.r.Err() }
func (it *RunIterator) Close() error  { return it.f.Close() }
