// Package flushsink is the minimal concrete "opaque immutable sink" spec §1
// leaves as an external collaborator of the core: something the write
// coordinator can hand a frozen memtable snapshot to, and later read back
// by key, with no compaction, leveling, or block cache. Grounded on the
// teacher's internal/sstable/{sstable,bloom}.go, trimmed of block.go's
// block-cache machinery and merge_iterator.go's cross-file compaction scan
// (both out of scope per spec §1's non-goals).
package flushsink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siltdb/ppdb/internal/errs"
)

// Source is anything flushsink can drain into a new immutable run: the
// sharded memtable's merging iterator satisfies this without flushsink
// needing to import the memtable package.
type Source interface {
	Next() bool
	Key() []byte
	Value() []byte
}

// Handle identifies one flushed run and summarizes its contents, enough
// for the coordinator to log progress and for Get, NewIterator and Delete
// to locate the run file.
type Handle struct {
	ID          uint64
	Path        string
	RecordCount int64
	MinKey      []byte
	MaxKey      []byte
}

// Sink is a directory of immutable, bloom-filtered sorted runs.
type Sink struct {
	dir string
}

// Open returns a Sink rooted at dir, creating it if necessary.
func Open(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: mkdir", err)
	}
	return &Sink{dir: dir}, nil
}

func (s *Sink) runPath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-%016x.sink", id))
}

const bloomFalsePositiveRate = 0.01

// entry is one buffered key/value pair drained from a Source, used to size
// the bloom filter before the run file is written.
type entry struct {
	key   []byte
	value []byte
}

// Flush drains src (assumed already key-sorted, as the memtable's merging
// iterator guarantees) into one new immutable run file tagged id. Records
// are buffered in memory for one pass — consistent with flushing one
// generation of a memtable at a time, never a merge across generations.
func (s *Sink) Flush(id uint64, src Source) (*Handle, error) {
	var entries []entry
	for src.Next() {
		entries = append(entries, entry{
			key:   append([]byte(nil), src.Key()...),
			value: append([]byte(nil), src.Value()...),
		})
	}

	path := s.runPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: create run", err)
	}
	defer f.Close()

	filter := newBloomFilter(uint32(len(entries))+1, bloomFalsePositiveRate)
	for _, e := range entries {
		filter.Add(e.key)
	}
	bloomBytes := filter.Bytes()

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(bloomBytes)))
	if _, err := f.Write(lenBuf); err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: write bloom length", err)
	}
	if _, err := f.Write(bloomBytes); err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: write bloom filter", err)
	}

	for _, e := range entries {
		if err := writeRun(f, e.key, e.value); err != nil {
			return nil, err
		}
	}

	h := &Handle{ID: id, Path: path, RecordCount: int64(len(entries))}
	if len(entries) > 0 {
		h.MinKey = entries[0].key
		h.MaxKey = entries[len(entries)-1].key
	}
	return h, nil
}

func writeRun(f *os.File, key, value []byte) error {
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(value)))
	if _, err := f.Write(hdr); err != nil {
		return errs.Wrap(errs.Io, "flushsink: write record header", err)
	}
	if _, err := f.Write(key); err != nil {
		return errs.Wrap(errs.Io, "flushsink: write record key", err)
	}
	if _, err := f.Write(value); err != nil {
		return errs.Wrap(errs.Io, "flushsink: write record value", err)
	}
	return nil
}

// Get opens the run identified by h and performs a linear scan for key,
// bailing out early via the bloom filter when possible.
func (s *Sink) Get(h *Handle, key []byte) ([]byte, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "flushsink: open run", err)
	}
	defer f.Close()

	lenBuf := make([]byte, 4)
	if _, err := f.Read(lenBuf); err != nil {
		return nil, errs.Wrap(errs.Corrupted, "flushsink: read bloom length", err)
	}
	bloomLen := binary.LittleEndian.Uint32(lenBuf)
	bloomBytes := make([]byte, bloomLen)
	if _, err := f.Read(bloomBytes); err != nil {
		return nil, errs.Wrap(errs.Corrupted, "flushsink: read bloom filter", err)
	}
	filter, err := loadBloomFilter(bloomBytes)
	if err != nil {
		return nil, errs.Wrap(errs.Corrupted, "flushsink: decode bloom filter", err)
	}
	if !filter.MayContain(key) {
		return nil, errs.New(errs.NotFound, "key not present in this run")
	}

	r := newRunReader(f)
	for r.Next() {
		switch bytes.Compare(r.Key(), key) {
		case 0:
			return append([]byte(nil), r.Value()...), nil
		case 1:
			return nil, errs.New(errs.NotFound, "key not present in this run")
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return nil, errs.New(errs.NotFound, "key not present in this run")
}

// Delete removes a flushed run file. The write coordinator never calls it,
// and flushsink itself has no retention or compaction policy.
func (s *Sink) Delete(h *Handle) error {
	if err := os.Remove(h.Path); err != nil {
		return errs.Wrap(errs.Io, "flushsink: delete run", err)
	}
	return nil
}
