package wal

import (
	"io"
	"os"

	"github.com/siltdb/ppdb/internal/errs"
)

// walkSegmentRecords reads every well-formed record from f starting right
// after the segment header, stopping at the first invalid one (bad magic
// or CRC). It returns the decoded records, the byte offset immediately
// after the last good record (used to truncate a torn tail), and an error
// only for unexpected I/O failures — a torn tail itself is not an error
// here; the caller (Open, for the last segment) or Iterator (for every
// other segment) decides what a torn tail means per spec §4.4.
func walkSegmentRecords(f *os.File, apply func(Record)) ([]Record, int64, error) {
	if _, err := f.Seek(segmentHdrSize, io.SeekStart); err != nil {
		return nil, 0, errs.Wrap(errs.Io, "wal: seek past segment header", err)
	}

	var records []Record
	offset := int64(segmentHdrSize)
	hdrBuf := make([]byte, recordHdrSize)

	for {
		if _, err := io.ReadFull(f, hdrBuf); err != nil {
			break // EOF or short read: end of stream or torn header
		}
		typ, keySize, valueSize, sequence, checksum, ok := decodeRecordHeader(hdrBuf)
		if !ok {
			break
		}
		if err := validateRecordSizes(keySize, valueSize, maxRecordSize); err != nil {
			break
		}

		body := make([]byte, int(keySize)+int(valueSize))
		if _, err := io.ReadFull(f, body); err != nil {
			break // torn: declared sizes exceed what's on disk
		}
		key := body[:keySize]
		value := body[keySize:]
		if !verifyRecordChecksum(hdrBuf, key, value, checksum) {
			break
		}

		rec := Record{Type: typ, Key: key, Value: value, Sequence: sequence}
		records = append(records, rec)
		if apply != nil {
			apply(rec)
		}
		offset += int64(recordHdrSize + len(body))
	}

	return records, offset, nil
}

// Iterator is a restartable forward iterator over every record in the WAL
// starting at the first with sequence >= the requested seek target.
type Iterator struct {
	dir      string
	segments []segmentInfo
	segIdx   int
	curFile  *os.File
	pending  []Record
	pos      int
	cur      Record
	valid    bool
	err      error
}

// IterateFrom returns a forward iterator yielding (seq, type, key, value)
// starting at the first record with sequence >= seq.
func (w *WAL) IterateFrom(seq uint64) (*Iterator, error) {
	w.mu.Lock()
	// Push buffered records to the segment file so the iterator, which
	// reads only from disk, sees every record appended so far.
	if err := w.flushActiveLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	segs := make([]segmentInfo, len(w.segments))
	copy(segs, w.segments)
	dir := w.cfg.Directory
	w.mu.Unlock()

	it := &Iterator{dir: dir, segments: segs}
	if err := it.seekTo(seq); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) seekTo(seq uint64) error {
	for it.segIdx < len(it.segments) {
		seg := it.segments[it.segIdx]
		if seg.header.RecordCount > 0 && seg.header.LastSequence < seq {
			it.segIdx++
			continue
		}
		if err := it.loadSegment(seg); err != nil {
			return err
		}
		for it.pos < len(it.pending) && it.pending[it.pos].Sequence < seq {
			it.pos++
		}
		if it.pos < len(it.pending) {
			return nil
		}
		it.segIdx++
	}
	return nil
}

func (it *Iterator) loadSegment(seg segmentInfo) error {
	f, err := os.Open(segmentPath(it.dir, seg.id))
	if err != nil {
		return errs.Wrap(errs.NotFound, "wal: segment file missing mid-list", err)
	}
	defer f.Close()

	records, _, err := walkSegmentRecords(f, nil)
	if err != nil {
		return err
	}

	// A segment that claims more records than it actually has a torn tail.
	// Per spec §4.4 that is only tolerable for the very last segment; the
	// WAL already reconstructs the last open segment's header at Open time,
	// so any remaining shortfall here indicates corruption of a sealed,
	// non-tail segment.
	isLast := it.segIdx == len(it.segments)-1
	if seg.header.Sealed && uint32(len(records)) < seg.header.RecordCount && !isLast {
		return errs.New(errs.Corrupted, "wal: torn tail in non-final sealed segment")
	}

	it.pending = records
	it.pos = 0
	return nil
}

// Next advances to the next record. Returns false once every segment is
// exhausted or a corruption error has been recorded (check Err).
func (it *Iterator) Next() bool {
	if it.err != nil {
		it.valid = false
		return false
	}
	for {
		if it.pos < len(it.pending) {
			it.cur = it.pending[it.pos]
			it.pos++
			it.valid = true
			return true
		}
		it.segIdx++
		if it.segIdx >= len(it.segments) {
			it.valid = false
			return false
		}
		if err := it.loadSegment(it.segments[it.segIdx]); err != nil {
			it.err = err
			it.valid = false
			return false
		}
	}
}

// Record returns the entry the last Next call landed on.
func (it *Iterator) Record() Record { return it.cur }

// Err returns any corruption/I-O error encountered during iteration.
func (it *Iterator) Err() error { return it.err }

// Recover iterates from sequence 0, dispatching each valid record to
// applyFn. It is a thin convenience wrapper over IterateFrom, per spec
// §4.4.
func (w *WAL) Recover(applyFn func(Record)) error {
	it, err := w.IterateFrom(0)
	if err != nil {
		return err
	}
	for it.Next() {
		applyFn(it.Record())
	}
	return it.Err()
}
