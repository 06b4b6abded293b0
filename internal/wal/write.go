package wal

import (
	"os"

	"github.com/siltdb/ppdb/internal/errs"
)

// Append serializes one record, assigns it the next sequence number, and
// writes it through the double buffer. If cfg.SyncOnWrite is set, Append
// does not return until the record has been fsynced.
func (w *WAL) Append(typ RecordType, key, value []byte) (uint64, error) {
	seqs, err := w.AppendBatch([]PendingRecord{{Type: typ, Key: key, Value: value}})
	if err != nil {
		return 0, err
	}
	return seqs, nil
}

// PendingRecord is one not-yet-sequenced record passed to AppendBatch.
type PendingRecord struct {
	Type  RecordType
	Key   []byte
	Value []byte
}

// AppendBatch assigns consecutive sequence numbers to every record and
// writes them atomically with respect to segment rollover: spec §4.4
// guarantees either all of a batch lands in the same segment or the
// rollover happens before the first record of the batch.
func (w *WAL) AppendBatch(recs []PendingRecord) (uint64, error) {
	if len(recs) == 0 {
		return 0, errs.New(errs.InvalidArg, "wal: empty batch")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errs.New(errs.Closed, "wal: writer is closed")
	}

	total := 0
	for _, r := range recs {
		if r.Type == RecordDelete && len(r.Value) != 0 {
			return 0, errs.New(errs.InvalidArg, "wal: delete record must carry no value")
		}
		size := encodedSize(len(r.Key), len(r.Value))
		if size > int(w.cfg.SegmentSize)-segmentHdrSize {
			return 0, errs.New(errs.Full, "wal: record larger than segment capacity")
		}
		total += size
	}
	if total > int(w.cfg.SegmentSize)-segmentHdrSize {
		return 0, errs.New(errs.Full, "wal: batch does not fit in a single segment")
	}

	if w.curSize+int64(len(w.bufActive))+int64(total) > w.cfg.SegmentSize {
		if err := w.rolloverLocked(); err != nil {
			return 0, err
		}
	}

	firstSeq := w.nextSequence
	seq := firstSeq
	for _, r := range recs {
		if err := w.writeOneLocked(r.Type, r.Key, r.Value, seq); err != nil {
			return 0, err
		}
		seq++
	}
	w.nextSequence = seq

	hdr := w.currentHeader()
	hdr.RecordCount += uint32(len(recs))
	hdr.LastSequence = seq - 1
	w.setCurrentHeader(hdr)

	if w.cfg.SyncOnWrite {
		if err := w.syncLocked(); err != nil {
			return 0, err
		}
	}

	return firstSeq, nil
}

// writeOneLocked encodes and buffers a single record. Must be called with
// w.mu held.
func (w *WAL) writeOneLocked(typ RecordType, key, value []byte, sequence uint64) error {
	size := encodedSize(len(key), len(value))
	buf := make([]byte, size)
	encodeRecord(buf, typ, key, value, sequence)

	if size > cap(w.bufActive) {
		// larger than the buffer: bypass it and write directly, per spec §4.4.
		if err := w.flushActiveLocked(); err != nil {
			return err
		}
		if _, err := w.cur.WriteAt(buf, w.curSize); err != nil {
			return errs.Wrap(errs.Io, "wal: direct write", err)
		}
		w.curSize += int64(size)
		return nil
	}

	if len(w.bufActive)+size > cap(w.bufActive) {
		if err := w.flushActiveLocked(); err != nil {
			return err
		}
	}
	w.bufActive = append(w.bufActive, buf...)
	return nil
}

// flushActiveLocked swaps the active buffer with the spare, writes the
// frozen buffer's bytes to the file descriptor, and clears it. Must be
// called with w.mu held.
func (w *WAL) flushActiveLocked() error {
	if len(w.bufActive) == 0 {
		return nil
	}
	frozen := w.bufActive
	w.bufActive = w.bufSpare[:0]
	w.bufSpare = frozen

	if _, err := w.cur.WriteAt(frozen, w.curSize); err != nil {
		return errs.Wrap(errs.Io, "wal: flush buffer", err)
	}
	w.curSize += int64(len(frozen))
	w.bufSpare = frozen[:0]
	return nil
}

// Sync flushes the active buffer and fsyncs the current segment file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errs.New(errs.Closed, "wal: writer is closed")
	}
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.flushActiveLocked(); err != nil {
		return err
	}
	hdr := w.currentHeader()
	if err := writeSegmentHeader(w.cur, hdr); err != nil {
		return errs.Wrap(errs.Io, "wal: persist segment header", err)
	}
	if err := w.cur.Sync(); err != nil {
		return errs.Wrap(errs.Io, "wal: fsync", err)
	}
	return nil
}

// rolloverLocked seals the current segment and opens a fresh one. Must be
// called with w.mu held.
func (w *WAL) rolloverLocked() error {
	if err := w.sealCurrentLocked(); err != nil {
		return err
	}
	if err := w.createSegment(w.nextSegmentID()); err != nil {
		return err
	}
	return w.enforceMaxSegmentsLocked()
}

// enforceMaxSegmentsLocked drops the oldest sealed segments once the
// retained count exceeds cfg.MaxSegments (spec §6: "max_segments retained
// before forced retain"). A zero MaxSegments means unlimited.
func (w *WAL) enforceMaxSegmentsLocked() error {
	if w.cfg.MaxSegments <= 0 {
		return nil
	}
	for len(w.segments) > w.cfg.MaxSegments {
		victim := w.segments[0]
		if !victim.header.Sealed {
			break // never touch the open segment
		}
		if err := removeSegmentFile(w.cfg.Directory, victim.id); err != nil {
			return err
		}
		w.segments = w.segments[1:]
	}
	return nil
}

func (w *WAL) sealCurrentLocked() error {
	if err := w.flushActiveLocked(); err != nil {
		return err
	}
	hdr := w.currentHeader()
	hdr.Sealed = true
	if err := writeSegmentHeader(w.cur, hdr); err != nil {
		return errs.Wrap(errs.Io, "wal: seal segment header", err)
	}
	if err := w.cur.Sync(); err != nil {
		return errs.Wrap(errs.Io, "wal: fsync on seal", err)
	}
	w.setCurrentHeader(hdr)
	return w.cur.Close()
}

// Close flushes, fsyncs, seals the current segment, and releases the
// directory lock.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	err := w.sealCurrentLocked()
	w.closed = true
	w.mu.Unlock()

	lockErr := w.closeLock()
	if err != nil {
		return err
	}
	return lockErr
}

// Retain deletes all sealed segments whose last_sequence < minSeq; it
// never touches the currently open segment.
func (w *WAL) Retain(minSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.segments[:0:0]
	for i, seg := range w.segments {
		isTail := i == len(w.segments)-1
		if !isTail && seg.header.Sealed && seg.header.LastSequence < minSeq {
			if err := removeSegmentFile(w.cfg.Directory, seg.id); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, seg)
	}
	w.segments = kept
	return nil
}

func removeSegmentFile(dir string, id uint64) error {
	if err := os.Remove(segmentPath(dir, id)); err != nil {
		return errs.Wrap(errs.Io, "wal: remove sealed segment", err)
	}
	return nil
}

// NextSequence returns the sequence that would be assigned to the next
// appended record.
func (w *WAL) NextSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSequence
}
