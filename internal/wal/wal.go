package wal

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/siltdb/ppdb/internal/errs"
)

const (
	// DefaultSegmentSize matches spec §6's segment_size default (64 MiB).
	DefaultSegmentSize = 64 << 20
	// DefaultBufferSize is the double-buffer slot size from spec §4.4.
	DefaultBufferSize = 64 << 10
	maxRecordSize     = 1 << 26 // generous upper bound; real limits come from memtable/skiplist config
)

// Config configures an opened WAL, mirroring the directory-scoped knobs in
// spec §6.
type Config struct {
	Directory   string
	SegmentSize int64
	MaxSegments int
	SyncOnWrite bool
	BufferSize  int
}

func (c Config) withDefaults() Config {
	if c.SegmentSize <= 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// segmentInfo tracks one on-disk segment the WAL knows about.
type segmentInfo struct {
	id     uint64
	header segmentHeader
}

// WAL is the segmented write-ahead log described by spec §4.4.
type WAL struct {
	mu  sync.Mutex
	cfg Config

	dirLock *os.File // advisory directory lock via unix.Flock

	segments []segmentInfo // ascending by id; last is the open segment
	cur      *os.File
	curSize  int64

	bufActive []byte
	bufSpare  []byte
	bufUsed   int

	nextSequence uint64
	closed       bool
}

// Open creates the directory if needed, scans existing segments, validates
// their headers, and opens (or creates) the tail segment for append.
func Open(cfg Config) (*WAL, error) {
	cfg = cfg.withDefaults()
	if cfg.Directory == "" {
		return nil, errs.New(errs.InvalidArg, "wal: directory required")
	}
	if int(cfg.SegmentSize) <= recordHdrSize {
		return nil, errs.New(errs.InvalidArg, "wal: segment_size too small")
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "wal: mkdir", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(cfg.Directory, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "wal: open lock file", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, errs.Wrap(errs.Busy, "wal: directory already locked by another process", err)
	}

	w := &WAL{
		cfg:          cfg,
		dirLock:      lockFile,
		bufActive:    make([]byte, 0, cfg.BufferSize),
		bufSpare:     make([]byte, 0, cfg.BufferSize),
		nextSequence: 1,
	}

	ids, err := scanSegmentIDs(cfg.Directory)
	if err != nil {
		_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		_ = lockFile.Close()
		return nil, err
	}

	for _, id := range ids {
		hdr, err := readSegmentHeaderOnly(cfg.Directory, id)
		if err != nil {
			_ = w.closeLock()
			return nil, err
		}
		w.segments = append(w.segments, segmentInfo{id: id, header: hdr})
		if hdr.LastSequence+1 > w.nextSequence && hdr.RecordCount > 0 {
			w.nextSequence = hdr.LastSequence + 1
		}
	}

	if len(w.segments) == 0 || w.segments[len(w.segments)-1].header.Sealed {
		if err := w.createSegment(w.nextSegmentID()); err != nil {
			_ = w.closeLock()
			return nil, err
		}
	} else {
		if err := w.openTailSegment(); err != nil {
			_ = w.closeLock()
			return nil, err
		}
	}

	return w, nil
}

func (w *WAL) closeLock() error {
	_ = unix.Flock(int(w.dirLock.Fd()), unix.LOCK_UN)
	return w.dirLock.Close()
}

func (w *WAL) nextSegmentID() uint64 {
	if len(w.segments) == 0 {
		return 1
	}
	return w.segments[len(w.segments)-1].id + 1
}

func scanSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "wal: read directory", err)
	}
	var ids []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".seg") {
			continue
		}
		hex := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg")
		id, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func readSegmentHeaderOnly(dir string, id uint64) (segmentHeader, error) {
	f, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR, 0o644)
	if err != nil {
		return segmentHeader{}, errs.Wrap(errs.Io, "wal: open segment", err)
	}
	defer f.Close()

	buf := make([]byte, segmentHdrSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return segmentHeader{}, errs.Wrap(errs.Corrupted, "wal: read segment header", err)
	}
	hdr, err := decodeSegmentHeader(buf)
	if err != nil {
		return segmentHeader{}, err
	}
	if !hdr.Sealed {
		// the open segment at crash time; reconstruct record_count/last_sequence
		// by walking its records, per spec §4.4.
		reconstructed, lastGoodOffset, walkErr := walkSegmentRecords(f, nil)
		if walkErr != nil {
			return segmentHeader{}, walkErr
		}
		hdr.RecordCount = uint32(len(reconstructed))
		if len(reconstructed) > 0 {
			hdr.LastSequence = reconstructed[len(reconstructed)-1].Sequence
		}
		if err := f.Truncate(lastGoodOffset); err != nil {
			return segmentHeader{}, errs.Wrap(errs.Io, "wal: truncate torn tail", err)
		}
	}
	return hdr, nil
}

func (w *WAL) createSegment(id uint64) error {
	path := segmentPath(w.cfg.Directory, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return errs.Wrap(errs.Io, "wal: create segment", err)
	}

	hdr := segmentHeader{SegmentID: id, FirstSequence: w.nextSequence}
	if err := writeSegmentHeader(f, hdr); err != nil {
		_ = f.Close()
		return errs.Wrap(errs.Io, "wal: write segment header", err)
	}

	w.cur = f
	w.curSize = segmentHdrSize
	w.segments = append(w.segments, segmentInfo{id: id, header: hdr})
	return nil
}

func (w *WAL) openTailSegment() error {
	tail := w.segments[len(w.segments)-1]
	f, err := os.OpenFile(segmentPath(w.cfg.Directory, tail.id), os.O_RDWR, 0o644)
	if err != nil {
		return errs.Wrap(errs.Io, "wal: open tail segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errs.Wrap(errs.Io, "wal: stat tail segment", err)
	}
	w.cur = f
	w.curSize = info.Size()
	return nil
}

func (w *WAL) currentHeader() segmentHeader {
	return w.segments[len(w.segments)-1].header
}

func (w *WAL) setCurrentHeader(h segmentHeader) {
	w.segments[len(w.segments)-1].header = h
}
