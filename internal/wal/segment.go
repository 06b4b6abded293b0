package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/siltdb/ppdb/internal/errs"
)

const (
	segmentMagic   = 0x4C415750 // "PWAL"
	segmentVersion = 1
	segmentHdrSize = 44
)

// segmentHeader mirrors spec §6's bit-exact segment header.
type segmentHeader struct {
	SegmentID     uint64
	FirstSequence uint64
	LastSequence  uint64
	RecordCount   uint32
	Sealed        bool
}

func segmentFileName(id uint64) string {
	return fmt.Sprintf("wal-%016x.seg", id)
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, segmentFileName(id))
}

func encodeSegmentHeader(dst []byte, h segmentHeader) {
	binary.LittleEndian.PutUint32(dst[0:4], segmentMagic)
	binary.LittleEndian.PutUint32(dst[4:8], segmentVersion)
	binary.LittleEndian.PutUint64(dst[8:16], h.SegmentID)
	binary.LittleEndian.PutUint64(dst[16:24], h.FirstSequence)
	binary.LittleEndian.PutUint64(dst[24:32], h.LastSequence)
	binary.LittleEndian.PutUint32(dst[32:36], h.RecordCount)
	if h.Sealed {
		binary.LittleEndian.PutUint32(dst[36:40], 1)
	} else {
		binary.LittleEndian.PutUint32(dst[36:40], 0)
	}
	binary.LittleEndian.PutUint32(dst[40:44], 0)
	sum := crc32.ChecksumIEEE(dst[:segmentHdrSize])
	binary.LittleEndian.PutUint32(dst[40:44], sum)
}

func decodeSegmentHeader(buf []byte) (segmentHeader, error) {
	var h segmentHeader
	if len(buf) < segmentHdrSize {
		return h, errs.New(errs.Corrupted, "segment header truncated")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	version := binary.LittleEndian.Uint32(buf[4:8])
	if magic != segmentMagic {
		return h, errs.New(errs.Corrupted, "bad segment magic")
	}
	if version != segmentVersion {
		return h, errs.New(errs.Corrupted, "unsupported segment version")
	}

	storedSum := binary.LittleEndian.Uint32(buf[40:44])
	zeroed := make([]byte, segmentHdrSize)
	copy(zeroed, buf[:segmentHdrSize])
	zeroed[40], zeroed[41], zeroed[42], zeroed[43] = 0, 0, 0, 0
	if crc32.ChecksumIEEE(zeroed) != storedSum {
		return h, errs.New(errs.Corrupted, "segment header checksum mismatch")
	}

	h.SegmentID = binary.LittleEndian.Uint64(buf[8:16])
	h.FirstSequence = binary.LittleEndian.Uint64(buf[16:24])
	h.LastSequence = binary.LittleEndian.Uint64(buf[24:32])
	h.RecordCount = binary.LittleEndian.Uint32(buf[32:36])
	h.Sealed = binary.LittleEndian.Uint32(buf[36:40]) != 0
	return h, nil
}

// writeSegmentHeader (re)writes the header at offset 0 of f.
func writeSegmentHeader(f *os.File, h segmentHeader) error {
	buf := make([]byte, segmentHdrSize)
	encodeSegmentHeader(buf, h)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}
