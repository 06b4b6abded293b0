// Package wal implements the segmented write-ahead log from spec §4.4: a
// directory of fixed-layout segment files, each a header followed by a
// stream of CRC-protected records, written through a double buffer and
// recoverable with torn-tail tolerance. Grounded on the teacher's
// internal/wal/wal.go (buffer pipeline, CRC placement, Load/recovery
// shape) generalized from one never-rotated file to segment-bounded files
// per original_source/ppdb/src/kvstore/wal.c, wal_write.c,
// wal_recovery.c, wal_iterator.c, wal_maintenance.c.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/siltdb/ppdb/internal/errs"
)

// RecordType distinguishes a logged mutation, per spec §6.
type RecordType uint8

const (
	RecordPut    RecordType = 1
	RecordDelete RecordType = 2
)

const (
	recordMagic   = 0x50524543 // "PREC"
	recordHdrSize = 28
)

// Record is one decoded WAL entry.
type Record struct {
	Type     RecordType
	Key      []byte
	Value    []byte
	Sequence uint64
}

// encodedSize returns the on-disk byte length of a record with the given
// key/value sizes.
func encodedSize(keyLen, valueLen int) int {
	return recordHdrSize + keyLen + valueLen
}

// encodeRecord serializes rec into dst, which must be at least
// encodedSize(len(rec.Key), len(rec.Value)) bytes, per spec §6's bit-exact
// record layout.
func encodeRecord(dst []byte, typ RecordType, key, value []byte, sequence uint64) {
	binary.LittleEndian.PutUint32(dst[0:4], recordMagic)
	dst[4] = byte(typ)
	dst[5], dst[6], dst[7] = 0, 0, 0
	binary.LittleEndian.PutUint32(dst[8:12], uint32(len(key)))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(len(value)))
	binary.LittleEndian.PutUint64(dst[16:24], sequence)
	binary.LittleEndian.PutUint32(dst[24:28], 0) // checksum field zeroed for computation
	copy(dst[28:28+len(key)], key)
	copy(dst[28+len(key):], value)

	sum := crc32.ChecksumIEEE(dst[:encodedSize(len(key), len(value))])
	binary.LittleEndian.PutUint32(dst[24:28], sum)
}

// decodeRecordHeader parses the fixed 28-byte header. It does not validate
// the checksum (the caller does that once key/value bytes are available).
func decodeRecordHeader(hdr []byte) (typ RecordType, keySize, valueSize uint32, sequence uint64, checksum uint32, ok bool) {
	if len(hdr) < recordHdrSize {
		return 0, 0, 0, 0, 0, false
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != recordMagic {
		return 0, 0, 0, 0, 0, false
	}
	typ = RecordType(hdr[4])
	keySize = binary.LittleEndian.Uint32(hdr[8:12])
	valueSize = binary.LittleEndian.Uint32(hdr[12:16])
	sequence = binary.LittleEndian.Uint64(hdr[16:24])
	checksum = binary.LittleEndian.Uint32(hdr[24:28])
	return typ, keySize, valueSize, sequence, checksum, true
}

// verifyRecordChecksum recomputes the CRC over header-with-checksum-zeroed
// || key || value and compares it to the stored value.
func verifyRecordChecksum(hdr []byte, key, value []byte, want uint32) bool {
	zeroed := make([]byte, recordHdrSize)
	copy(zeroed, hdr)
	zeroed[24], zeroed[25], zeroed[26], zeroed[27] = 0, 0, 0, 0

	crc := crc32.NewIEEE()
	_, _ = crc.Write(zeroed)
	_, _ = crc.Write(key)
	_, _ = crc.Write(value)
	return crc.Sum32() == want
}

func validateRecordSizes(keySize, valueSize uint32, maxRecord int) error {
	if int(keySize)+int(valueSize)+recordHdrSize > maxRecord {
		return errs.New(errs.Corrupted, "record exceeds maximum size")
	}
	return nil
}
