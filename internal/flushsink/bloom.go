package flushsink

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"math"
)

// bloomFilter lets Get reject a key without touching the run's body when
// the key is definitely absent. Grounded on the teacher's
// internal/sstable/bloom.go for the sizing math (optimal bit/hash counts
// from capacity and false-positive rate, replacing the hand-rolled
// Taylor-series log with math.Log), but adapted to a different probing
// strategy: instead of k independently reset hash.Hash32 instances (k
// Write calls per Add/MayContain), every probe position is derived from
// two 64-bit FNV-1a hashes of the key via Kirsch/Mitzenmacher double
// hashing (g_i(x) = h1(x) + i*h2(x)) — one hash of the key instead of k,
// the standard way to synthesize many probes from two independent ones.
type bloomFilter struct {
	bits      []byte
	bitCount  uint32
	numHashes uint32
}

func newBloomFilter(capacity uint32, falsePositiveRate float64) *bloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	bitCount := uint32(float64(capacity) * (-1.0 * math.Log(falsePositiveRate)) / (math.Ln2 * math.Ln2))
	byteCount := (bitCount + 7) / 8
	bitCount = byteCount * 8

	numHashes := uint32((float64(bitCount) / float64(capacity)) * math.Ln2)
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 10 {
		numHashes = 10
	}

	return &bloomFilter{bits: make([]byte, byteCount), bitCount: bitCount, numHashes: numHashes}
}

// probeHashes returns the two independent 64-bit hashes every probe
// position is derived from: a plain FNV-1a of key, and a second FNV-1a
// seeded with one extra byte so it doesn't collapse onto the first.
func probeHashes(key []byte) (h1, h2 uint64) {
	f1 := fnv.New64a()
	_, _ = f1.Write(key)
	h1 = f1.Sum64()

	f2 := fnv.New64a()
	_, _ = f2.Write(key)
	_, _ = f2.Write([]byte{0xa5})
	h2 = f2.Sum64()
	return h1, h2
}

func (bf *bloomFilter) Add(key []byte) {
	h1, h2 := probeHashes(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := uint32((h1 + uint64(i)*h2) % uint64(bf.bitCount))
		bf.bits[idx/8] |= 1 << (idx % 8)
	}
}

func (bf *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := probeHashes(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := uint32((h1 + uint64(i)*h2) % uint64(bf.bitCount))
		if bf.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

func (bf *bloomFilter) Bytes() []byte {
	result := make([]byte, 8+len(bf.bits))
	binary.LittleEndian.PutUint32(result[0:4], bf.bitCount)
	binary.LittleEndian.PutUint32(result[4:8], bf.numHashes)
	copy(result[8:], bf.bits)
	return result
}

func loadBloomFilter(data []byte) (*bloomFilter, error) {
	if len(data) < 8 {
		return nil, io.ErrUnexpectedEOF
	}
	bitCount := binary.LittleEndian.Uint32(data[0:4])
	numHashes := binary.LittleEndian.Uint32(data[4:8])

	expected := 8 + int((bitCount+7)/8)
	if len(data) < expected {
		return nil, io.ErrUnexpectedEOF
	}

	bits := make([]byte, (bitCount+7)/8)
	copy(bits, data[8:8+(bitCount+7)/8])

	return &bloomFilter{bits: bits, bitCount: bitCount, numHashes: numHashes}, nil
}
