// Package coordinator implements the write coordinator from spec §4.5: the
// thin glue that, on a mutation, appends to the WAL, optionally fsyncs,
// applies to the sharded memtable, and triggers a flush to the external
// flushsink when the memtable crosses its budget. Grounded on the
// teacher's internal/lsm/db.go (Open/flush-trigger/rotate shape,
// recovery-on-open loop), generalized from one skiplist + one never-
// rotated WAL file to a sharded memtable backed by a segmented WAL.
package coordinator

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/dustin/go-humanize"
	natomic "github.com/natefinch/atomic"

	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/internal/flushsink"
	"github.com/siltdb/ppdb/internal/memtable"
	"github.com/siltdb/ppdb/internal/skiplist"
	"github.com/siltdb/ppdb/internal/wal"
)

const watermarkFile = "flush.watermark"

// Config configures a Coordinator; it owns the whole on-disk layout rooted
// at Directory (a "wal" subdirectory and a "sink" subdirectory).
type Config struct {
	Directory   string
	Memtable    memtable.Config
	WAL         wal.Config
	SyncOnWrite bool
}

func (c Config) withDefaults() Config {
	c.WAL.SyncOnWrite = c.SyncOnWrite
	return c
}

// Coordinator is the write coordinator / memtable-flush state machine
// described by spec §4.5.
type Coordinator struct {
	cfg Config

	mu sync.RWMutex // guards the mt pointer itself (not its internals)
	mt *memtable.Sharded

	flushMu sync.Mutex // serializes MUTABLE->SEALING->IMMUTABLE->FLUSHING->RETIRED

	wal    *wal.WAL
	sink   *flushsink.Sink
	idNode *snowflake.Node
}

// Open recovers any existing database at cfg.Directory (or creates a fresh
// one) and returns a ready Coordinator.
func Open(cfg Config) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if cfg.Directory == "" {
		return nil, errs.New(errs.InvalidArg, "coordinator: directory required")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "coordinator: mkdir", err)
	}

	walCfg := cfg.WAL
	walCfg.Directory = filepath.Join(cfg.Directory, "wal")
	w, err := wal.Open(walCfg)
	if err != nil {
		return nil, err
	}

	sink, err := flushsink.Open(filepath.Join(cfg.Directory, "sink"))
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "coordinator: init id generator", err)
	}

	c := &Coordinator{
		cfg:    cfg,
		mt:     memtable.New(cfg.Memtable),
		wal:    w,
		sink:   sink,
		idNode: node,
	}

	if err := c.recover(); err != nil {
		return nil, err
	}
	return c, nil
}

// recover creates an empty memtable (already done in Open) and replays
// every WAL record into it without re-logging, per spec §4.5.
func (c *Coordinator) recover() error {
	var firstErr error
	recovered := 0
	if err := c.wal.Recover(func(r wal.Record) {
		if firstErr != nil {
			return
		}
		switch r.Type {
		case wal.RecordPut:
			firstErr = c.mt.ApplyPut(r.Key, r.Value)
		case wal.RecordDelete:
			firstErr = c.mt.ApplyDelete(r.Key)
		}
		recovered++
	}); err != nil {
		return err
	}
	if firstErr != nil {
		return errs.Wrap(errs.Corrupted, "coordinator: recovery replay failed", firstErr)
	}
	if recovered > 0 {
		log.Printf("coordinator: recovered %d WAL records (%s)", recovered, humanize.Bytes(uint64(c.mt.UsedBytes())))
	}
	return nil
}

// Put appends a PUT record to the WAL and applies it to the memtable,
// flushing and retrying once if the memtable is full.
func (c *Coordinator) Put(key, value []byte) error {
	return c.apply(wal.RecordPut, key, value)
}

// Delete appends a DELETE record to the WAL and applies it to the
// memtable, flushing and retrying once if the memtable is full.
func (c *Coordinator) Delete(key []byte) error {
	return c.apply(wal.RecordDelete, key, nil)
}

func (c *Coordinator) apply(typ wal.RecordType, key, value []byte) error {
	// Reject an out-of-bounds key/value before it ever reaches the WAL.
	// ApplyPut/ApplyDelete enforce the same bounds, but only after the
	// record is already durable: rejecting here only at the memtable
	// layer would leave an invalid record sitting in the log, and the
	// next recovery would replay it into the same rejection and treat it
	// as corruption, bricking the database over a single bad caller.
	if err := skiplist.ValidateKV(key, value, c.cfg.Memtable.Skiplist, typ == wal.RecordDelete); err != nil {
		return err
	}

	if _, err := c.wal.Append(typ, key, value); err != nil {
		return err
	}
	if c.cfg.SyncOnWrite {
		if err := c.wal.Sync(); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		c.mu.RLock()
		mt := c.mt
		c.mu.RUnlock()

		var applyErr error
		if typ == wal.RecordPut {
			applyErr = mt.ApplyPut(key, value)
		} else {
			applyErr = mt.ApplyDelete(key)
		}
		if applyErr == nil {
			return nil
		}
		if !errs.Is(applyErr, errs.Full) && !errs.Is(applyErr, errs.Immutable) {
			return applyErr
		}
		if err := c.flushAndSwap(mt); err != nil {
			return err
		}
	}
	return errs.New(errs.Internal, "coordinator: apply did not converge after flush")
}

// flushAndSwap seals mt for flush (if it is still the live memtable),
// drains it into the flush sink, retains the WAL up to the flushed
// sequence, and installs a fresh empty memtable. A concurrent caller that
// already lost this race against another flush simply returns once the
// swap it's waiting on has happened.
func (c *Coordinator) flushAndSwap(mt *memtable.Sharded) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	current := c.mt
	c.mu.RUnlock()
	if current != mt {
		return nil // another goroutine already flushed and swapped
	}

	liveKeys, usedBytes, err := mt.FreezeSnapshot()
	if err != nil {
		return err
	}
	log.Printf("coordinator: flushing memtable (%d keys, %s)", liveKeys, humanize.Bytes(uint64(usedBytes)))

	id := uint64(c.idNode.Generate().Int64())
	handle, err := c.sink.Flush(id, mt.NewIterator())
	if err != nil {
		return errs.Wrap(errs.Io, "coordinator: flush to sink", err)
	}
	log.Printf("coordinator: flushed run %016x (%d records)", handle.ID, handle.RecordCount)

	flushedSeq := c.wal.NextSequence() - 1
	if err := c.wal.Retain(flushedSeq); err != nil {
		return err
	}
	if err := c.persistWatermark(flushedSeq); err != nil {
		return err
	}

	c.mu.Lock()
	c.mt = memtable.New(c.cfg.Memtable)
	c.mu.Unlock()
	return nil
}

// persistWatermark atomically rewrites the flush watermark sidecar with the
// last flushed sequence. Nothing in this package reads it back: recovery
// always replays the full retained WAL.
func (c *Coordinator) persistWatermark(seq uint64) error {
	path := filepath.Join(c.cfg.Directory, watermarkFile)
	r := strings.NewReader(strconv.FormatUint(seq, 10))
	if err := natomic.WriteFile(path, r); err != nil {
		return errs.Wrap(errs.Io, "coordinator: persist flush watermark", err)
	}
	return nil
}

// Get looks up key in the current memtable. Per spec §2's read path,
// lookups never consult the flush sink.
func (c *Coordinator) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	mt := c.mt
	c.mu.RUnlock()
	return mt.Lookup(key)
}

// Iterate returns a merging iterator over the current memtable's contents.
func (c *Coordinator) Iterate() *memtable.Iterator {
	c.mu.RLock()
	mt := c.mt
	c.mu.RUnlock()
	return mt.NewIterator()
}

// Close flushes and closes the WAL, releasing the directory lock.
func (c *Coordinator) Close() error {
	return c.wal.Close()
}
