// Package skiplist implements the concurrent ordered map from spec §4.2:
// an insert/get/delete/iterate map from opaque byte keys to opaque byte
// values, with probabilistic multi-level indexing, per-node locks and
// refcounted reclamation. Grounded on the teacher's
// internal/memtable/skiplist.go (node/level shape) generalized to the
// per-node-lock, CAS-linked design in
// original_source/ppdb/src/kvstore/skiplist.c.
package skiplist

import (
	"bytes"
	"math/rand/v2"

	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/internal/syncutil"
)

const (
	defaultMaxKeySize   = 64 << 10
	defaultMaxValueSize = 1 << 20
	// p resolves spec §9's open question in favor of the inlined 1/4
	// branch, since SKIPLIST_P is never defined in the kept C headers.
	defaultP = 0.25
)

// Config configures a List. Zero-value fields take the stated defaults.
type Config struct {
	MaxLevel     int
	P            float64
	MaxKeySize   int
	MaxValueSize int
	EnableHint   bool
	HintSize     int
	Sync         syncutil.Config
}

func (c Config) withDefaults() Config {
	if c.MaxLevel <= 0 {
		c.MaxLevel = MaxLevel
	}
	if c.MaxLevel > MaxLevel {
		c.MaxLevel = MaxLevel
	}
	if c.P <= 0 {
		c.P = defaultP
	}
	if c.MaxKeySize <= 0 {
		c.MaxKeySize = defaultMaxKeySize
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = defaultMaxValueSize
	}
	if c.HintSize <= 0 {
		c.HintSize = 64
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync = syncutil.DefaultConfig()
	}
	return c
}

// List is the concurrent skiplist described by spec §4.2.
type List struct {
	head  *node
	level syncutil.Counter // current in-use max level, 1..cfg.MaxLevel
	size  syncutil.Counter
	mem   syncutil.Counter
	cfg   Config
	hint  *searchHint
}

// New constructs an empty List. The head sentinel has height MaxLevel, no
// key, and is never deleted (spec §3 invariant c).
func New(cfg Config) *List {
	cfg = cfg.withDefaults()
	l := &List{cfg: cfg}
	l.head = newNode(nil, nil, cfg.MaxLevel, cfg.Sync)
	l.head.publish()
	l.level.Store(1)
	if cfg.EnableHint {
		l.hint = newSearchHint(cfg.HintSize)
	}
	l.mem.Store(int64(nodeOverhead(cfg.MaxLevel)))
	return l
}

func nodeOverhead(height int) int {
	return 64 + height*8 // rough per-node bookkeeping, matches spec's "node_overhead" notion
}

func compare(a, b []byte) int { return bytes.Compare(a, b) }

func (l *List) randomHeight() int {
	h := 1
	for h < l.cfg.MaxLevel && rand.Float64() < l.cfg.P {
		h++
	}
	return h
}

// ValidateKV reports whether key/value satisfy a List's size bounds,
// applying the same defaulting New/Insert use internally. Exposed so
// callers above the skiplist (the write coordinator) can reject an
// invalid key/value pair before it reaches a durable log, rather than
// discovering the rejection only once it's replayed back out of one.
func ValidateKV(key, value []byte, cfg Config, allowNilValue bool) error {
	return validateKV(key, value, cfg.withDefaults(), allowNilValue)
}

func validateKV(key, value []byte, cfg Config, allowNilValue bool) error {
	if len(key) == 0 || len(key) > cfg.MaxKeySize {
		return errs.New(errs.InvalidArg, "key length out of bounds")
	}
	if !allowNilValue && (len(value) == 0 || len(value) > cfg.MaxValueSize) {
		return errs.New(errs.InvalidArg, "value length out of bounds")
	}
	if allowNilValue && len(value) > cfg.MaxValueSize {
		return errs.New(errs.InvalidArg, "value length out of bounds")
	}
	return nil
}

// search walks every level from the top down, recording the rightmost
// valid predecessor at each level in update[], and returns the live node
// matching key at level 0 if one exists. Deleted/garbage nodes are
// skipped over during traversal (spec §4.2) but never used as update[].
func (l *List) search(key []byte, startHint *node) (update [MaxLevel]*node, match *node) {
	curr := l.head
	if startHint != nil && startHint.isTraversable() && compare(startHint.key, key) < 0 {
		curr = startHint
	}

	top := int(l.level.Load()) - 1
	for i := top; i >= 0; i-- {
		for i >= curr.height {
			// curr (the hint) may be shorter than top; fall back to head's
			// reach for levels it cannot satisfy.
			curr = l.head
		}
		for {
			next := curr.next[i].Load()
			if next == nil {
				break
			}
			if !next.isTraversable() {
				curr = next
				continue
			}
			if compare(next.key, key) < 0 {
				curr = next
				continue
			}
			break
		}
		update[i] = curr
	}

	cand := update[0].next[0].Load()
	for cand != nil && !cand.isTraversable() {
		cand = cand.next[0].Load()
	}
	if cand != nil && compare(cand.key, key) == 0 {
		match = cand
	}
	return update, match
}

// Insert inserts or updates key/value. Returns errs.InvalidArg,
// errs.Timeout (lock-free retry exhaustion) or nil on success.
func (l *List) Insert(key, value []byte) error {
	if err := validateKV(key, value, l.cfg, false); err != nil {
		return err
	}

	hint := l.hint.lookup(key)
	err := syncutil.Retry(l.cfg.Sync, false, func() (syncutil.Outcome, error) {
		update, match := l.search(key, hint)

		if match != nil {
			match.fieldLock.Lock()
			defer match.fieldLock.Unlock()
			if !match.isTraversable() {
				return syncutil.AttemptRetry, nil
			}
			old := match.value
			match.value = cloneBytes(value)
			l.mem.Add(int64(len(match.value) - len(old)))
			l.hint.record(key, match)
			return syncutil.AttemptOk, nil
		}

		height := l.randomHeight()
		if height > int(l.level.Load()) {
			for i := int(l.level.Load()); i < height; i++ {
				update[i] = l.head
			}
			l.level.Store(int64(height))
		}

		n := newNode(cloneBytes(key), cloneBytes(value), height, l.cfg.Sync)

		ok := true
		for i := 0; i < height && ok; i++ {
			expected := update[i].next[i].Load()
			n.next[i].Store(expected)
			ok = update[i].next[i].CompareAndSwap(expected, n)
		}
		if !ok {
			return syncutil.AttemptRetry, nil
		}

		n.publish()
		l.size.Add(1)
		l.mem.Add(int64(nodeOverhead(height) + len(key) + len(value)))
		l.hint.record(key, n)
		return syncutil.AttemptOk, nil
	})

	if syncutil.IsTimeout(err) {
		return errs.New(errs.Timeout, "skiplist insert retry budget exhausted")
	}
	return err
}

// Get returns a freshly owned copy of the current value for key, or
// errs.NotFound if no live node matches.
func (l *List) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errs.New(errs.InvalidArg, "empty key")
	}

	hint := l.hint.lookup(key)
	_, match := l.search(key, hint)
	if match == nil {
		return nil, errs.New(errs.NotFound, "key not found")
	}
	if !match.acquire() {
		return nil, errs.New(errs.NotFound, "key not found")
	}
	defer match.release()

	match.fieldLock.RLock()
	defer match.fieldLock.RUnlock()
	if !match.isTraversable() {
		return nil, errs.New(errs.NotFound, "key not found")
	}
	l.hint.record(key, match)
	return cloneBytes(match.value), nil
}

// Delete logically removes key, unlinking it from every level it
// participates in. Returns errs.NotFound if no live node matches.
func (l *List) Delete(key []byte) error {
	if len(key) == 0 {
		return errs.New(errs.InvalidArg, "empty key")
	}

	update, match := l.search(key, nil)
	if match == nil {
		return errs.New(errs.NotFound, "key not found")
	}
	if !match.markDeleted() {
		return errs.New(errs.NotFound, "key not found")
	}

	// Unlink level by level. A node inserted concurrently between a
	// recorded predecessor and match (possible since match stays
	// physically reachable once marked deleted, per spec §3 invariant b)
	// means update[i] may no longer point directly at match; walk forward
	// from it until the direct predecessor is found.
	for i := 0; i < match.height; i++ {
		unlinkAtLevel(update[i], match, i)
	}

	l.size.Add(-1)
	l.mem.Add(-int64(nodeOverhead(match.height) + len(match.key) + len(match.value)))
	match.release() // drop the list's own reference
	return nil
}

// unlinkAtLevel swings pred forward along level i until it finds the node
// whose next pointer is literally match, then CASes it to match's
// successor. Converges because match's own forward pointers never change
// again once it is marked deleted, and only the node performing this
// delete ever targets match for removal.
func unlinkAtLevel(pred, match *node, i int) {
	cur := pred
	for {
		next := cur.next[i].Load()
		if next == match {
			newNext := match.next[i].Load()
			if cur.next[i].CompareAndSwap(match, newNext) {
				return
			}
			continue
		}
		if next == nil {
			return // unlinked already (shouldn't happen for the winning deleter, but safe)
		}
		cur = next
	}
}

// Size returns the best-effort count of live (non-deleted) keys.
func (l *List) Size() int64 { return l.size.Load() }

// MemoryUsage returns the best-effort tracked byte usage.
func (l *List) MemoryUsage() int64 { return l.mem.Load() }

// Empty reports whether the list currently holds no live keys.
func (l *List) Empty() bool { return l.Size() == 0 }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
