package skiplist

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// hintPrefixLen matches the 8-byte prefix cache field in
// original_source/ppdb/src/kvstore/skiplist.c's "hint" struct.
const hintPrefixLen = 8

// searchHint is the optional per-list cache of (key_prefix, last node)
// pairs from spec §4.2: "a tiny per-list cache ... may short-circuit the
// top-level descent when the incoming key shares the cached prefix. The
// hint is advisory: it must be revalidated before use." The source kept a
// single slot; here it is generalized to a small bounded LRU so more than
// one hot prefix can be remembered, using the cache library lotusdb pulls
// in through its badger dependency chain.
type searchHint struct {
	cache *lru.Cache[string, *node]
}

func newSearchHint(size int) *searchHint {
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[string, *node](size)
	return &searchHint{cache: c}
}

func prefixOf(key []byte) string {
	if len(key) <= hintPrefixLen {
		return string(key)
	}
	return string(key[:hintPrefixLen])
}

// lookup returns the cached candidate starting node for key's prefix, or
// nil if none is cached. It does not revalidate the node; the caller checks
// isTraversable before trusting it.
func (h *searchHint) lookup(key []byte) *node {
	if h == nil {
		return nil
	}
	n, ok := h.cache.Get(prefixOf(key))
	if !ok {
		return nil
	}
	return n
}

// record remembers n as the last successful landing spot for key's prefix.
func (h *searchHint) record(key []byte, n *node) {
	if h == nil {
		return
	}
	h.cache.Add(prefixOf(key), n)
}
