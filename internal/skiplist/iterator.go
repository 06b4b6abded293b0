package skiplist

// Iterator is a snapshotless, live iterator over the list's level-0 chain,
// yielding all currently non-deleted nodes in ascending key order (spec
// §4.2). It is not required to reflect concurrent mutations
// deterministically, but must never crash, leak or yield freed memory —
// enforced here via the node refcount protocol (acquire/release around
// every field read).
type Iterator struct {
	list *List
	curr *node // last yielded node, or the list head before the first Next
}

// NewIterator returns an iterator positioned before the first live node.
func (l *List) NewIterator() *Iterator {
	return &Iterator{list: l, curr: l.head}
}

// Next advances the iterator to the next live node. Returns false once
// the chain is exhausted.
func (it *Iterator) Next() bool {
	if it.curr == nil {
		return false
	}
	next := it.curr.next[0].Load()
	for next != nil && !next.isTraversable() {
		next = next.next[0].Load()
	}
	it.curr = next
	return it.curr != nil
}

// Key returns a copy of the current node's key. Valid only after Next
// returned true.
func (it *Iterator) Key() []byte {
	if it.curr == nil || !it.curr.acquire() {
		return nil
	}
	defer it.curr.release()
	return cloneBytes(it.curr.key)
}

// Value returns a copy of the current node's value. Valid only after Next
// returned true.
func (it *Iterator) Value() []byte {
	if it.curr == nil || !it.curr.acquire() {
		return nil
	}
	defer it.curr.release()
	it.curr.fieldLock.RLock()
	defer it.curr.fieldLock.RUnlock()
	return cloneBytes(it.curr.value)
}

// Valid reports whether the iterator currently sits on a live node.
func (it *Iterator) Valid() bool {
	return it.curr != nil && it.curr != it.list.head && it.curr.isTraversable()
}
