package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siltdb/ppdb/internal/errs"
)

func newTestSharded(t *testing.T) *Sharded {
	t.Helper()
	return New(Config{ShardCount: 4, BudgetBytes: 1 << 20})
}

func TestShardedPutGet(t *testing.T) {
	m := newTestSharded(t)

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}
	for k, v := range testData {
		require.NoError(t, m.ApplyPut([]byte(k), []byte(v)))
	}

	for k, want := range testData {
		got, err := m.Lookup([]byte(k))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	_, err := m.Lookup([]byte("nonexistent"))
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestShardedDelete(t *testing.T) {
	m := newTestSharded(t)
	require.NoError(t, m.ApplyPut([]byte("key1"), []byte("value1")))

	got, err := m.Lookup([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1", string(got))

	require.NoError(t, m.ApplyDelete([]byte("key1")))

	_, err = m.Lookup([]byte("key1"))
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestShardedImmutable(t *testing.T) {
	m := newTestSharded(t)
	require.NoError(t, m.ApplyPut([]byte("key1"), []byte("value1")))

	m.MarkImmutable()
	require.True(t, m.IsImmutable())

	err := m.ApplyPut([]byte("key2"), []byte("value2"))
	require.True(t, errs.Is(err, errs.Immutable))

	err = m.ApplyDelete([]byte("key1"))
	require.True(t, errs.Is(err, errs.Immutable))

	// reads still work once sealed.
	got, err := m.Lookup([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1", string(got))
}

func TestShardedBudgetFull(t *testing.T) {
	m := New(Config{ShardCount: 2, BudgetBytes: 64})
	require.NoError(t, m.ApplyPut([]byte("a"), []byte("b")))

	var lastErr error
	for i := 0; i < 100; i++ {
		lastErr = m.ApplyPut([]byte(fmt.Sprintf("key-%03d", i)), []byte("value"))
		if lastErr != nil {
			break
		}
	}
	require.True(t, errs.Is(lastErr, errs.Full))
}

func TestShardedIteratorGlobalOrder(t *testing.T) {
	m := newTestSharded(t)
	keys := []string{"delta", "alpha", "charlie", "echo", "bravo"}
	for _, k := range keys {
		require.NoError(t, m.ApplyPut([]byte(k), []byte("v-"+k)))
	}

	it := m.NewIterator()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echo"}, got)
}

func TestShardedFreezeSnapshot(t *testing.T) {
	m := newTestSharded(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.ApplyPut([]byte(fmt.Sprintf("key-%d", i)), []byte("value")))
	}

	liveKeys, usedBytes, err := m.FreezeSnapshot()
	require.NoError(t, err)
	require.Equal(t, int64(10), liveKeys)
	require.Greater(t, usedBytes, int64(0))
	require.True(t, m.IsImmutable())
}

func TestShardIndexStable(t *testing.T) {
	m := newTestSharded(t)
	key := []byte("stable-key")
	first := m.shardIndex(key)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, m.shardIndex(key))
	}
}
