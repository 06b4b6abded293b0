package skiplist

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siltdb/ppdb/internal/errs"
)

func newTestList() *List {
	return New(Config{MaxLevel: 16, EnableHint: true, HintSize: 8})
}

func TestInsertGet(t *testing.T) {
	l := newTestList()
	testData := map[string]string{
		"key3": "value3",
		"key1": "value1",
		"key2": "value2",
		"key5": "value5",
		"key4": "value4",
	}
	for k, v := range testData {
		require.NoError(t, l.Insert([]byte(k), []byte(v)))
	}

	for k, want := range testData {
		got, err := l.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	_, err := l.Get([]byte("nonexistent"))
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestInsertUpdatesInPlace(t *testing.T) {
	l := newTestList()
	require.NoError(t, l.Insert([]byte("key1"), []byte("value1")))
	require.NoError(t, l.Insert([]byte("key1"), []byte("value1_updated")))

	got, err := l.Get([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1_updated", string(got))
	require.Equal(t, int64(1), l.Size())
}

func TestDelete(t *testing.T) {
	l := newTestList()
	require.NoError(t, l.Insert([]byte("key1"), []byte("value1")))

	got, err := l.Get([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1", string(got))

	require.NoError(t, l.Delete([]byte("key1")))

	_, err = l.Get([]byte("key1"))
	require.True(t, errs.Is(err, errs.NotFound))

	err = l.Delete([]byte("key1"))
	require.True(t, errs.Is(err, errs.NotFound))
}

// TestIteratorOrdering is the ordering law from spec §8: iteration always
// yields keys in strictly ascending order regardless of insertion order.
func TestIteratorOrdering(t *testing.T) {
	l := newTestList()
	keys := []string{"key3", "key1", "key2", "key5", "key4"}
	for _, k := range keys {
		require.NoError(t, l.Insert([]byte(k), []byte("v-"+k)))
	}

	it := l.NewIterator()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"key1", "key2", "key3", "key4", "key5"}, got)
}

func TestIteratorSkipsDeleted(t *testing.T) {
	l := newTestList()
	require.NoError(t, l.Insert([]byte("a"), []byte("1")))
	require.NoError(t, l.Insert([]byte("b"), []byte("2")))
	require.NoError(t, l.Insert([]byte("c"), []byte("3")))
	require.NoError(t, l.Delete([]byte("b")))

	it := l.NewIterator()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"a", "c"}, got)
}

func TestSizeAndMemoryUsageTrackDeletes(t *testing.T) {
	l := newTestList()
	base := l.MemoryUsage()
	require.NoError(t, l.Insert([]byte("key1"), []byte("value1")))
	require.Equal(t, int64(1), l.Size())
	require.False(t, l.Empty())
	require.Greater(t, l.MemoryUsage(), base)

	require.NoError(t, l.Delete([]byte("key1")))
	require.Equal(t, int64(0), l.Size())
	require.True(t, l.Empty())
	require.Equal(t, base, l.MemoryUsage())
}

func TestInvalidArgsRejected(t *testing.T) {
	l := newTestList()
	require.True(t, errs.Is(l.Insert(nil, []byte("v")), errs.InvalidArg))
	require.True(t, errs.Is(l.Insert([]byte("k"), nil), errs.InvalidArg))
	require.True(t, errs.Is(l.Delete(nil), errs.InvalidArg))

	big := make([]byte, defaultMaxKeySize+1)
	require.True(t, errs.Is(l.Insert(big, []byte("v")), errs.InvalidArg))
}

// TestConcurrentInsertGetDelete exercises the refcount-safety and
// linearizable-per-key properties from spec §8 under concurrent access: no
// crash, no torn reads, and a consistent final key set.
func TestConcurrentInsertGetDelete(t *testing.T) {
	l := newTestList()
	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := []byte(fmt.Sprintf("g%d-k%d", g, i))
				require.NoError(t, l.Insert(key, []byte("v")))
				if _, err := l.Get(key); err != nil {
					t.Errorf("get after insert failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, int64(goroutines*perGoroutine), l.Size())

	var deleteWg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		deleteWg.Add(1)
		go func(g int) {
			defer deleteWg.Done()
			for i := 0; i < perGoroutine; i += 2 {
				key := []byte(fmt.Sprintf("g%d-k%d", g, i))
				require.NoError(t, l.Delete(key))
			}
		}(g)
	}
	deleteWg.Wait()

	require.Equal(t, int64(goroutines*perGoroutine/2), l.Size())
}

func TestRandomHeightBounded(t *testing.T) {
	l := newTestList()
	for i := 0; i < 1000; i++ {
		h := l.randomHeight()
		require.GreaterOrEqual(t, h, 1)
		require.LessOrEqual(t, h, l.cfg.MaxLevel)
	}
}

func TestOrderingUnderRandomInsertDeleteSequence(t *testing.T) {
	l := newTestList()
	live := map[string]bool{}
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%04d", rand.IntN(200))
		if rand.IntN(3) == 0 && live[key] {
			require.NoError(t, l.Delete([]byte(key)))
			delete(live, key)
		} else {
			require.NoError(t, l.Insert([]byte(key), []byte("v")))
			live[key] = true
		}
	}

	want := make([]string, 0, len(live))
	for k := range live {
		want = append(want, k)
	}
	sort.Strings(want)

	it := l.NewIterator()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, want, got)
}
