package flushsink

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	keys, values []string
	idx          int
}

func (s *sliceSource) Next() bool {
	if s.idx >= len(s.keys) {
		return false
	}
	s.idx++
	return true
}
func (s *sliceSource) Key() []byte   { return []byte(s.keys[s.idx-1]) }
func (s *sliceSource) Value() []byte { return []byte(s.values[s.idx-1]) }

func TestFlushAndGet(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	src := &sliceSource{
		keys:   []string{"alpha", "bravo", "charlie"},
		values: []string{"1", "2", "3"},
	}
	h, err := sink.Flush(1, src)
	require.NoError(t, err)
	require.EqualValues(t, 3, h.RecordCount)

	for i, k := range src.keys {
		got, err := sink.Get(h, []byte(k))
		require.NoError(t, err)
		require.Equal(t, src.values[i], string(got))
	}

	_, err = sink.Get(h, []byte("nonexistent"))
	require.Error(t, err)
}

func TestRunIteratorYieldsSortedOrder(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	var keys, values []string
	for i := 0; i < 20; i++ {
		keys = append(keys, fmt.Sprintf("key-%03d", i))
		values = append(values, fmt.Sprintf("value-%03d", i))
	}
	h, err := sink.Flush(7, &sliceSource{keys: keys, values: values})
	require.NoError(t, err)

	it, err := sink.NewIterator(h)
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, keys, got)
}

func TestDeleteRemovesRunFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)

	h, err := sink.Flush(9, &sliceSource{keys: []string{"a"}, values: []string{"1"}})
	require.NoError(t, err)
	require.NoError(t, sink.Delete(h))

	_, err = sink.Get(h, []byte("a"))
	require.Error(t, err)
}
