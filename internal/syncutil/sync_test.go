package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRWMutexExcludesWriterFromReaders(t *testing.T) {
	s := New(Config{Kind: KindRWMutex})

	s.RLock()
	require.False(t, s.TryLock(), "writer must not acquire while a reader holds the lock")
	s.RUnlock()

	require.True(t, s.TryLock())
	require.False(t, s.TryRLock(), "reader must not acquire while the writer holds the lock")
	s.Unlock()
}

func TestRWMutexMaxReadersCapsConcurrentReaders(t *testing.T) {
	s := New(Config{Kind: KindRWMutex, MaxReaders: 2})

	require.True(t, s.TryRLock())
	require.True(t, s.TryRLock())
	require.False(t, s.TryRLock(), "a third reader must be refused once MaxReaders is reached")

	s.RUnlock()
	require.True(t, s.TryRLock(), "releasing one reader must free a slot")
}

func TestRWMutexFairBlocksNewReadersBehindWaitingWriter(t *testing.T) {
	s := New(Config{Kind: KindRWMutex, Fair: true})

	s.RLock()

	writerAcquired := make(chan struct{})
	go func() {
		s.Lock()
		close(writerAcquired)
		s.Unlock()
	}()

	// give the writer goroutine a chance to mark itself waiting.
	time.Sleep(10 * time.Millisecond)
	require.False(t, s.TryRLock(), "a fair lock must not admit a new reader once a writer is waiting")

	s.RUnlock()
	<-writerAcquired
}

func TestRWMutexDegradesToExclusiveForNonRWKinds(t *testing.T) {
	var wg sync.WaitGroup
	s := New(Config{Kind: KindMutex})

	var n int
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			s.RLock()
			defer s.RUnlock()
			n++
		}()
	}
	wg.Wait()
	require.Equal(t, 2, n)
}
