package syncutil

import "sync/atomic"

// Counter is an atomic 64-bit counter, per spec §4.1's
// load/store/add/sub/cas contract.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Load() int64 { return c.v.Load() }

func (c *Counter) Store(n int64) { c.v.Store(n) }

func (c *Counter) Add(delta int64) int64 { return c.v.Add(delta) }

func (c *Counter) Sub(delta int64) int64 { return c.v.Add(-delta) }

func (c *Counter) CAS(old, new int64) bool { return c.v.CompareAndSwap(old, new) }
