package buffer

import "sync/atomic"

// statistics
type stats struct {
	hitCount   uint64
	missCount  uint64
	evictCount uint64
	flushCount uint64
}

// increment hit count
func (st *stats) IncrHitCount() uint64 {
	return atomic.AddUint64(&st.hitCount, 1)
}

// increment miss count
func (st *stats) IncrMissCount() uint64 {
	return atomic.AddUint64(&st.missCount, 1)
}

func (st *stats) IncrEvictCount() uint64 {
	return atomic.AddUint64(&st.evictCount, 1)
}

func (st *stats) IncrFlushCount() uint64 {
	return atomic.AddUint64(&st.flushCount, 1)
}

// HitCount returns hit count
func (st *stats) HitCount() uint64 {
	return atomic.LoadUint64(&st.hitCount)
}

// MissCount returns miss count
func (st *stats) MissCount() uint64 {
	return atomic.LoadUint64(&st.missCount)
}

func (st *stats) EvictCount() uint64 {
	return atomic.LoadUint64(&st.evictCount)
}

func (st *stats) FlushCount() uint64 {
	return atomic.LoadUint64(&st.flushCount)
}

// HitRate returns rate for cache hitting
func (st *stats) HitRate() float64 {
	hc, mc := st.HitCount(), st.MissCount()
	total := hc + mc
	if total == 0 {
		return 0.0
	}
	return float64(hc) / float64(total)
}
