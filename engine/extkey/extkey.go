package extkey

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/metrics"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// DefaultBucketCount is a power of two so the bucket hash is a mask.
const DefaultBucketCount = 128

// entryOverhead approximates the bookkeeping bytes an entry costs on
// top of its key payload.
const entryOverhead = 32

// CacheUsage is the page cache's residency budget; the extended-key
// cache shares it instead of carrying one of its own.
type CacheUsage interface {
	UsedBytes() uint64
	Capacity() uint64
}

type entry struct {
	blobID uint64
	key    []byte
	next   *entry
}

/**
扩展键缓存。键超过数据库keysize时尾部存放在单独的blob里，这里按blob
偏移缓存拼装好的完整键，避免比较器反复读blob。桶数为2的幂，桶下标取
blobID的低位。
**/
type ExtKeyCache struct {
	buckets  []*entry
	mask     uint64
	usedSize uint64

	pageCache CacheUsage
}

func NewExtKeyCache(pageCache CacheUsage) *ExtKeyCache {
	return &ExtKeyCache{
		buckets:   make([]*entry, DefaultBucketCount),
		mask:      DefaultBucketCount - 1,
		pageCache: pageCache,
	}
}

func (c *ExtKeyCache) UsedBytes() uint64 {
	return c.usedSize
}

// Insert memoizes the fully assembled key for blobID. Inserting a blob
// ID twice is a programming error. When the combined page-cache and
// extkey usage would exceed the page-cache capacity the insert fails
// with ErrCacheFull and the caller proceeds without caching.
func (c *ExtKeyCache) Insert(blobID uint64, key []byte) error {
	bucket := blobID & c.mask
	for e := c.buckets[bucket]; e != nil; e = e.next {
		if e.blobID == blobID {
			panic("xkv: duplicate extended key insert")
		}
	}

	cost := uint64(len(key)) + entryOverhead
	if c.pageCache.UsedBytes()+c.usedSize+cost > c.pageCache.Capacity() {
		return errors.Trace(basic.ErrCacheFull)
	}

	c.buckets[bucket] = &entry{
		blobID: blobID,
		key:    util.CopyBytes(key),
		next:   c.buckets[bucket],
	}
	c.usedSize += cost
	return nil
}

// Fetch returns the cached full key for blobID.
func (c *ExtKeyCache) Fetch(blobID uint64) ([]byte, error) {
	bucket := blobID & c.mask
	for e := c.buckets[bucket]; e != nil; e = e.next {
		if e.blobID == blobID {
			metrics.ExtkeyCacheHits.Inc()
			return e.key, nil
		}
	}
	metrics.ExtkeyCacheMisses.Inc()
	return nil, errors.Trace(basic.ErrKeyNotFound)
}

// Remove drops the entry for blobID.
func (c *ExtKeyCache) Remove(blobID uint64) error {
	bucket := blobID & c.mask
	prev := (*entry)(nil)
	for e := c.buckets[bucket]; e != nil; e = e.next {
		if e.blobID == blobID {
			if prev == nil {
				c.buckets[bucket] = e.next
			} else {
				prev.next = e.next
			}
			c.usedSize -= uint64(len(e.key)) + entryOverhead
			return nil
		}
		prev = e
	}
	return errors.Trace(basic.ErrKeyNotFound)
}

// PurgeAll removes every entry whose blob ID satisfies pred. The page
// free path does not use it; it drops a dying leaf's keys one at a time
// with Remove.
func (c *ExtKeyCache) PurgeAll(pred func(blobID uint64) bool) {
	for bucket := range c.buckets {
		prev := (*entry)(nil)
		e := c.buckets[bucket]
		for e != nil {
			next := e.next
			if pred(e.blobID) {
				if prev == nil {
					c.buckets[bucket] = next
				} else {
					prev.next = next
				}
				c.usedSize -= uint64(len(e.key)) + entryOverhead
			} else {
				prev = e
			}
			e = next
		}
	}
}

// Len counts the cached entries.
func (c *ExtKeyCache) Len() int {
	count := 0
	for _, head := range c.buckets {
		for e := head; e != nil; e = e.next {
			count++
		}
	}
	return count
}
