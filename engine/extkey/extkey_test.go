package extkey

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// fakeUsage stands in for the page cache's residency budget.
type fakeUsage struct {
	used     uint64
	capacity uint64
}

func (f *fakeUsage) UsedBytes() uint64 { return f.used }
func (f *fakeUsage) Capacity() uint64  { return f.capacity }

func TestExtKeyCacheInsertFetch(t *testing.T) {
	c := NewExtKeyCache(&fakeUsage{capacity: 1 << 20})

	assert.NoError(t, c.Insert(42, []byte("a very long key")))
	key, err := c.Fetch(42)
	assert.NoError(t, err)
	assert.Equal(t, []byte("a very long key"), key)

	_, err = c.Fetch(43)
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(err))
}

func TestExtKeyCacheRemove(t *testing.T) {
	c := NewExtKeyCache(&fakeUsage{capacity: 1 << 20})
	assert.NoError(t, c.Insert(7, []byte("key")))
	assert.NoError(t, c.Remove(7))
	_, err := c.Fetch(7)
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(err))
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(c.Remove(7)))
	assert.Equal(t, uint64(0), c.UsedBytes())
}

func TestExtKeyCacheDuplicateInsertPanics(t *testing.T) {
	c := NewExtKeyCache(&fakeUsage{capacity: 1 << 20})
	assert.NoError(t, c.Insert(7, []byte("key")))
	assert.Panics(t, func() { _ = c.Insert(7, []byte("other")) })
}

func TestExtKeyCacheSharedBudget(t *testing.T) {
	usage := &fakeUsage{used: 900, capacity: 1000}
	c := NewExtKeyCache(usage)

	// 900 used + 32 overhead + 100 key > 1000
	err := c.Insert(1, make([]byte, 100))
	assert.Equal(t, basic.ErrCacheFull, errors.Cause(err))
	assert.Equal(t, 0, c.Len())

	// a small key still fits
	assert.NoError(t, c.Insert(1, make([]byte, 8)))
}

func TestExtKeyCacheBucketChains(t *testing.T) {
	c := NewExtKeyCache(&fakeUsage{capacity: 1 << 20})
	// the ids collide on the low bits and chain in one bucket
	for i := 0; i < 4; i++ {
		id := uint64(5 + i*DefaultBucketCount)
		assert.NoError(t, c.Insert(id, []byte{byte(i)}))
	}
	assert.Equal(t, 4, c.Len())
	for i := 0; i < 4; i++ {
		id := uint64(5 + i*DefaultBucketCount)
		key, err := c.Fetch(id)
		assert.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, key)
	}
}

func TestExtKeyCachePurgeAll(t *testing.T) {
	c := NewExtKeyCache(&fakeUsage{capacity: 1 << 20})
	for id := uint64(1); id <= 10; id++ {
		assert.NoError(t, c.Insert(id, []byte("k")))
	}
	c.PurgeAll(func(blobID uint64) bool { return blobID%2 == 0 })
	assert.Equal(t, 5, c.Len())
	_, err := c.Fetch(2)
	assert.Error(t, err)
	_, err = c.Fetch(3)
	assert.NoError(t, err)
}
