package buffer

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/device"
)

const testPageSize = 4096

func newTestCache(t *testing.T, capacityPages int) (*Cache, *device.FileDevice) {
	dev := device.NewFileDevice(t.TempDir(), "cache.xkv")
	assert.NoError(t, dev.Create())
	t.Cleanup(func() { dev.Close() })
	return NewCache(dev, testPageSize, uint64(capacityPages)*testPageSize), dev
}

func allocResident(t *testing.T, c *Cache, offset uint64) *Page {
	page, err := c.AllocPage(basic.PageTypeBIndex, false)
	assert.NoError(t, err)
	page.Self = offset
	c.Put(page)
	return page
}

func TestCacheGetMiss(t *testing.T) {
	c, _ := newTestCache(t, 4)
	assert.Nil(t, c.Get(testPageSize))
	assert.Equal(t, uint64(1), c.MissCount())
}

func TestCachePutGet(t *testing.T) {
	c, _ := newTestCache(t, 4)
	page := allocResident(t, c, testPageSize)
	assert.Equal(t, page, c.Get(testPageSize))
	assert.Equal(t, uint64(1), c.HitCount())
	assert.Equal(t, uint64(testPageSize), c.UsedBytes())
}

func TestCacheEvictsCleanLRU(t *testing.T) {
	c, _ := newTestCache(t, 4)
	first := allocResident(t, c, 1*testPageSize)
	for i := 2; i <= 4; i++ {
		allocResident(t, c, uint64(i)*testPageSize)
	}
	assert.Equal(t, c.Capacity(), c.UsedBytes())

	// the budget is exhausted; the next alloc recycles the coldest page
	page, err := c.AllocPage(basic.PageTypeBIndex, false)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), c.EvictCount())
	assert.Equal(t, uint64(0), c.FlushCount()) // clean victim, no write
	assert.False(t, c.Has(1*testPageSize))
	assert.Same(t, first, page) // the descriptor is recycled

	page.Self = 5 * testPageSize
	c.Put(page)
	assert.True(t, c.Capacity() >= c.UsedBytes())
}

func TestCacheEvictionWritesDirtyVictim(t *testing.T) {
	c, dev := newTestCache(t, 2)
	page := allocResident(t, c, 1*testPageSize)
	copy(page.Payload(), []byte("dirty victim payload"))
	page.MarkDirty()
	allocResident(t, c, 2*testPageSize)

	_, err := c.AllocPage(basic.PageTypeBIndex, false)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), c.EvictCount())
	assert.Equal(t, uint64(1), c.FlushCount())

	// the device saw the write before the buffer was released
	out := make([]byte, testPageSize)
	assert.NoError(t, dev.Read(1*testPageSize, out))
	assert.Equal(t, []byte("dirty victim payload"), out[basic.PersistentHeaderSize:basic.PersistentHeaderSize+20])
}

func TestCachePinnedPagesAreNotEvicted(t *testing.T) {
	c, _ := newTestCache(t, 2)
	p1 := allocResident(t, c, 1*testPageSize)
	p2 := allocResident(t, c, 2*testPageSize)
	p1.Pin()
	p2.Pin()

	_, err := c.AllocPage(basic.PageTypeBIndex, false)
	assert.Equal(t, basic.ErrCacheFull, errors.Cause(err))

	p1.Unpin()
	_, err = c.AllocPage(basic.PageTypeBIndex, false)
	assert.NoError(t, err)
}

func TestCacheTxnReferencedPagesAreNotEvicted(t *testing.T) {
	c, _ := newTestCache(t, 1)
	page := allocResident(t, c, 1*testPageSize)
	page.TxnRef = 1

	_, err := c.AllocPage(basic.PageTypeBIndex, false)
	assert.Equal(t, basic.ErrCacheFull, errors.Cause(err))
}

func TestCacheResidencyInvariant(t *testing.T) {
	c, _ := newTestCache(t, 4)
	for i := 1; i <= 8; i++ {
		page, err := c.AllocPage(basic.PageTypeBIndex, false)
		assert.NoError(t, err)
		page.Self = uint64(i) * testPageSize
		c.Put(page)
		assert.True(t, c.UsedBytes() <= c.Capacity())
	}
	assert.Equal(t, 4, c.Len())

	seen := map[uint64]bool{}
	c.Range(func(p *Page) bool {
		assert.False(t, seen[p.Self])
		seen[p.Self] = true
		return true
	})
}

func TestCacheFlushAllWritesDirtyPages(t *testing.T) {
	c, dev := newTestCache(t, 4)
	page := allocResident(t, c, 1*testPageSize)
	copy(page.Payload(), []byte("flush me"))
	page.MarkDirty()

	assert.NoError(t, c.FlushAll())
	assert.False(t, page.IsDirty())

	out := make([]byte, testPageSize)
	assert.NoError(t, dev.Read(1*testPageSize, out))
	assert.Equal(t, []byte("flush me"), out[basic.PersistentHeaderSize:basic.PersistentHeaderSize+8])
	// nothing pinned the page, so it was dropped
	assert.Equal(t, 0, c.Len())
}

func TestWritePageWithoutBufferPanics(t *testing.T) {
	c, _ := newTestCache(t, 4)
	page := allocResident(t, c, 1*testPageSize)
	page.Data = nil
	assert.Panics(t, func() { _ = c.WritePage(page) })
}

func TestInMemoryPageNeverDirty(t *testing.T) {
	page := NewPage(basic.PageTypeBIndex, testPageSize)
	page.InMemory = true
	page.MarkDirty()
	assert.False(t, page.IsDirty())
}
