package buffer

import (
	"container/list"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/device"
	"github.com/zhukovaskychina/xkv-engine/logger"
	"github.com/zhukovaskychina/xkv-engine/metrics"
)

// Cache is the environment's bounded collection of resident pages.
//
// Every resident page appears exactly once in the residency map and the
// LRU ring, and the sum of page sizes never exceeds the capacity at the
// end of a public operation. All write-back goes through the device.
type Cache struct {
	capacity uint64
	used     uint64
	pageSize uint32

	// residency map: file offset -> page
	residency map[uint64]*Page

	// LRU环: front最近使用, back最久未使用
	lru *list.List

	counter uint64

	dev device.Device

	*stats
}

func NewCache(dev device.Device, pageSize uint32, capacity uint64) *Cache {
	if capacity == 0 {
		capacity = basic.DefaultCacheCapacity
	}
	return &Cache{
		capacity:  capacity,
		pageSize:  pageSize,
		residency: make(map[uint64]*Page),
		lru:       list.New(),
		dev:       dev,
		stats:     new(stats),
	}
}

func (c *Cache) Capacity() uint64 {
	return c.capacity
}

func (c *Cache) UsedBytes() uint64 {
	return c.used
}

func (c *Cache) PageSize() uint32 {
	return c.pageSize
}

func (c *Cache) Len() int {
	return len(c.residency)
}

// Get returns the resident page at offset, bumping its position in the
// LRU ring, or nil on a miss.
func (c *Cache) Get(offset uint64) *Page {
	page, ok := c.residency[offset]
	if !ok {
		c.stats.IncrMissCount()
		metrics.CacheMisses.Inc()
		return nil
	}
	c.touch(page)
	c.stats.IncrHitCount()
	metrics.CacheHits.Inc()
	return page
}

func (c *Cache) touch(page *Page) {
	c.counter++
	page.CacheCounter = c.counter
	if page.cacheElem != nil {
		c.lru.MoveToFront(page.cacheElem)
	}
}

// Has reports residency without touching the LRU state.
func (c *Cache) Has(offset uint64) bool {
	_, ok := c.residency[offset]
	return ok
}

// AllocPage hands out a page descriptor with a buffer of one page size:
// a fresh allocation while the budget permits, otherwise the descriptor
// of an evicted victim. ErrCacheFull when the budget is exhausted and no
// page is evictable.
//
// mapped pages get their buffer attached by the caller, so the fresh
// path leaves Data nil for them.
func (c *Cache) AllocPage(typ basic.PageType, mapped bool) (*Page, error) {
	if c.used+uint64(c.pageSize) <= c.capacity {
		c.used += uint64(c.pageSize)
		metrics.CacheUsedBytes.Set(float64(c.used))
		if mapped {
			return NewMappedPage(typ), nil
		}
		return NewPage(typ, c.pageSize), nil
	}

	victim := c.selectVictim()
	if victim == nil {
		return nil, errors.Trace(basic.ErrCacheFull)
	}
	if err := c.evict(victim); err != nil {
		return nil, errors.Trace(err)
	}
	victim.Reset()
	victim.Type = typ
	if mapped {
		victim.AllocKind = AllocMmap
	} else {
		victim.Data = make([]byte, c.pageSize)
	}
	return victim, nil
}

// selectVictim picks the unused resident page with the lowest cache
// counter, walking the ring from the cold end.
func (c *Cache) selectVictim() *Page {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		page := elem.Value.(*Page)
		if page.IsEvictable() {
			return page
		}
	}
	return nil
}

// evict flushes a dirty victim and releases its buffer; the descriptor
// stays with the caller for reuse, so the residency budget is unchanged.
func (c *Cache) evict(victim *Page) error {
	if victim.IsDirty() {
		if err := c.WritePage(victim); err != nil {
			return errors.Trace(err)
		}
	}
	c.detach(victim)
	if err := c.releaseBuffer(victim); err != nil {
		return errors.Trace(err)
	}
	c.stats.IncrEvictCount()
	metrics.CacheEvictions.Inc()
	return nil
}

func (c *Cache) releaseBuffer(page *Page) error {
	if page.Data == nil {
		return nil
	}
	if page.AllocKind == AllocMmap {
		if err := c.dev.UnmapRegion(page.Data); err != nil {
			return errors.Trace(err)
		}
	}
	page.Data = nil
	return nil
}

// WritePage writes the page buffer through the device and clears the
// dirty flag. Writing a page whose buffer has been released is an
// invariant violation.
func (c *Cache) WritePage(page *Page) error {
	if page.Data == nil {
		panic("xkv: write of a page without a buffer")
	}
	if page.InMemory {
		panic("xkv: write of an in-memory page")
	}
	if err := c.dev.Write(page.Self, page.Data); err != nil {
		return errors.Trace(err)
	}
	page.ClearDirty()
	c.stats.IncrFlushCount()
	metrics.PagesFlushed.Inc()
	return nil
}

// Put inserts a page into the residency map and the LRU ring. The page
// must carry its final offset in Self.
func (c *Cache) Put(page *Page) {
	if page.Self == 0 && !page.InMemory {
		panic("xkv: cache put of an unplaced page")
	}
	if existing, ok := c.residency[page.Self]; ok && existing != page {
		panic("xkv: offset resident twice")
	}
	if page.cacheElem == nil {
		page.cacheElem = c.lru.PushFront(page)
	}
	c.residency[page.Self] = page
	c.counter++
	page.CacheCounter = c.counter
}

// detach removes a page from the map and the ring without touching its
// buffer or the residency budget.
func (c *Cache) detach(page *Page) {
	if page.cacheElem != nil {
		c.lru.Remove(page.cacheElem)
		page.cacheElem = nil
	}
	delete(c.residency, page.Self)
}

// Drop removes and forgets a page completely, returning its bytes to
// the budget. The buffer is released without write-back; callers flush
// first when they care.
func (c *Cache) Drop(page *Page) error {
	c.detach(page)
	if err := c.releaseBuffer(page); err != nil {
		return errors.Trace(err)
	}
	if c.used >= uint64(c.pageSize) {
		c.used -= uint64(c.pageSize)
	}
	metrics.CacheUsedBytes.Set(float64(c.used))
	return nil
}

// DiscardAlloc returns a page obtained from AllocPage that never made
// it into the residency map, along with its budget bytes. Every early
// exit in the fetch and alloc paths funnels through here.
func (c *Cache) DiscardAlloc(page *Page) {
	if page == nil {
		return
	}
	if err := c.releaseBuffer(page); err != nil {
		logger.Errorf("discard of page buffer failed: %v", err)
	}
	if c.used >= uint64(c.pageSize) {
		c.used -= uint64(c.pageSize)
	}
	metrics.CacheUsedBytes.Set(float64(c.used))
}

// FlushAll writes every dirty page and drops the ones nothing pins.
func (c *Cache) FlushAll() error {
	var drop []*Page
	for _, page := range c.residency {
		if page.IsDirty() {
			if err := c.WritePage(page); err != nil {
				return errors.Trace(err)
			}
		}
		if page.IsEvictable() {
			drop = append(drop, page)
		}
	}
	for _, page := range drop {
		if err := c.Drop(page); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Range visits every resident page until fn returns false.
func (c *Cache) Range(fn func(*Page) bool) {
	for _, page := range c.residency {
		if !fn(page) {
			return
		}
	}
}

// Close flushes all dirty pages and releases every buffer.
func (c *Cache) Close() error {
	for _, page := range c.residency {
		if page.IsDirty() && !page.DeletePending {
			if err := c.WritePage(page); err != nil {
				logger.Errorf("flush on close failed for page %d: %v", page.Self, err)
				return errors.Trace(err)
			}
		}
	}
	for _, page := range c.residency {
		if err := c.releaseBuffer(page); err != nil {
			return errors.Trace(err)
		}
	}
	c.residency = make(map[uint64]*Page)
	c.lru = list.New()
	c.used = 0
	metrics.CacheUsedBytes.Set(0)
	return nil
}
