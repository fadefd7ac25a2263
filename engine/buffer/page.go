package buffer

import (
	"container/list"

	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// AllocKind records how a page buffer was obtained, so the cache knows
// how to release it again.
type AllocKind uint8

const (
	AllocMalloc AllocKind = iota
	AllocMmap
)

/**
页面控制体。Self是页面在文件中的字节偏移量(0表示尚未落盘)，Data是
持久化缓冲区，长度等于环境页大小。缓存通过cacheElem把页面挂在LRU环上；
游标通过Cursors把自己挂在页面上，页面销毁时据此解耦。
**/
type Page struct {
	// Self is the page's byte offset in the file, or 0 while the page
	// has not been placed on disk yet. In-memory environments use a
	// synthetic arena handle instead.
	Self uint64

	Type basic.PageType

	// OwnerDB is the numeric name of the owning database, 0 if none.
	OwnerDB uint16

	// Data is the persistent buffer. It must be present whenever the
	// page is read, written or inspected.
	Data []byte

	// Non-persistent state.
	AllocKind     AllocKind
	DeletePending bool
	InMemory      bool

	dirty        bool
	inUse        int
	CacheCounter uint64

	// TxnRef counts active transactions holding this page in their
	// private page map. A referenced page is never evicted.
	TxnRef int

	// Cursors is the per-page cursor ring: every btree-coupled cursor
	// positioned on this page links itself here.
	Cursors *list.List

	cacheElem *list.Element
}

func NewPage(typ basic.PageType, pageSize uint32) *Page {
	page := new(Page)
	page.Type = typ
	page.Data = make([]byte, pageSize)
	page.Cursors = list.New()
	return page
}

// NewMappedPage builds a page whose buffer will be attached by the
// device map; the cache accounts for it like any other resident page.
func NewMappedPage(typ basic.PageType) *Page {
	page := new(Page)
	page.Type = typ
	page.AllocKind = AllocMmap
	page.Cursors = list.New()
	return page
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

// MarkDirty flags the page for write-back. In-memory pages are the only
// copy of their data and are never written anywhere, so the flag stays
// clear for them.
func (p *Page) MarkDirty() {
	if p.InMemory {
		return
	}
	p.dirty = true
}

func (p *Page) ClearDirty() {
	p.dirty = false
}

func (p *Page) Pin() {
	p.inUse++
}

func (p *Page) Unpin() {
	if p.inUse > 0 {
		p.inUse--
	}
}

func (p *Page) IsInUse() bool {
	return p.inUse > 0
}

// IsEvictable reports whether the cache may select this page as an
// eviction victim.
func (p *Page) IsEvictable() bool {
	if p.InMemory {
		return false
	}
	if p.inUse > 0 || p.TxnRef > 0 {
		return false
	}
	if p.Cursors != nil && p.Cursors.Len() > 0 {
		return false
	}
	return true
}

// Payload returns the page body behind the persistent header.
func (p *Page) Payload() []byte {
	if p.Data == nil {
		panic("xkv: payload access on a page without a buffer")
	}
	return p.Data[basic.PersistentHeaderSize:]
}

// WriteHeader serializes the persistent page header into the buffer.
func (p *Page) WriteHeader() {
	if p.Data == nil {
		panic("xkv: header write on a page without a buffer")
	}
	util.WriteUB4(p.Data, 0, uint32(p.Type))
	util.WriteUB4(p.Data, 4, 0)
	util.WriteUB8(p.Data, 8, 0)
}

// ReadHeader restores the page type from the buffer.
func (p *Page) ReadHeader() {
	if p.Data == nil {
		panic("xkv: header read on a page without a buffer")
	}
	p.Type = basic.PageType(util.ReadUB4Byte2UInt32(p.Data[0:4]))
}

// Reset clears the descriptor for reuse after eviction. The buffer has
// already been released by the cache.
func (p *Page) Reset() {
	p.Self = 0
	p.Type = basic.PageTypeUndefined
	p.OwnerDB = 0
	p.dirty = false
	p.DeletePending = false
	p.AllocKind = AllocMalloc
	p.CacheCounter = 0
	p.TxnRef = 0
	p.Cursors = list.New()
	p.cacheElem = nil
}
