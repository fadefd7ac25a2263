package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/engine/device"
	"github.com/zhukovaskychina/xkv-engine/engine/freelist"
	"github.com/zhukovaskychina/xkv-engine/logger"
)

/**
分页文件管理器。页面只经由这里进出缓存和设备：Fetch先查事务私有页表，
再查缓存，最后读设备；Alloc优先复用freelist里的空闲区域，否则truncate
扩展文件。in-memory环境下页面自引用，永不落盘。
**/
type PageManager struct {
	dev      device.Device // nil for in-memory environments
	cache    *buffer.Cache
	fl       *freelist.Freelist
	pageSize uint32

	inMemory     bool
	mapped       bool
	writeThrough bool

	// arenaNext hands out synthetic offsets for in-memory pages; it
	// starts past 0 so Self==0 keeps meaning "unplaced".
	arenaNext uint64
}

func NewPageManager(dev device.Device, cache *buffer.Cache, fl *freelist.Freelist, pageSize uint32, envFlags uint32) *PageManager {
	return &PageManager{
		dev:          dev,
		cache:        cache,
		fl:           fl,
		pageSize:     pageSize,
		inMemory:     envFlags&basic.FlagInMemoryDB != 0,
		mapped:       envFlags&basic.FlagUseMmap != 0,
		writeThrough: envFlags&basic.FlagWriteThrough != 0,
		arenaNext:    uint64(pageSize),
	}
}

func (pm *PageManager) Cache() *buffer.Cache {
	return pm.cache
}

func (pm *PageManager) Freelist() *freelist.Freelist {
	return pm.fl
}

// Fetch returns the page at offset, pinned into the cache.
func (pm *PageManager) Fetch(txn *Txn, offset uint64, flags uint32) (*buffer.Page, error) {
	if pm.inMemory {
		// in-memory pages are self-referential and never leave memory
		panic("xkv: fetch from an in-memory environment")
	}

	if txn != nil {
		if page := txn.GetPage(offset); page != nil {
			return page, nil
		}
	}

	if page := pm.cache.Get(offset); page != nil {
		if txn != nil {
			txn.AddPage(page)
		}
		return page, nil
	}

	if flags&basic.FetchOnlyFromCache != 0 {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}

	page, err := pm.cache.AllocPage(basic.PageTypeUndefined, pm.mapped)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if pm.mapped {
		buf, err := pm.dev.MapRegion(offset, uint64(pm.pageSize))
		if err != nil {
			pm.cache.DiscardAlloc(page)
			return nil, errors.Trace(err)
		}
		page.Data = buf
	} else {
		if err := pm.dev.Read(offset, page.Data); err != nil {
			pm.cache.DiscardAlloc(page)
			return nil, errors.Trace(err)
		}
	}

	page.Self = offset
	page.ReadHeader()

	if txn != nil {
		txn.AddPage(page)
	}
	pm.cache.Put(page)
	return page, nil
}

// Alloc returns a freshly allocated page of the given type, placed in
// the file through the freelist or by extending it.
func (pm *PageManager) Alloc(typ basic.PageType, txn *Txn, flags uint32) (*buffer.Page, error) {
	page, err := pm.cache.AllocPage(typ, pm.mapped && !pm.inMemory)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if pm.inMemory {
		page.InMemory = true
		page.Self = pm.arenaNext
		pm.arenaNext += uint64(pm.pageSize)
		page.WriteHeader()
		pm.cache.Put(page)
		return page, nil
	}

	var offset uint64
	reused := false
	if flags&basic.AllocIgnoreFreelist == 0 && pm.fl != nil {
		offset = pm.fl.AllocArea(uint64(pm.pageSize), pm.pageSize)
		reused = offset != 0
	}

	if offset == 0 {
		fileSize, err := pm.dev.FileSize()
		if err != nil {
			pm.cache.DiscardAlloc(page)
			return nil, errors.Trace(err)
		}
		if err := pm.dev.Truncate(fileSize + uint64(pm.pageSize)); err != nil {
			pm.cache.DiscardAlloc(page)
			return nil, errors.Trace(err)
		}
		offset = fileSize
	}

	if pm.mapped {
		buf, err := pm.dev.MapRegion(offset, uint64(pm.pageSize))
		if err != nil {
			pm.cache.DiscardAlloc(page)
			return nil, errors.Trace(err)
		}
		page.Data = buf
	}

	if reused || flags&basic.AllocClearWithZero != 0 {
		for i := range page.Data {
			page.Data[i] = 0
		}
	}

	page.Self = offset
	page.Type = typ
	page.WriteHeader()
	page.ClearDirty()

	if txn != nil {
		txn.AddPage(page)
	}
	pm.cache.Put(page)
	return page, nil
}

// Flush hands a page back to the cache, writing it through first when
// the environment runs write-through. The flags slot is reserved.
func (pm *PageManager) Flush(txn *Txn, page *buffer.Page, flags uint32) error {
	_ = flags
	if pm.writeThrough && page.IsDirty() {
		if err := pm.cache.WritePage(page); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Free marks a page delete-pending; the area goes back to the freelist
// at flush time. Extended-key purging for dying leaves happens in the
// database layer, which knows the keys.
func (pm *PageManager) Free(txn *Txn, page *buffer.Page, flags uint32) {
	_ = flags
	page.DeletePending = true
	page.ClearDirty()
}

// FlushAll walks the cache: reclaims delete-pending pages, writes dirty
// ones, and drops every buffer nothing pins.
func (pm *PageManager) FlushAll(txn *Txn, flags uint32) error {
	_ = flags
	var pending []*buffer.Page
	pm.cache.Range(func(page *buffer.Page) bool {
		if page.DeletePending {
			pending = append(pending, page)
		}
		return true
	})
	for _, page := range pending {
		if pm.fl != nil && !page.InMemory {
			pm.fl.AddArea(page.Self, uint64(pm.pageSize))
		}
		if err := pm.cache.Drop(page); err != nil {
			return errors.Trace(err)
		}
	}
	if err := pm.cache.FlushAll(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Close flushes the cache and syncs the device for environment
// shutdown. Delete-pending reclamation has already happened in
// FlushAll.
func (pm *PageManager) Close() error {
	if pm.inMemory {
		return pm.cache.Close()
	}
	if err := pm.cache.Close(); err != nil {
		return errors.Trace(err)
	}
	if pm.dev != nil {
		if err := pm.dev.Flush(); err != nil {
			logger.Errorf("device flush on close failed: %v", err)
			return errors.Trace(err)
		}
	}
	return nil
}

// PageSize implements freelist.PageIO.
func (pm *PageManager) PageSize() uint32 {
	return pm.pageSize
}

// FetchPage implements freelist.PageIO.
func (pm *PageManager) FetchPage(offset uint64, flags uint32) (*buffer.Page, error) {
	return pm.Fetch(nil, offset, flags)
}

// AllocPage implements freelist.PageIO.
func (pm *PageManager) AllocPage(typ basic.PageType, flags uint32) (*buffer.Page, error) {
	return pm.Alloc(typ, nil, flags)
}
