package freelist

import (
	"sort"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// PageIO is the slice of the paged file manager the freelist needs to
// persist itself. Freelist pages are always allocated with
// AllocIgnoreFreelist so loading and flushing never recurse.
type PageIO interface {
	FetchPage(offset uint64, flags uint32) (*buffer.Page, error)
	AllocPage(typ basic.PageType, flags uint32) (*buffer.Page, error)
	PageSize() uint32
}

// area is one reusable span of the file.
type area struct {
	offset uint64
	size   uint64
}

/**
持久化的空闲区域账本。载入环境头时从freelist页链恢复，关闭或flush时
写回。页链中每页的payload布局: next(8) count(4) entries(count*16)。
**/
type Freelist struct {
	root  uint64 // offset of the first freelist page, 0 if none
	areas []area
	dirty bool
}

const (
	chainHeaderSize = 12
	entrySize       = 16
)

func New() *Freelist {
	return &Freelist{}
}

func (fl *Freelist) Root() uint64 {
	return fl.root
}

// Load restores the freelist from the on-disk chain rooted at root.
func (fl *Freelist) Load(io PageIO, root uint64) error {
	fl.root = root
	fl.areas = fl.areas[:0]
	offset := root
	for offset != 0 {
		page, err := io.FetchPage(offset, 0)
		if err != nil {
			return errors.Trace(err)
		}
		payload := page.Payload()
		next := util.ReadUB8Byte2Long(payload[0:8])
		count := util.ReadUB4Byte2UInt32(payload[8:12])
		cursor := chainHeaderSize
		for i := uint32(0); i < count; i++ {
			var areaOffset, areaSize uint64
			cursor, areaOffset = util.ReadUB8(payload, cursor)
			cursor, areaSize = util.ReadUB8(payload, cursor)
			fl.areas = append(fl.areas, area{offset: areaOffset, size: areaSize})
		}
		offset = next
	}
	fl.sortAreas()
	return nil
}

func (fl *Freelist) sortAreas() {
	sort.Slice(fl.areas, func(i, j int) bool {
		return fl.areas[i].offset < fl.areas[j].offset
	})
}

// AllocArea hands out a page-aligned span of at least size bytes, or 0
// when nothing on the list is large enough. The returned span is no
// longer on the list.
func (fl *Freelist) AllocArea(size uint64, pageSize uint32) uint64 {
	need := roundUp(size, uint64(pageSize))
	for i := range fl.areas {
		if fl.areas[i].size >= need {
			offset := fl.areas[i].offset
			if fl.areas[i].size == need {
				fl.areas = append(fl.areas[:i], fl.areas[i+1:]...)
			} else {
				fl.areas[i].offset += need
				fl.areas[i].size -= need
			}
			fl.dirty = true
			return offset
		}
	}
	return 0
}

// AddArea returns a span to the list, coalescing with an adjacent one
// when possible.
func (fl *Freelist) AddArea(offset uint64, size uint64) {
	fl.dirty = true
	for i := range fl.areas {
		if fl.areas[i].offset+fl.areas[i].size == offset {
			fl.areas[i].size += size
			return
		}
		if offset+size == fl.areas[i].offset {
			fl.areas[i].offset = offset
			fl.areas[i].size += size
			return
		}
	}
	fl.areas = append(fl.areas, area{offset: offset, size: size})
	fl.sortAreas()
}

// Len returns the number of free areas.
func (fl *Freelist) Len() int {
	return len(fl.areas)
}

// TotalFree returns the number of free bytes on the list.
func (fl *Freelist) TotalFree() uint64 {
	var total uint64
	for i := range fl.areas {
		total += fl.areas[i].size
	}
	return total
}

func roundUp(v uint64, align uint64) uint64 {
	if v%align == 0 {
		return v
	}
	return (v/align + 1) * align
}

// Flush writes the working copy back onto the on-disk chain, growing it
// with AllocIgnoreFreelist pages when it runs out of slots. Returns the
// (possibly new) root offset for the environment header.
func (fl *Freelist) Flush(io PageIO) (uint64, error) {
	if !fl.dirty && fl.root != 0 {
		return fl.root, nil
	}
	if fl.root == 0 && len(fl.areas) == 0 {
		return 0, nil
	}

	perPage := (int(io.PageSize()) - int(basic.PersistentHeaderSize) - chainHeaderSize) / entrySize

	// the whole chain stays pinned while it is rewritten; fetching or
	// allocating one link must not evict another
	var pages []*buffer.Page
	defer func() {
		for _, page := range pages {
			page.Unpin()
		}
	}()

	offset := fl.root
	for offset != 0 {
		page, err := io.FetchPage(offset, 0)
		if err != nil {
			return 0, errors.Trace(err)
		}
		page.Pin()
		pages = append(pages, page)
		offset = util.ReadUB8Byte2Long(page.Payload()[0:8])
	}

	needed := (len(fl.areas) + perPage - 1) / perPage
	if needed == 0 {
		needed = 1
	}
	for len(pages) < needed {
		page, err := io.AllocPage(basic.PageTypeFreelist, basic.AllocIgnoreFreelist)
		if err != nil {
			return 0, errors.Trace(err)
		}
		page.Pin()
		pages = append(pages, page)
	}

	cursor := 0
	for i, page := range pages {
		payload := page.Payload()
		var next uint64
		if i+1 < len(pages) {
			next = pages[i+1].Self
		}
		util.WriteUB8(payload, 0, next)

		count := 0
		at := chainHeaderSize
		for cursor < len(fl.areas) && count < perPage {
			at = util.WriteUB8(payload, at, fl.areas[cursor].offset)
			at = util.WriteUB8(payload, at, fl.areas[cursor].size)
			cursor++
			count++
		}
		util.WriteUB4(payload, 8, uint32(count))
		page.MarkDirty()
	}

	fl.root = pages[0].Self
	fl.dirty = false
	return fl.root, nil
}
