package freelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
)

const testPageSize = 512

// fakeIO keeps pages in a map; good enough to persist a chain.
type fakeIO struct {
	pages map[uint64]*buffer.Page
	next  uint64
}

func newFakeIO() *fakeIO {
	return &fakeIO{pages: make(map[uint64]*buffer.Page), next: testPageSize}
}

func (f *fakeIO) FetchPage(offset uint64, flags uint32) (*buffer.Page, error) {
	return f.pages[offset], nil
}

func (f *fakeIO) AllocPage(typ basic.PageType, flags uint32) (*buffer.Page, error) {
	page := buffer.NewPage(typ, testPageSize)
	page.Self = f.next
	f.next += testPageSize
	f.pages[page.Self] = page
	return page, nil
}

func (f *fakeIO) PageSize() uint32 {
	return testPageSize
}

func TestFreelistAllocFromEmpty(t *testing.T) {
	fl := New()
	assert.Equal(t, uint64(0), fl.AllocArea(testPageSize, testPageSize))
}

func TestFreelistAddAlloc(t *testing.T) {
	fl := New()
	fl.AddArea(4096, testPageSize)

	offset := fl.AllocArea(testPageSize, testPageSize)
	assert.Equal(t, uint64(4096), offset)
	// the span left the list
	assert.Equal(t, uint64(0), fl.AllocArea(testPageSize, testPageSize))
}

func TestFreelistSplitsLargeArea(t *testing.T) {
	fl := New()
	fl.AddArea(4096, 4*testPageSize)

	assert.Equal(t, uint64(4096), fl.AllocArea(testPageSize, testPageSize))
	assert.Equal(t, uint64(4096+testPageSize), fl.AllocArea(testPageSize, testPageSize))
	assert.Equal(t, uint64(2*testPageSize), fl.TotalFree())
}

func TestFreelistRoundsUpToPageAlignment(t *testing.T) {
	fl := New()
	fl.AddArea(4096, 2*testPageSize)

	// 100 bytes still cost one page
	assert.Equal(t, uint64(4096), fl.AllocArea(100, testPageSize))
	assert.Equal(t, uint64(testPageSize), fl.TotalFree())
}

func TestFreelistCoalesces(t *testing.T) {
	fl := New()
	fl.AddArea(4096, testPageSize)
	fl.AddArea(4096+testPageSize, testPageSize)
	assert.Equal(t, 1, fl.Len())
	assert.Equal(t, uint64(2*testPageSize), fl.TotalFree())

	// a two-page request fits the merged span
	assert.Equal(t, uint64(4096), fl.AllocArea(2*testPageSize, testPageSize))
}

func TestFreelistSkipsTooSmallAreas(t *testing.T) {
	fl := New()
	fl.AddArea(4096, testPageSize)
	fl.AddArea(16384, 3*testPageSize)

	assert.Equal(t, uint64(16384), fl.AllocArea(2*testPageSize, testPageSize))
}

func TestFreelistFlushLoadRoundTrip(t *testing.T) {
	io := newFakeIO()
	fl := New()
	fl.AddArea(8192, 2*testPageSize)
	fl.AddArea(32768, testPageSize)

	root, err := fl.Flush(io)
	assert.NoError(t, err)
	assert.NotEqual(t, uint64(0), root)

	restored := New()
	assert.NoError(t, restored.Load(io, root))
	assert.Equal(t, fl.Len(), restored.Len())
	assert.Equal(t, fl.TotalFree(), restored.TotalFree())
	assert.Equal(t, uint64(8192), restored.AllocArea(2*testPageSize, testPageSize))
	assert.Equal(t, uint64(32768), restored.AllocArea(testPageSize, testPageSize))
}

func TestFreelistFlushGrowsChain(t *testing.T) {
	io := newFakeIO()
	fl := New()
	// far more areas than one 512-byte page can hold
	for i := 0; i < 100; i++ {
		fl.AddArea(uint64(1<<20)+uint64(i*2)*testPageSize, testPageSize)
	}
	root, err := fl.Flush(io)
	assert.NoError(t, err)

	restored := New()
	assert.NoError(t, restored.Load(io, root))
	assert.Equal(t, 100, restored.Len())
	assert.Equal(t, uint64(100*testPageSize), restored.TotalFree())
}
