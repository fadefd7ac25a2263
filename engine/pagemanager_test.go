package engine

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
)

func TestFetchOnlyFromCacheMiss(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", 0, nil)
	assert.NoError(t, err)
	defer env.Close()

	page, err := env.pm.Alloc(basic.PageTypeBIndex, nil, 0)
	assert.NoError(t, err)
	offset := page.Self

	// resident: the hit path
	hit, err := env.pm.Fetch(nil, offset, basic.FetchOnlyFromCache)
	assert.NoError(t, err)
	assert.Same(t, page, hit)

	// not resident: the miss stays a miss
	_, err = env.pm.Fetch(nil, offset+uint64(env.pageSize), basic.FetchOnlyFromCache)
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(err))
}

func TestFetchReadsBackFromDevice(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", 0, nil)
	assert.NoError(t, err)
	defer env.Close()

	page, err := env.pm.Alloc(basic.PageTypeBRoot, nil, 0)
	assert.NoError(t, err)
	offset := page.Self
	copy(page.Payload(), []byte("survives the cache"))
	page.MarkDirty()

	assert.NoError(t, env.pm.FlushAll(nil, 0))
	assert.False(t, env.cache.Has(offset))

	reloaded, err := env.pm.Fetch(nil, offset, 0)
	assert.NoError(t, err)
	assert.Equal(t, basic.PageTypeBRoot, reloaded.Type)
	assert.Equal(t, []byte("survives the cache"), reloaded.Payload()[:18])
}

func TestFreePageReturnsAreaAtFlushTime(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", 0, nil)
	assert.NoError(t, err)
	defer env.Close()

	page, err := env.pm.Alloc(basic.PageTypeBIndex, nil, 0)
	assert.NoError(t, err)
	offset := page.Self

	env.pm.Free(nil, page, 0)
	assert.True(t, page.DeletePending)
	// not reclaimed yet
	assert.Equal(t, uint64(0), env.fl.TotalFree())

	assert.NoError(t, env.pm.FlushAll(nil, 0))
	assert.Equal(t, uint64(env.pageSize), env.fl.TotalFree())

	// the very next allocation reuses the area
	page2, err := env.pm.Alloc(basic.PageTypeBIndex, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, offset, page2.Self)
	assert.Equal(t, uint64(0), env.fl.TotalFree())
}

func TestAllocIgnoreFreelistExtendsFile(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", 0, nil)
	assert.NoError(t, err)
	defer env.Close()

	page, err := env.pm.Alloc(basic.PageTypeBIndex, nil, 0)
	assert.NoError(t, err)
	env.pm.Free(nil, page, 0)
	assert.NoError(t, env.pm.FlushAll(nil, 0))
	freedOffset := page.Self

	page2, err := env.pm.Alloc(basic.PageTypeFreelist, nil, basic.AllocIgnoreFreelist)
	assert.NoError(t, err)
	assert.NotEqual(t, freedOffset, page2.Self)
}

func TestInMemoryFetchPanics(t *testing.T) {
	env, err := Create("", "", basic.FlagInMemoryDB, nil)
	assert.NoError(t, err)
	defer env.Close()

	assert.Panics(t, func() { _, _ = env.pm.Fetch(nil, 4096, 0) })
}

func TestInMemoryAllocSelfReferential(t *testing.T) {
	env, err := Create("", "", basic.FlagInMemoryDB, nil)
	assert.NoError(t, err)
	defer env.Close()

	page, err := env.pm.Alloc(basic.PageTypeBRoot, nil, 0)
	assert.NoError(t, err)
	assert.True(t, page.InMemory)
	assert.NotEqual(t, uint64(0), page.Self)
	assert.True(t, env.cache.Has(page.Self))

	// in-memory pages never become dirty
	page.MarkDirty()
	assert.False(t, page.IsDirty())
}

func TestMmapEnvironmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	env, err := Create(dir, "env.xkv", basic.FlagUseMmap, nil)
	assert.NoError(t, err)

	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("m-%04d", i))
		assert.NoError(t, db.Insert(nil, key, key, 0))
	}
	assert.NoError(t, env.Close())

	env, err = Open(dir, "env.xkv", basic.FlagUseMmap, nil)
	assert.NoError(t, err)
	defer env.Close()
	db, err = env.OpenDB(1)
	assert.NoError(t, err)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("m-%04d", i))
		record, err := db.Find(nil, key)
		assert.NoError(t, err)
		assert.Equal(t, key, record)
	}
}

func TestWriteThroughFlushesOnPut(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", basic.FlagWriteThrough, nil)
	assert.NoError(t, err)
	defer env.Close()

	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(nil, []byte("k"), []byte("v"), 0))

	// write-through leaves no dirty pages behind
	dirty := 0
	env.cache.Range(func(p *buffer.Page) bool {
		if p.IsDirty() {
			dirty++
		}
		return true
	})
	assert.Equal(t, 0, dirty)
}
